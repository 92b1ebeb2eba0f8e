// Package workflow implements the workflow dispatcher: it normalizes the
// inbound request, selects one of the five workflows by request_type, and
// is the sole holder of the bus's completion token for the duration of
// the request. Request normalization and tool-call bookkeeping are
// generalized behind the provider package's capability interfaces instead
// of being specific to one wire format.
package workflow

import "github.com/iammarcin/streamgate/internal/provider"

// Type selects which workflow the dispatcher runs.
type Type string

const (
	TypeText Type = "text"
	TypeAudio Type = "audio"
	TypeAudioDirect Type = "audio_direct"
	TypeTTS Type = "tts"
	TypeRealtime Type = "realtime"
)

// PromptPart is one ordered element of a multi-part prompt.
type PromptPart struct {
	Text string
	ImageURL string
	FileURL string
}

// TTSSettings is the request's settings.tts section.
type TTSSettings struct {
	AutoExecute bool
	StreamingExplicit *bool // nil if unset; *false triggers the decision rule's second clause
	Voice string
	Model string
	Persist bool
}

// Enabled implements the decision rule.
func (s TTSSettings) Enabled() bool {
	explicitlyFalse := s.StreamingExplicit != nil && !*s.StreamingExplicit
	return s.AutoExecute && !explicitlyFalse
}

// Request is the normalized form of the client's initial payload. Unknown
// top-level keys are rejected by the transport before a Request is
// constructed; unknown settings keys are ignored.
type Request struct {
	Type Type
	CustomerID string
	SessionID string
	Prompt string
	Parts []PromptPart

	ModelAlias string
	TextSettings provider.TextSettings
	TTS TTSSettings

	// ClientMessageID, when set, makes append_message idempotent on
	// (session_id, client_supplied_id).
	ClientMessageID string
}
