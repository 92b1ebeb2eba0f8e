// Package event defines the wire-level event envelope emitted by the
// streaming bus and consumed by every transport adapter (WebSocket, SSE,
// HTTP collector).
package event

import "time"

// Type is a snake_case event discriminant. No camelCase aliases exist.
type Type string

const (
	TypeWebsocketReady Type = "websocket_ready"
	TypeWorking Type = "working"
	TypeTextChunk Type = "text_chunk"
	TypeThinkingChunk Type = "thinking_chunk"
	TypeToolStart Type = "tool_start"
	TypeToolResult Type = "tool_result"
	TypeTextCompleted Type = "text_completed"
	TypeTextNotRequested Type = "text_not_requested"
	TypeTTSStarted Type = "tts_started"
	TypeAudioChunk Type = "audio_chunk"
	TypeTTSGenerationDone Type = "tts_generation_completed"
	TypeTTSCompleted Type = "tts_completed"
	TypeTTSNotRequested Type = "tts_not_requested"
	TypeTTSFileUploaded Type = "tts_file_uploaded"
	TypeTranscription Type = "transcription"
	TypeTranscriptionDone Type = "transcription_complete"
	TypeDBOperationExecuted Type = "db_operation_executed"
	TypeCancelled Type = "cancelled"
	TypeError Type = "error"
	TypePing Type = "ping"
	TypePong Type = "pong"
	TypeCustomEvent Type = "custom_event"
)

// registered holds every discriminant serialize() is allowed to emit.
// serialize fails only if the event's Type is absent from this set.
var registered = map[Type]bool{
	TypeWebsocketReady: true,
	TypeWorking: true,
	TypeTextChunk: true,
	TypeThinkingChunk: true,
	TypeToolStart: true,
	TypeToolResult: true,
	TypeTextCompleted: true,
	TypeTextNotRequested: true,
	TypeTTSStarted: true,
	TypeAudioChunk: true,
	TypeTTSGenerationDone: true,
	TypeTTSCompleted: true,
	TypeTTSNotRequested: true,
	TypeTTSFileUploaded: true,
	TypeTranscription: true,
	TypeTranscriptionDone: true,
	TypeDBOperationExecuted: true,
	TypeCancelled: true,
	TypeError: true,
	TypePing: true,
	TypePong: true,
	TypeCustomEvent: true,
}

// IsRegistered reports whether t is a known top-level discriminant.
func IsRegistered(t Type) bool {
	return registered[t]
}

// Event is the tagged record carried across the bus. Data holds the
// type-specific payload; it is sanitized before serialization so arbitrary
// producer objects (provider SDK structs, timestamps, decimals) never break
// JSON encoding.
type Event struct {
	Type Type `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Stage string `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Provider string `json:"provider,omitempty"`
	Model string `json:"model,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with the current time.
func New(t Type, data map[string]any) Event {
	return Event{Type: t, Timestamp: time.Now(), Data: sanitizeMap(data)}
}

// WithSession returns a copy of e carrying sessionID.
func (e Event) WithSession(sessionID string) Event {
	e.SessionID = sessionID
	return e
}

// WithStage returns a copy of e carrying stage (used by error/persistence events).
func (e Event) WithStage(stage string) Event {
	e.Stage = stage
	return e
}

// WithProviderModel returns a copy of e carrying provider/model metadata.
func (e Event) WithProviderModel(provider, model string) Event {
	e.Provider = provider
	e.Model = model
	return e
}

// Custom builds a custom_event envelope carrying an opaque event_type. The
// core never switches on eventType except to emit its own "tts_error"; all
// other sub-types are producer-defined and forwarded verbatim.
func Custom(eventType string, data map[string]any) Event {
	payload := sanitizeMap(data)
	if payload == nil {
		payload = map[string]any{}
	}
	payload["event_type"] = eventType
	return Event{Type: TypeCustomEvent, Timestamp: time.Now(), Data: payload}
}

// Error builds a standard error event for the given stage and message.
func Error(stage, message string) Event {
	return New(TypeError, map[string]any{"message": message}).WithStage(stage)
}
