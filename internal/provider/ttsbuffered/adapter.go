// Package ttsbuffered is a reference TTS adapter for providers that only
// expose a buffered synthesis call (SupportsInputStream=false), exercising
// the orchestrator's fallback path.
package ttsbuffered

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/iammarcin/streamgate/internal/provider"
)

// Config configures a simple request/response TTS HTTP endpoint.
type Config struct {
	BaseURL string
	APIKey string
	Name string
	Voices []string
}

// Adapter is a provider.TTSProvider with no streaming-input support.
type Adapter struct {
	cfg Config
	client *http.Client
}

// New creates an adapter. client defaults to http.DefaultClient if nil.
func New(cfg Config, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{cfg: cfg, client: client}
}

// Capabilities implements provider.TTSProvider.
func (a *Adapter) Capabilities() provider.TTSCapabilities {
	return provider.TTSCapabilities{SupportsInputStream: false, AudioFormat: "mp3_44100", VoiceSet: a.cfg.Voices}
}

type synthesizeRequest struct {
	Text string `json:"text"`
	Voice string `json:"voice"`
	Model string `json:"model"`
}

// StreamBuffered sends the entire text in one request and chunks the
// returned audio body into fixed-size frames so downstream consumers see
// the same AudioChunk shape a duplex provider would produce.
func (a *Adapter) StreamBuffered(ctx context.Context, text string, settings provider.TTSSettings) (<-chan provider.AudioChunk, <-chan error) {
	out := make(chan provider.AudioChunk, 8)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		body, err := json.Marshal(synthesizeRequest{Text: text, Voice: settings.Voice, Model: settings.Model})
		if err != nil {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeInvalidRequest, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/synthesize", bytes.NewReader(body))
		if err != nil {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeInvalidRequest, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

		resp, err := a.client.Do(req)
		if err != nil {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeUnavailable, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeUnavailable, fmt.Errorf("upstream status %d", resp.StatusCode))
			return
		}

		const frameSize = 32 * 1024
		buf := make([]byte, frameSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				out <- provider.AudioChunk{Data: frame}
			}
			if err == io.EOF {
				out <- provider.AudioChunk{Final: true}
				return
			}
			if err != nil {
				errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeUnavailable, err)
				return
			}
		}
	}()

	return out, errs
}
