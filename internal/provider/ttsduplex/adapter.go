// Package ttsduplex is a reference streaming-input TTS adapter: it opens a
// duplex WebSocket to a synthesis provider, writes text fragments as they
// arrive, and reads back base64 audio frames concurrently. Grounded
// directly on the example corpus's ElevenLabs-style duplex adapter
// (send/receive goroutines, sync.Once-guarded close, an explicit
// end-of-input marker written as an empty-text message).
package ttsduplex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/iammarcin/streamgate/internal/provider"
	"golang.org/x/sync/errgroup"
)

// Config configures the duplex TTS endpoint.
type Config struct {
	WSBaseURL string
	APIKey string
	Name string
	Voices []string
}

// Adapter is a provider.StreamingTTSProvider backed by a duplex WebSocket.
type Adapter struct {
	cfg Config
}

// New creates an adapter with sane defaults for an unset WSBaseURL.
func New(cfg Config) *Adapter {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://tts.example.invalid"
	}
	return &Adapter{cfg: cfg}
}

// Capabilities implements provider.TTSProvider.
func (a *Adapter) Capabilities() provider.TTSCapabilities {
	return provider.TTSCapabilities{SupportsInputStream: true, AudioFormat: "pcm_24000", VoiceSet: a.cfg.Voices}
}

// StreamBuffered implements the mandatory buffered path by driving the
// duplex session with a single text fragment followed by immediate EOS.
func (a *Adapter) StreamBuffered(ctx context.Context, text string, settings provider.TTSSettings) (<-chan provider.AudioChunk, <-chan error) {
	textIn := make(chan string, 1)
	textIn <- text
	close(textIn)
	return a.StreamFromTextQueue(ctx, textIn, settings)
}

// StreamFromTextQueue implements provider.StreamingTTSProvider.
func (a *Adapter) StreamFromTextQueue(ctx context.Context, textIn <-chan string, settings provider.TTSSettings) (<-chan provider.AudioChunk, <-chan error) {
	out := make(chan provider.AudioChunk, 32)
	errs := make(chan error, 1)

	u, err := url.Parse(strings.TrimRight(a.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(settings.Voice) + "/stream-input")
	if err != nil {
		close(out)
		errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeInvalidRequest, err)
		close(errs)
		return out, errs
	}
	q := u.Query()
	q.Set("model_id", settings.Model)
	u.RawQuery = q.Encode()

	header := make(map[string][]string)
	header["xi-api-key"] = []string{a.cfg.APIKey}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		close(out)
		errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeUnavailable, err)
		close(errs)
		return out, errs
	}

	s := &duplexSession{conn: conn, out: out, providerName: a.cfg.Name}

	// The two subtasks are grouped so a failure in either cancels the
	// other (via conn.Close unblocking the in-flight read/write) instead
	// of leaking a goroutine; only this goroutine closes out/errs, so a
	// send can never race a close.
	go func() {
		defer close(out)
		defer close(errs)
		g := new(errgroup.Group)
		g.Go(func() error { return s.readLoop() })
		g.Go(func() error { return s.writeLoop(ctx, textIn) })
		if err := g.Wait(); err != nil {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeUnavailable, err)
		}
	}()

	return out, errs
}

type wireMessage struct {
	Text string `json:"text"`
}

type wireResponse struct {
	Audio string `json:"audio"`
	IsFinal bool `json:"is_final"`
	Error string `json:"error"`
}

type duplexSession struct {
	conn *websocket.Conn
	out chan provider.AudioChunk
	providerName string

	writeMu sync.Mutex
	closeOnce sync.Once
}

func (s *duplexSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *duplexSession) writeLoop(ctx context.Context, textIn <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			s.safeClose()
			return ctx.Err()
		case text, ok := <-textIn:
			if !ok {
				// Side-channel EOS: the provider's own end-of-input token
				// is an empty-text message, distinct from the bus's EOS
				// sentinel that triggered this loop to observe textIn close.
				return s.writeJSON(wireMessage{Text: ""})
			}
			if err := s.writeJSON(wireMessage{Text: text}); err != nil {
				s.safeClose()
				return err
			}
		}
	}
}

func (s *duplexSession) readLoop() error {
	defer s.safeClose()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil // normal close once the final audio frame has been read
		}
		var resp wireResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return errString(resp.Error)
		}
		if resp.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				s.out <- provider.AudioChunk{Data: raw}
			}
		}
		if resp.IsFinal {
			s.out <- provider.AudioChunk{Final: true}
			return nil
		}
	}
}

func (s *duplexSession) safeClose() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

type errString string

func (e errString) Error() string { return string(e) }
