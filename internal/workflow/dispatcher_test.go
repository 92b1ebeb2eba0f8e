package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/iammarcin/streamgate/internal/provider"
	"github.com/iammarcin/streamgate/internal/runtime"
	"github.com/prometheus/client_golang/prometheus"
)

func testDispatcher(t *testing.T) (*Dispatcher, *bus.Bus, <-chan bus.Message, *runtime.Runtime) {
	t.Helper()
	log := logger.New(logger.Config{Format: "text"})
	reg := prometheus.NewRegistry()
	b := bus.New("sess-1", log, bus.NewMetrics(reg))
	_, consumer := b.RegisterConsumer(0)
	rt := runtime.New(0)
	d := New(b, rt, nil, log)
	return d, b, consumer, rt
}

func drainEvents(consumer <-chan bus.Message, timeout time.Duration) []event.Type {
	var seen []event.Type
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-consumer:
			if !ok {
				return seen
			}
			seen = append(seen, msg.Event.Type)
		case <-deadline:
			return seen
		}
	}
}

func containsType(seen []event.Type, want event.Type) bool {
	for _, t := range seen {
		if t == want {
			return true
		}
	}
	return false
}

type fakeTextProvider struct {
	content string
}

func (f fakeTextProvider) Capabilities() provider.TextCapabilities {
	return provider.TextCapabilities{SupportsStreaming: true}
}

func (f fakeTextProvider) Stream(ctx context.Context, prompt string, history []provider.Message, settings provider.TextSettings) (<-chan provider.TextDelta, <-chan error) {
	out := make(chan provider.TextDelta, 2)
	errs := make(chan error)
	out <- provider.TextDelta{Content: f.content}
	out <- provider.TextDelta{Done: true}
	close(out)
	close(errs)
	return out, errs
}

type erroringTextProvider struct{ err error }

func (e erroringTextProvider) Capabilities() provider.TextCapabilities { return provider.TextCapabilities{} }

func (e erroringTextProvider) Stream(ctx context.Context, prompt string, history []provider.Message, settings provider.TextSettings) (<-chan provider.TextDelta, <-chan error) {
	out := make(chan provider.TextDelta)
	errs := make(chan error, 1)
	errs <- e.err
	close(out)
	close(errs)
	return out, errs
}

func TestRunTextHappyPathEmitsCompletionAndTTSNotRequested(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	prov := Providers{Text: fakeTextProvider{content: "hello"}}

	d.runText(context.Background(), Request{Prompt: "hi"}, prov)
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeTextCompleted) {
		t.Fatalf("expected text_completed, got %v", seen)
	}
	if !containsType(seen, event.TypeTTSNotRequested) {
		t.Fatalf("expected tts_not_requested when tts disabled, got %v", seen)
	}
}

func TestRunTextProviderErrorEmitsErrorAndTextNotRequested(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	prov := Providers{Text: erroringTextProvider{err: errors.New("upstream down")}}

	d.runText(context.Background(), Request{Prompt: "hi"}, prov)
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeError) {
		t.Fatalf("expected error event, got %v", seen)
	}
	if containsType(seen, event.TypeTextCompleted) {
		t.Fatalf("text_completed must not fire after a provider error, got %v", seen)
	}
}

func TestRunTextNilProviderMarksTextNotRequested(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	d.runText(context.Background(), Request{Prompt: "hi"}, Providers{})
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeTextNotRequested) {
		t.Fatalf("expected text_not_requested with no text provider, got %v", seen)
	}
}

type fakeTTSProvider struct {
	chunks []string
}

func (f *fakeTTSProvider) Capabilities() provider.TTSCapabilities {
	return provider.TTSCapabilities{SupportsInputStream: false, AudioFormat: "mp3"}
}

func (f *fakeTTSProvider) StreamBuffered(ctx context.Context, text string, settings provider.TTSSettings) (<-chan provider.AudioChunk, <-chan error) {
	out := make(chan provider.AudioChunk, len(f.chunks)+1)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, c := range f.chunks {
			out <- provider.AudioChunk{Data: []byte(c)}
		}
		out <- provider.AudioChunk{Final: true}
	}()
	return out, errs
}

func TestRunTextWithTTSEnabledDrivesOrchestratorConcurrently(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	prov := Providers{
		Text: fakeTextProvider{content: "hello world"},
		TTS: &fakeTTSProvider{chunks: []string{"aa"}},
	}
	req := Request{
		Prompt: "hi",
		TTS: TTSSettings{AutoExecute: true},
	}

	d.runText(context.Background(), req, prov)
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeTextCompleted) {
		t.Fatalf("expected text_completed, got %v", seen)
	}
	if !containsType(seen, event.TypeTTSCompleted) {
		t.Fatalf("expected tts_completed when tts enabled, got %v", seen)
	}
	if containsType(seen, event.TypeTTSNotRequested) {
		t.Fatalf("tts_not_requested must not fire when tts is enabled, got %v", seen)
	}
}

func TestRunTTSOnlySkipsTextGeneration(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	prov := Providers{TTS: &fakeTTSProvider{chunks: []string{"aa", "bb"}}}

	d.runTTSOnly(context.Background(), Request{Prompt: "read this aloud"}, prov)
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeTextNotRequested) {
		t.Fatalf("expected text_not_requested, got %v", seen)
	}
	if !containsType(seen, event.TypeTTSCompleted) {
		t.Fatalf("expected tts_completed, got %v", seen)
	}
	if containsType(seen, event.TypeTextCompleted) {
		t.Fatalf("text_completed must never fire on the tts-only workflow, got %v", seen)
	}
}

func TestRunTTSOnlyNilProviderMarksTTSNotRequested(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	d.runTTSOnly(context.Background(), Request{Prompt: "x"}, Providers{})
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeTTSNotRequested) {
		t.Fatalf("expected tts_not_requested with no tts provider, got %v", seen)
	}
}

type fakeSTTProvider struct {
	partials []provider.TranscriptPartial
	final string
	finalErr error
}

func (f *fakeSTTProvider) TranscribeStream(ctx context.Context, frames <-chan provider.AudioFrame) (<-chan provider.TranscriptPartial, <-chan error) {
	out := make(chan provider.TranscriptPartial, len(f.partials))
	errs := make(chan error)
	go func() {
		defer close(out)
		defer close(errs)
		for _, p := range f.partials {
			out <- p
		}
	}()
	return out, errs
}

func (f *fakeSTTProvider) Finalize(ctx context.Context) (string, error) {
	return f.final, f.finalErr
}

func TestRunAudioTranscribesThenRunsTextPipeline(t *testing.T) {
	d, _, consumer, rt := testDispatcher(t)
	prov := Providers{
		STT: &fakeSTTProvider{
			partials: []provider.TranscriptPartial{{Text: "hel", Final: false}},
			final: "hello there",
		},
		Text: fakeTextProvider{content: "reply"},
	}

	done := make(chan struct{})
	go func() {
		d.runAudio(context.Background(), Request{}, prov)
		d.finish(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		rt.Cancel()
		t.Fatal("runAudio did not return")
	}

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeTranscriptionDone) {
		t.Fatalf("expected transcription_complete, got %v", seen)
	}
	if !containsType(seen, event.TypeTextCompleted) {
		t.Fatalf("expected audio to hand off into the text pipeline, got %v", seen)
	}
}

func TestRunAudioNilProviderEmitsErrorAndBothNotRequested(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	d.runAudio(context.Background(), Request{}, Providers{})
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeError) {
		t.Fatalf("expected error with no stt provider, got %v", seen)
	}
	if !containsType(seen, event.TypeTextNotRequested) || !containsType(seen, event.TypeTTSNotRequested) {
		t.Fatalf("expected both dual-flag terminals, got %v", seen)
	}
}

type fakeMultimodalProvider struct {
	fakeTextProvider
}

func (f fakeMultimodalProvider) StreamWithAudio(ctx context.Context, frames <-chan provider.AudioFrame, history []provider.Message, settings provider.TextSettings) (<-chan provider.TextDelta, <-chan error) {
	out := make(chan provider.TextDelta, 2)
	errs := make(chan error)
	out <- provider.TextDelta{Content: f.content}
	out <- provider.TextDelta{Done: true}
	close(out)
	close(errs)
	return out, errs
}

func TestRunAudioDirectSkipsSTTAndStreamsMultimodal(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	prov := Providers{Multimodal: fakeMultimodalProvider{fakeTextProvider{content: "direct reply"}}}

	d.runAudioDirect(context.Background(), Request{}, prov)
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeTextCompleted) {
		t.Fatalf("expected text_completed, got %v", seen)
	}
	if !containsType(seen, event.TypeTTSNotRequested) {
		t.Fatalf("expected tts_not_requested with no tts enabled, got %v", seen)
	}
}

func TestRunAudioDirectNilProviderEmitsError(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	d.runAudioDirect(context.Background(), Request{}, Providers{})
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeError) {
		t.Fatalf("expected error with no multimodal provider, got %v", seen)
	}
}

type fakeRealtimeSession struct {
	events chan provider.RealtimeEvent
	closed chan struct{}
}

func (f *fakeRealtimeSession) Send(ctx context.Context, frame provider.AudioFrame) error { return nil }
func (f *fakeRealtimeSession) Events() <-chan provider.RealtimeEvent                     { return f.events }
func (f *fakeRealtimeSession) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

type fakeRealtimeProvider struct {
	session *fakeRealtimeSession
}

func (f *fakeRealtimeProvider) OpenRealtime(ctx context.Context) (provider.RealtimeSession, error) {
	return f.session, nil
}

func TestRunRealtimeForwardsProviderEvents(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	sess := &fakeRealtimeSession{events: make(chan provider.RealtimeEvent, 1), closed: make(chan struct{})}
	sess.events <- provider.RealtimeEvent{Type: "turn.started", Data: map[string]any{"x": 1}}
	close(sess.events)

	prov := Providers{Realtime: &fakeRealtimeProvider{session: sess}}

	done := make(chan struct{})
	go func() {
		d.runRealtime(context.Background(), Request{}, prov)
		d.finish(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runRealtime did not return after provider event channel closed")
	}

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeCustomEvent) {
		t.Fatalf("expected custom_event forwarding turn.started, got %v", seen)
	}
	if !containsType(seen, event.TypeTextNotRequested) || !containsType(seen, event.TypeTTSNotRequested) {
		t.Fatalf("realtime workflow must still complete the dual-flag contract, got %v", seen)
	}
}

func TestRunRealtimeNilProviderEmitsError(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	d.runRealtime(context.Background(), Request{}, Providers{})
	d.finish(context.Background())

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeError) {
		t.Fatalf("expected error with no realtime provider, got %v", seen)
	}
}

func TestDispatchUnknownRequestTypeReturnsError(t *testing.T) {
	d, _, consumer, _ := testDispatcher(t)
	err := d.Dispatch(context.Background(), Request{Type: Type("bogus")}, Providers{})
	if err == nil {
		t.Fatal("expected an error for an unknown request type")
	}

	seen := drainEvents(consumer, time.Second)
	if !containsType(seen, event.TypeError) {
		t.Fatalf("expected error event, got %v", seen)
	}
}
