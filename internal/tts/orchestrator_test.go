package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/iammarcin/streamgate/internal/provider"
	"github.com/prometheus/client_golang/prometheus"
)

func testBus(t *testing.T) *bus.Bus {
	t.Helper()
	log := logger.New(logger.Config{Format: "text"})
	reg := prometheus.NewRegistry()
	return bus.New("sess-1", log, bus.NewMetrics(reg))
}

type fakeBufferedProvider struct {
	chunks []string
	failErr error
}

func (f *fakeBufferedProvider) Capabilities() provider.TTSCapabilities {
	return provider.TTSCapabilities{SupportsInputStream: false, AudioFormat: "mp3"}
}

func (f *fakeBufferedProvider) StreamBuffered(ctx context.Context, text string, settings provider.TTSSettings) (<-chan provider.AudioChunk, <-chan error) {
	out := make(chan provider.AudioChunk, len(f.chunks)+1)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		if f.failErr != nil {
			errs <- f.failErr
			return
		}
		for _, c := range f.chunks {
			out <- provider.AudioChunk{Data: []byte(c)}
		}
		out <- provider.AudioChunk{Final: true}
	}()
	return out, errs
}

func TestOrchestratorBufferedHappyPathEmitsLifecycleEvents(t *testing.T) {
	b := testBus(t)
	_, consumer := b.RegisterConsumer(0)
	q := b.RegisterTTSQueue(0)

	go func() {
		b.Send(event.New(event.TypeTextChunk, map[string]any{"content": "hello"}), bus.ModeTTSOnly)
		b.CloseTTSInput()
	}()

	prov := &fakeBufferedProvider{chunks: []string{"aa", "bb"}}
	orch := New(b, prov, nil, logger.New(logger.Config{}))

	result := orch.Run(context.Background(), q, provider.TTSSettings{Voice: "v1", Model: "m1"}, false)
	if result.Failed {
		t.Fatal("expected success, got Failed=true")
	}
	if result.AudioChunkCount != 2 {
		t.Errorf("got AudioChunkCount=%d, want 2", result.AudioChunkCount)
	}

	var seen []event.Type
	for i := 0; i < 4; i++ {
		msg := <-consumer
		seen = append(seen, msg.Event.Type)
	}
	want := []event.Type{event.TypeTTSStarted, event.TypeAudioChunk, event.TypeAudioChunk, event.TypeTTSGenerationDone}
	for i, w := range want {
		if seen[i] != w {
			t.Fatalf("event %d: got %s, want %s (full sequence %v)", i, seen[i], w, seen)
		}
	}
}

func TestOrchestratorProviderErrorStillEmitsTTSCompleted(t *testing.T) {
	b := testBus(t)
	_, consumer := b.RegisterConsumer(0)
	q := b.RegisterTTSQueue(0)

	go func() {
		<-q.Items()
		b.CloseTTSInput()
	}()

	prov := &fakeBufferedProvider{failErr: errors.New("upstream exploded")}
	orch := New(b, prov, nil, logger.New(logger.Config{}))

	result := orch.Run(context.Background(), q, provider.TTSSettings{}, false)
	if !result.Failed {
		t.Fatal("expected Failed=true on provider error")
	}

	sawCompleted := false
	for i := 0; i < 4; i++ {
		msg, ok := <-consumer
		if !ok {
			break
		}
		if msg.Event.Type == event.TypeTTSCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatal("tts_completed must be emitted unconditionally even after a provider error")
	}
}
