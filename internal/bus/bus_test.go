package bus

import (
	"strings"
	"testing"

	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	log := logger.New(logger.Config{Format: "text"})
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	return New("sess-1", log, metrics)
}

func TestRegisterConsumerReceivesInSendOrder(t *testing.T) {
	b := testBus(t)
	_, ch := b.RegisterConsumer(0)

	b.Send(event.New(event.TypeTextChunk, map[string]any{"content": "Hi"}), ModeAll)
	b.Send(event.New(event.TypeTextChunk, map[string]any{"content": " there."}), ModeAll)

	first := <-ch
	second := <-ch
	if first.Event.Data["content"] != "Hi" || second.Event.Data["content"] != " there." {
		t.Fatalf("events observed out of send order: %+v, %+v", first, second)
	}
}

func TestSignalCompletionDeliversTerminalSentinelOnce(t *testing.T) {
	b := testBus(t)
	_, ch := b.RegisterConsumer(0)
	tok := b.CreateToken()

	if err := b.SignalCompletion(tok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seenFinal := false
	for msg := range ch {
		if msg.Final {
			seenFinal = true
		}
	}
	if !seenFinal {
		t.Fatal("expected a terminal message before channel close")
	}
}

func TestSignalCompletionWrongTokenRejected(t *testing.T) {
	b := testBus(t)
	bogus := &struct{}{}
	_ = bogus

	real := b.CreateToken()
	other := New("sess-2", logger.New(logger.Config{}), nil).CreateToken()

	if err := b.SignalCompletion(other); err == nil {
		t.Fatal("expected ownership error for mismatched token")
	}
	if b.Closed() {
		t.Fatal("bus must not close on an ownership violation")
	}
	if err := b.SignalCompletion(real); err != nil {
		t.Fatalf("legitimate signal_completion should still succeed: %v", err)
	}
}

func TestSignalCompletionIsIdempotent(t *testing.T) {
	b := testBus(t)
	tok := b.CreateToken()

	if err := b.SignalCompletion(tok); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if err := b.SignalCompletion(tok); err != nil {
		t.Fatalf("repeated call with the same token must be a no-op, got error: %v", err)
	}
}

func TestTeeFidelityIgnoresWhitespaceOnlyChunks(t *testing.T) {
	b := testBus(t)
	q := b.RegisterTTSQueue(0)
	_, frontend := b.RegisterConsumer(0)

	b.Send(event.New(event.TypeTextChunk, map[string]any{"content": "Hi"}), ModeAll)
	b.Send(event.New(event.TypeTextChunk, map[string]any{"content": " "}), ModeAll)
	b.Send(event.New(event.TypeTextChunk, map[string]any{"content": " there."}), ModeAll)

	var seenFrontend []string
	for i := 0; i < 3; i++ {
		msg := <-frontend
		seenFrontend = append(seenFrontend, msg.Event.Data["content"].(string))
	}
	if strings.Join(seenFrontend, "") != "Hi there." {
		t.Fatalf("frontend must still see the whitespace chunk, got %v", seenFrontend)
	}

	item1 := <-q.Items()
	item2 := <-q.Items()
	if item1.Text != "Hi" || item2.Text != " there." {
		t.Fatalf("tts queue must skip the whitespace-only chunk, got %q, %q", item1.Text, item2.Text)
	}
}

func TestDropOldestEvictsOldestQueuedEntryUnderPressure(t *testing.T) {
	b := testBus(t)
	id, ch := b.RegisterConsumer(MinQueueCapacity)
	c := b.consumers[id]

	// Fill the queue past capacity with non-terminal events so every send
	// after the first MinQueueCapacity hits the full-queue path.
	for i := 0; i < MinQueueCapacity+1; i++ {
		c.deliver(Message{Event: event.New(event.TypeAudioChunk, map[string]any{"i": i})}, false)
	}

	first := <-ch
	if first.Event.Data["i"] == 0 {
		t.Fatal("oldest entry should have been evicted, not the newest admitted")
	}
	if first.Event.Data["i"] != 1 {
		t.Fatalf("expected the second-oldest entry to survive eviction, got %v", first.Event.Data["i"])
	}
}

func TestTTSQueueReceivesEOSExactlyOnceOnCompletion(t *testing.T) {
	b := testBus(t)
	q := b.RegisterTTSQueue(0)
	tok := b.CreateToken()

	if err := b.SignalCompletion(tok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	eosCount := 0
	for item := range q.Items() {
		if item.EOS {
			eosCount++
		}
	}
	if eosCount != 1 {
		t.Fatalf("expected exactly one EOS sentinel, got %d", eosCount)
	}
}
