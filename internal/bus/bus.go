// Package bus implements the streaming bus: a multi-consumer broadcast
// with bounded queues, a single completion token, and a text-chunk tee
// into an optional TTS side-channel. It follows a typical fan-out-hub
// idiom, generalized to distinguish drop_oldest and always_deliver
// back-pressure classes and to carry a reference-equality completion
// token instead of an ad-hoc bool.
package bus

import (
	"strconv"
	"strings"
	"sync"

	"github.com/iammarcin/streamgate/internal/completion"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
)

// Mode selects the fan-out destination for Send.
type Mode int

const (
	ModeAll Mode = iota
	ModeFrontendOnly
	ModeTTSOnly
)

// alwaysDeliverTypes never get dropped under back-pressure.
var alwaysDeliverTypes = map[event.Type]bool{
	event.TypeTextCompleted: true,
	event.TypeTTSCompleted: true,
	event.TypeError: true,
	event.TypeCancelled: true,
}

// Bus is the per-connection streaming fan-out structure. Its methods are
// meant to be serialized by the owning session runtime goroutine, matching
// the "bus is the only shared mutable per-connection state" policy;
// the internal mutex exists to make Send/SignalCompletion safe to call from
// the TTS orchestrator's own goroutines as well.
type Bus struct {
	sessionID string
	logger *logger.Logger
	metrics *Metrics

	minter *completion.Minter

	mu sync.RWMutex
	consumers map[string]*Consumer
	ttsQueue *TTSQueue
	nextID int
}

// New creates a bus for one session/connection.
func New(sessionID string, log *logger.Logger, metrics *Metrics) *Bus {
	b := &Bus{
		sessionID: sessionID,
		logger: log,
		metrics: metrics,
		minter: completion.NewMinter(),
		consumers: make(map[string]*Consumer),
	}
	if b.metrics != nil {
		b.metrics.BusesActive.Inc()
	}
	return b
}

// CreateToken returns the bus's single completion token.
func (b *Bus) CreateToken() *completion.Token {
	return b.minter.CreateToken()
}

// RegisterConsumer allocates a bounded queue and returns its ID and message
// channel. capacity <= 0 uses DefaultQueueCapacity.
func (b *Bus) RegisterConsumer(capacity int) (string, <-chan Message) {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	b.mu.Lock()
	b.nextID++
	id := consumerIDPrefix(b.sessionID, b.nextID)
	c := newConsumer(id, capacity)
	b.consumers[id] = c
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.ConsumersActive.Inc()
	}
	return id, c.Messages()
}

// UnregisterConsumer removes a consumer without delivering a terminal
// sentinel (used when a transport disconnects early; the bus itself is
// unaffected and other consumers keep receiving events).
func (b *Bus) UnregisterConsumer(id string) {
	b.mu.Lock()
	_, ok := b.consumers[id]
	delete(b.consumers, id)
	b.mu.Unlock()
	if ok && b.metrics != nil {
		b.metrics.ConsumersActive.Dec()
	}
}

// RegisterTTSQueue installs the text-chunk side-channel. Must be called
// before the first text chunk is sent, or that content is lost.
func (b *Bus) RegisterTTSQueue(capacity int) *TTSQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := newTTSQueue(capacity)
	b.mu.Lock()
	b.ttsQueue = q
	b.mu.Unlock()
	return q
}

// Send fans e out according to mode. text_chunk events sent with mode All
// or FrontendOnly are additionally teed into the TTS queue when registered
// and the content is non-whitespace. Per-consumer delivery order is
// preserved; cross-consumer order is not guaranteed.
func (b *Bus) Send(e event.Event, mode Mode) {
	if b.minter.Closed() {
		b.logger.Warn("bus: send after close, dropping", "session_id", b.sessionID, "type", string(e.Type))
		return
	}
	e = e.WithSession(b.sessionID)

	switch mode {
	case ModeTTSOnly:
		b.teeToTTS(e)
	case ModeFrontendOnly, ModeAll:
		b.fanOut(e)
		b.teeToTTS(e)
	}

	if b.metrics != nil {
		b.metrics.EventsSent.Inc()
	}
}

func (b *Bus) fanOut(e event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	always := alwaysDeliverTypes[e.Type]
	msg := Message{Event: e}
	for _, c := range b.consumers {
		c.deliver(msg, always)
	}
}

func (b *Bus) teeToTTS(e event.Event) {
	if e.Type != event.TypeTextChunk {
		return
	}
	b.mu.RLock()
	q := b.ttsQueue
	b.mu.RUnlock()
	if q == nil {
		return
	}
	content, _ := e.Data["content"].(string)
	if strings.TrimSpace(content) == "" {
		return
	}
	q.push(content)
}

// CloseTTSInput queues the EOS sentinel on the registered TTS queue,
// independent of the bus's own completion. The text workflow calls this the
// moment text generation itself finishes, so a buffered (non-duplex) TTS
// provider can start synthesis while the bus is still open to deliver its
// audio_chunk events — SignalCompletion closes every consumer immediately,
// so TTS audio must already be flowing before it fires. A no-op if no TTS
// queue was registered. Idempotent with the
// closeEOS call SignalCompletion makes on its own, as a defensive fallback
// for workflows that skip this call (e.g. on an early error path).
func (b *Bus) CloseTTSInput() {
	b.mu.RLock()
	q := b.ttsQueue
	b.mu.RUnlock()
	if q != nil {
		q.closeEOS()
	}
}

// SignalCompletion closes the bus under tok (see completion.Minter). On
// the first successful call it delivers the terminal sentinel to every
// consumer exactly once and the EOS sentinel to the TTS queue exactly
// once as a fallback in case CloseTTSInput was never called, then
// releases metrics. Subsequent calls, and calls with a mismatched token,
// are no-ops or ownership errors respectively and never reach this
// teardown path.
func (b *Bus) SignalCompletion(tok *completion.Token) error {
	firstClose, err := b.minter.SignalCompletion(tok)
	if err != nil {
		b.logger.Error("bus: completion ownership violation", "session_id", b.sessionID)
		if b.metrics != nil {
			b.metrics.OwnershipViolations.Inc()
		}
		return err
	}
	if !firstClose {
		return nil
	}

	b.mu.RLock()
	consumers := make([]*Consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		consumers = append(consumers, c)
	}
	q := b.ttsQueue
	b.mu.RUnlock()

	for _, c := range consumers {
		c.closeTerminal()
	}
	if q != nil {
		q.closeEOS()
	}
	if b.metrics != nil {
		b.metrics.BusesActive.Dec()
		b.metrics.ConsumersActive.Sub(float64(len(consumers)))
	}
	return nil
}

// Closed reports whether the bus has already completed.
func (b *Bus) Closed() bool {
	return b.minter.Closed()
}

func consumerIDPrefix(sessionID string, n int) string {
	return sessionID + ":consumer:" + strconv.Itoa(n)
}
