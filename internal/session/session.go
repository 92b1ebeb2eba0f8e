// Package session implements the per-connection runtime supervisor: one
// Session per WebSocket (or SSE/HTTP) connection, owning the bus, the
// workflow runtime, and the race loop between inbound client messages and
// the single active workflow task. The subscriber-goroutine shape follows
// a typical fan-out hub, generalized from a per-chat broadcast to a
// per-connection request/response supervisor.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/iammarcin/streamgate/internal/apierr"
	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/iammarcin/streamgate/internal/persistence"
	"github.com/iammarcin/streamgate/internal/provider"
	"github.com/iammarcin/streamgate/internal/runtime"
	"github.com/iammarcin/streamgate/internal/workflow"
)

// ProviderResolver resolves a model alias to the provider adapters a
// workflow needs, plus the model's resolved config (used to stamp the
// canonical model name onto the request before it reaches an adapter).
// The session never talks to a provider registry's internals directly;
// it only ever sees the capability interfaces.
type ProviderResolver func(modelAlias string) (workflow.Providers, provider.ModelConfig, error)

// Session is the per-connection supervisor. It is safe to use from exactly
// one goroutine for InboundRequest/SubmitToolResult/PushAudioFrame/Cancel —
// those are expected to be called from the transport's own read loop — but
// Events() is safe to range over concurrently from a writer goroutine.
type Session struct {
	id string
	bus *bus.Bus
	rt *runtime.Runtime
	store *persistence.Store
	log *logger.Logger
	resolve ProviderResolver
	consumer string
	events <-chan bus.Message

	wg sync.WaitGroup
}

// Config bundles the session's collaborators.
type Config struct {
	ID string
	Store *persistence.Store
	Log *logger.Logger
	Metrics *bus.Metrics
	Resolve ProviderResolver
	QueueCapacity int
	AudioQueueSize int
}

// New creates a session: its bus, its single frontend consumer, and its
// workflow runtime.
func New(cfg Config) *Session {
	b := bus.New(cfg.ID, cfg.Log, cfg.Metrics)
	_, ch := b.RegisterConsumer(cfg.QueueCapacity)
	return &Session{
		id: cfg.ID,
		bus: b,
		rt: runtime.New(cfg.AudioQueueSize),
		store: cfg.Store,
		log: cfg.Log,
		resolve: cfg.Resolve,
		events: ch,
	}
}

// Events returns the session's frontend event stream, to be drained by the
// transport's writer loop (: one consumer per connection).
func (s *Session) Events() <-chan bus.Message {
	return s.events
}

// StartWorkflow begins a new workflow task for req against the resolved
// provider set, enforcing that exactly one workflow task is active per
// session. Returns runtime.ErrTaskAlreadyActive if a previous task has
// not yet cleared.
func (s *Session) StartWorkflow(ctx context.Context, req workflow.Request) error {
	if err := s.rt.StartTask(); err != nil {
		return err
	}

	prov, cfg, err := s.resolve(req.ModelAlias)
	if err != nil {
		s.rt.ClearTask()
		s.bus.Send(event.New(event.TypeError, map[string]any{"message": err.Error()}).WithStage("routing"), bus.ModeAll)
		return nil
	}
	if req.TextSettings.Model == "" {
		req.TextSettings.Model = cfg.Alias
	}

	d := workflow.New(s.bus, s.rt, s.store, s.log)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.rt.ClearTask()
		if err := d.Dispatch(ctx, req, prov); err != nil {
			s.log.Error("workflow dispatch refused request", slog.String("session_id", s.id), slog.String("error", err.Error()))
		}
	}()
	return nil
}

// EmitValidationError reports a request rejected before any workflow task
// or persistence write started — an empty prompt, an unrecognized payload
// shape — as a validation error event, bypassing the dispatcher entirely
// so no session row is ever created for it.
func (s *Session) EmitValidationError(message string) {
	s.bus.Send(apierr.ToEvent(apierr.KindValidation, "validation", message), bus.ModeAll)
}

// FinishRecording closes the inbound audio queue, signalling an
// in-progress audio/audio_direct workflow that no further frames are
// coming without tearing down the rest of the connection. Idempotent and
// shared with the same one-shot close Session.Close uses at teardown.
func (s *Session) FinishRecording() {
	s.rt.CloseAudioQueue()
}

// SubmitToolResult forwards a client tool_result message to the active
// workflow task, if one is waiting on it.
func (s *Session) SubmitToolResult(callID, output string) bool {
	return s.rt.SubmitToolResult(runtime.ToolResult{CallID: callID, Output: output})
}

// PushAudioFrame forwards one inbound audio frame to the active workflow
// task's audio queue.
func (s *Session) PushAudioFrame(frame provider.AudioFrame) bool {
	return s.rt.PushAudioFrame(frame)
}

// TaskActive reports whether a workflow task is currently running (used
// by the transport to decide whether a new request would conflict with
// the active one before even calling StartWorkflow).
func (s *Session) TaskActive() bool {
	return s.rt.TaskActive()
}

// Cancel sets the level-triggered cancellation signal for the active
// workflow task.
func (s *Session) Cancel() {
	s.rt.Cancel()
}

// Close runs the supervisor's cleanup obligations : cancel any
// active task, close the audio queue so a blocked STT/multimodal read
// returns, and wait for the workflow goroutine to exit before the caller
// tears down the bus's consumers. Idempotent.
func (s *Session) Close() {
	s.rt.Cancel()
	s.rt.CloseAudioQueue()
	s.wg.Wait()
}

// ID returns the session identifier used as the bus's session_id.
func (s *Session) ID() string {
	return s.id
}
