// Package runtime holds the per-connection WorkflowRuntime: the
// level-triggered cancellation signal, the bounded inbound audio queue,
// and the single-active-task discipline. It is split out of
// both internal/session and internal/workflow so those two packages — which
// otherwise form a natural cycle (the session supervisor starts workflow
// tasks; the dispatcher polls the session's cancel signal) — can each
// depend on this instead of on one another.
package runtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/iammarcin/streamgate/internal/provider"
)

// ErrTaskAlreadyActive is returned by StartTask when a previous task was
// never cleared — a programming error, not a retryable condition.
var ErrTaskAlreadyActive = errors.New("runtime: workflow task already active")

// ToolResult is a client-submitted tool output, forwarded by the session
// supervisor to whichever workflow task is awaiting it.
type ToolResult struct {
	CallID string
	Output string
}

// Runtime is the per-connection mutable context threaded through one
// session's dispatcher and supervisor.
type Runtime struct {
	cancelOnce sync.Once
	cancelled atomic.Bool
	cancelCh chan struct{}

	audioQueue chan provider.AudioFrame
	audioOnce sync.Once

	toolResults chan ToolResult

	mu sync.Mutex
	taskActive bool
}

// New creates a runtime with a bounded audio ingest queue.
func New(audioQueueCapacity int) *Runtime {
	if audioQueueCapacity <= 0 {
		audioQueueCapacity = 32
	}
	return &Runtime{
		cancelCh: make(chan struct{}),
		audioQueue: make(chan provider.AudioFrame, audioQueueCapacity),
		toolResults: make(chan ToolResult, 8),
	}
}

// SubmitToolResult forwards a client-submitted tool result to the waiting
// workflow task. Non-blocking: a full queue (more results than any
// workflow could be awaiting) drops the result and reports false.
func (r *Runtime) SubmitToolResult(tr ToolResult) bool {
	select {
	case r.toolResults <- tr:
		return true
	default:
		return false
	}
}

// ToolResults returns the receive side of the tool-result queue.
func (r *Runtime) ToolResults() <-chan ToolResult {
	return r.toolResults
}

// Cancel sets the level-triggered cancel flag exactly once. Safe to call
// repeatedly and from multiple goroutines.
func (r *Runtime) Cancel() {
	r.cancelOnce.Do(func() {
		r.cancelled.Store(true)
		close(r.cancelCh)
	})
}

// Cancelled reports whether Cancel has been called. Every suspension point
// inside a workflow must poll this (or select on Done()) on resume.
func (r *Runtime) Cancelled() bool {
	return r.cancelled.Load()
}

// Done returns a channel closed when Cancel is called, for use in select
// statements at suspension points.
func (r *Runtime) Done() <-chan struct{} {
	return r.cancelCh
}

// StartTask marks a workflow task active. Returns ErrTaskAlreadyActive if
// one is already running: starting a new workflow task before the
// previous one is cleared is a programming error, not a retryable
// condition.
func (r *Runtime) StartTask() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taskActive {
		return ErrTaskAlreadyActive
	}
	r.taskActive = true
	return nil
}

// ClearTask marks the active workflow task finished, allowing a new one to
// start.
func (r *Runtime) ClearTask() {
	r.mu.Lock()
	r.taskActive = false
	r.mu.Unlock()
}

// TaskActive reports whether a workflow task is currently running.
func (r *Runtime) TaskActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taskActive
}

// PushAudioFrame enqueues an inbound audio frame for the audio/audio_direct
// workflows. Non-blocking: a full queue drops the frame and reports false,
// since audio frames are a steady stream and a momentary backlog is
// recoverable, unlike the terminal events the bus must always deliver.
func (r *Runtime) PushAudioFrame(frame provider.AudioFrame) bool {
	select {
	case r.audioQueue <- frame:
		return true
	default:
		return false
	}
}

// AudioFrames returns the receive side of the audio ingest queue.
func (r *Runtime) AudioFrames() <-chan provider.AudioFrame {
	return r.audioQueue
}

// CloseAudioQueue closes the audio queue exactly once, part of the
// supervisor's cleanup obligations on any exit path.
func (r *Runtime) CloseAudioQueue() {
	r.audioOnce.Do(func() {
		close(r.audioQueue)
	})
}
