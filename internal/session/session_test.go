package session

import (
	"context"
	"testing"
	"time"

	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/iammarcin/streamgate/internal/provider"
	"github.com/iammarcin/streamgate/internal/runtime"
	"github.com/iammarcin/streamgate/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

func testSession(t *testing.T, resolve ProviderResolver) *Session {
	t.Helper()
	log := logger.New(logger.Config{Format: "text"})
	reg := prometheus.NewRegistry()
	return New(Config{
		ID: "sess-test",
		Log: log,
		Metrics: bus.NewMetrics(reg),
		Resolve: resolve,
	})
}

type fakeTextProvider struct{}

func (fakeTextProvider) Capabilities() provider.TextCapabilities { return provider.TextCapabilities{} }
func (fakeTextProvider) Stream(ctx context.Context, prompt string, history []provider.Message, settings provider.TextSettings) (<-chan provider.TextDelta, <-chan error) {
	// Never delivers a delta, so the workflow stays in progress until the
	// session's Close cancels it.
	out := make(chan provider.TextDelta)
	errs := make(chan error)
	return out, errs
}

func TestStartWorkflowRejectsSecondConcurrentTask(t *testing.T) {
	s := testSession(t, func(alias string) (workflow.Providers, provider.ModelConfig, error) {
		return workflow.Providers{Text: fakeTextProvider{}}, provider.ModelConfig{Alias: alias}, nil
	})
	defer s.Close()

	if err := s.StartWorkflow(context.Background(), workflow.Request{Type: workflow.TypeText}); err != nil {
		t.Fatalf("first StartWorkflow: %v", err)
	}

	// StartWorkflow marks the task active before it returns; the fake
	// provider keeps the workflow running, so the task is still active for
	// the second start.
	deadline := time.Now().Add(time.Second)
	for !s.TaskActive() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := s.StartWorkflow(context.Background(), workflow.Request{Type: workflow.TypeText}); err != runtime.ErrTaskAlreadyActive {
		t.Fatalf("expected ErrTaskAlreadyActive, got %v", err)
	}
}

func TestCloseUnblocksActiveWorkflow(t *testing.T) {
	s := testSession(t, func(alias string) (workflow.Providers, provider.ModelConfig, error) {
		return workflow.Providers{}, provider.ModelConfig{}, nil // every workflow type no-ops and completes immediately
	})

	if err := s.StartWorkflow(context.Background(), workflow.Request{Type: workflow.TypeText}); err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return; workflow goroutine leaked")
	}
}

func TestResolveErrorEmitsEventAndClearsTask(t *testing.T) {
	s := testSession(t, func(alias string) (workflow.Providers, provider.ModelConfig, error) {
		return workflow.Providers{}, provider.ModelConfig{}, errTestResolve
	})
	defer s.Close()

	if err := s.StartWorkflow(context.Background(), workflow.Request{Type: workflow.TypeText}); err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	if s.TaskActive() {
		t.Fatal("task should not remain active after a resolve error")
	}

	msg := <-s.Events()
	if msg.Event.Type != event.TypeError {
		t.Fatalf("got event type %s, want error", msg.Event.Type)
	}
}

var errTestResolve = &resolveError{"model not found"}

type resolveError struct{ msg string }

func (e *resolveError) Error() string { return e.msg }
