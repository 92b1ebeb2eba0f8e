package httpapi

import (
	"testing"

	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/workflow"
)

func TestToWorkflowRequestDefaultsTypeToText(t *testing.T) {
	req := toWorkflowRequest(chatRequest{Prompt: "hi"}, "user-1")
	if req.Type != workflow.TypeText {
		t.Fatalf("got type %q, want %q", req.Type, workflow.TypeText)
	}
	if req.CustomerID != "user-1" {
		t.Fatalf("expected customer_id to fall back to the authenticated user, got %q", req.CustomerID)
	}
}

func TestToWorkflowRequestExplicitCustomerIDWins(t *testing.T) {
	req := toWorkflowRequest(chatRequest{RequestType: "tts", CustomerID: "explicit"}, "user-1")
	if req.CustomerID != "explicit" {
		t.Fatalf("got customer_id %q, want explicit", req.CustomerID)
	}
	if req.Type != workflow.TypeTTS {
		t.Fatalf("got type %q, want tts", req.Type)
	}
}

func TestCollectAssemblesTextAndStopsAtTerminal(t *testing.T) {
	ch := make(chan bus.Message, 4)
	ch <- bus.Message{Event: event.New(event.TypeTextChunk, map[string]any{"content": "hel"})}
	ch <- bus.Message{Event: event.New(event.TypeTextChunk, map[string]any{"content": "lo"})}
	ch <- bus.Message{Final: true}
	close(ch)

	result := <-collect(ch)
	if result["text"] != "hello" {
		t.Fatalf("got text %q, want hello", result["text"])
	}
}
