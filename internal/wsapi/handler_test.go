package wsapi

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/iammarcin/streamgate/internal/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testContext(target string) *gin.Context {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", target, nil)
	return c
}

func TestRequestTypeQueryParamWins(t *testing.T) {
	c := testContext("/ws?request_type=tts")
	c.Request.Header.Set("X-Request-Type", "audio")
	if got := requestType(c, "text"); got != workflow.TypeTTS {
		t.Fatalf("got %q, want tts", got)
	}
}

func TestRequestTypeHeaderBeatsPayload(t *testing.T) {
	c := testContext("/ws")
	c.Request.Header.Set("X-Request-Type", "audio")
	if got := requestType(c, "text"); got != workflow.TypeAudio {
		t.Fatalf("got %q, want audio", got)
	}
}

func TestRequestTypeFallsBackToPayload(t *testing.T) {
	c := testContext("/ws")
	if got := requestType(c, "realtime"); got != workflow.TypeRealtime {
		t.Fatalf("got %q, want realtime", got)
	}
}

func TestToWorkflowRequestFillsCustomerIDFromUser(t *testing.T) {
	c := testContext("/ws")
	in := inboundMessage{Prompt: "hi", ModelAlias: "gpt-4.1"}
	req := toWorkflowRequest(c, in, "user-42")
	if req.CustomerID != "user-42" {
		t.Fatalf("got customer_id %q, want user-42", req.CustomerID)
	}
	if req.Type != workflow.Type("") {
		t.Fatalf("got type %q, want empty (no request_type was supplied on the envelope or the handshake)", req.Type)
	}
	if req.ModelAlias != "gpt-4.1" {
		t.Fatalf("got model alias %q, want gpt-4.1", req.ModelAlias)
	}
}

func TestFirstNonEmptyPrefersFirstArg(t *testing.T) {
	if got := firstNonEmpty("explicit", "fallback"); got != "explicit" {
		t.Fatalf("got %q, want explicit", got)
	}
	if got := firstNonEmpty("", "fallback"); got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}
}
