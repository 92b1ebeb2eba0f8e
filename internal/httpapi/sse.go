// Package httpapi implements the plain-HTTP transport adapters: POST
// /chat (collected non-streaming response), POST /chat/stream (SSE), and
// POST /storage/upload (multipart blob upload).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/iammarcin/streamgate/internal/apierr"
	"github.com/iammarcin/streamgate/internal/auth"
	"github.com/iammarcin/streamgate/internal/bus"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/iammarcin/streamgate/internal/provider"
	"github.com/iammarcin/streamgate/internal/session"
	"github.com/iammarcin/streamgate/internal/workflow"
)

// Handlers bundles the gin.HandlerFuncs for the plain-HTTP surface.
type Handlers struct {
	newSession func(connID string) *session.Session
	blob provider.BlobStore
	log *logger.Logger
}

// New builds the HTTP handlers. blob may be nil, in which case
// /storage/upload always responds with a configuration error.
func New(newSession func(connID string) *session.Session, blob provider.BlobStore, log *logger.Logger) *Handlers {
	return &Handlers{newSession: newSession, blob: blob, log: log}
}

// chatRequest is the JSON body both /chat and /chat/stream accept.
type chatRequest struct {
	RequestType string `json:"request_type"`
	CustomerID string `json:"customer_id"`
	SessionID string `json:"session_id"`
	Prompt string `json:"prompt"`
	ModelAlias string `json:"model"`
	ClientMessageID string `json:"client_message_id"`
}

// decodeChatRequest rejects unrecognized top-level keys the same way the
// WebSocket transport does, rather than silently accepting them.
func decodeChatRequest(c *gin.Context) (chatRequest, error) {
	var body chatRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(&body)
	return body, err
}

func toWorkflowRequest(req chatRequest, userID string) workflow.Request {
	reqType := req.RequestType
	if reqType == "" {
		reqType = string(workflow.TypeText)
	}
	customerID := req.CustomerID
	if customerID == "" {
		customerID = userID
	}
	return workflow.Request{
		Type: workflow.Type(reqType),
		CustomerID: customerID,
		SessionID: req.SessionID,
		Prompt: req.Prompt,
		ModelAlias: req.ModelAlias,
		ClientMessageID: req.ClientMessageID,
	}
}

// Chat handles POST /chat: runs one workflow to completion and returns the
// assembled text/TTS-upload result as a single JSON document, for clients
// that don't want a streaming connection.
func (h *Handlers) Chat(c *gin.Context) {
	body, err := decodeChatRequest(c)
	if err != nil {
		apierr.AbortValidation(c, "invalid request body", gin.H{"detail": err.Error()})
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		apierr.AbortValidation(c, "prompt must not be empty", nil)
		return
	}

	userID, _ := auth.GetUserID(c)
	sess := h.newSession(connIDForHTTP(userID))
	defer sess.Close()

	result := collect(sess.Events())

	req := toWorkflowRequest(body, userID)
	if err := sess.StartWorkflow(c.Request.Context(), req); err != nil {
		apierr.Respond(c, apierr.KindCompletionOwnership, "a workflow is already running on this session", nil)
		return
	}

	c.JSON(http.StatusOK, <-result)
}

// ChatStream handles POST /chat/stream: relays every event on the session's
// bus to the client as an SSE frame until the terminal sentinel arrives.
func (h *Handlers) ChatStream(c *gin.Context) {
	body, err := decodeChatRequest(c)
	if err != nil {
		apierr.AbortValidation(c, "invalid request body", gin.H{"detail": err.Error()})
		return
	}

	userID, _ := auth.GetUserID(c)
	sess := h.newSession(connIDForHTTP(userID))
	defer sess.Close()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		apierr.AbortConfiguration(c, "streaming not supported by this response writer", nil)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if strings.TrimSpace(body.Prompt) == "" {
		frame, _ := event.SSEFrame(apierr.ToEvent(apierr.KindValidation, "validation", "prompt must not be empty"))
		c.Writer.Write(frame)
		flusher.Flush()
		return
	}

	req := toWorkflowRequest(body, userID)
	if err := sess.StartWorkflow(c.Request.Context(), req); err != nil {
		frame, _ := event.SSEFrame(apierr.ToEvent(apierr.KindCompletionOwnership, "dispatch", "a workflow is already running on this session"))
		c.Writer.Write(frame)
		flusher.Flush()
		return
	}

	for {
		select {
		case msg, ok := <-sess.Events():
			if !ok {
				return
			}
			if msg.Final {
				return
			}
			frame, err := event.SSEFrame(msg.Event)
			if err != nil {
				continue
			}
			if _, err := c.Writer.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func connIDForHTTP(userID string) string {
	return userID + ":" + uuid.NewString()
}

// collect drains a session's event stream into a flattened JSON-friendly
// result, used by the non-streaming /chat endpoint.
func collect(consumer <-chan bus.Message) <-chan gin.H {
	out := make(chan gin.H, 1)
	go func() {
		var text string
		var audioChunks int
		var uploadedURL string
		var lastError string

		for msg := range consumer {
			if msg.Final {
				break
			}
			switch msg.Event.Type {
			case event.TypeTextChunk:
				if v, ok := msg.Event.Data["content"].(string); ok {
					text += v
				}
			case event.TypeAudioChunk:
				audioChunks++
			case event.TypeTTSFileUploaded:
				if v, ok := msg.Event.Data["url"].(string); ok {
					uploadedURL = v
				}
			case event.TypeError:
				if v, ok := msg.Event.Data["message"].(string); ok {
					lastError = v
				}
			}
		}

		out <- gin.H{
			"text": text,
			"audio_chunks": audioChunks,
			"audio_url": uploadedURL,
			"error": lastError,
		}
	}()
	return out
}
