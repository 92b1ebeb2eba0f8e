// Package wsapi implements the WebSocket transport adapter: JWT handshake
// authentication, mode detection, keepalive ping/pong, and the read/write
// loops that bridge a connection to one internal/session.Session. The
// upgrade+auth+read-loop shape and the heartbeat-ticker/write-deadline
// discipline follow the same pattern as a typical gorilla/websocket hub.
package wsapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iammarcin/streamgate/internal/auth"
	"github.com/iammarcin/streamgate/internal/event"
	"github.com/iammarcin/streamgate/internal/logger"
	"github.com/iammarcin/streamgate/internal/provider"
	"github.com/iammarcin/streamgate/internal/session"
	"github.com/iammarcin/streamgate/internal/workflow"
)

const (
	writeWait = 10 * time.Second
	pongWait = 30 * time.Second
	pingPeriod = (pongWait * 8) / 10
	maxMissedPongs = 3
)

// Handler serves the WebSocket endpoint. One Handler instance is shared
// across connections; it holds no per-connection state.
type Handler struct {
	auth *auth.Middleware
	log *logger.Logger
	newSession func(connID string) *session.Session
	allowedOrigins map[string]bool
	upgrader websocket.Upgrader
}

// New builds a Handler. allowedOrigins of length 0, or containing "*",
// allows every origin by default; operators narrow via CORS_ALLOWED_ORIGINS.
func New(mw *auth.Middleware, log *logger.Logger, newSession func(connID string) *session.Session, allowedOrigins []string) *Handler {
	h := &Handler{auth: mw, log: log, newSession: newSession, allowedOrigins: map[string]bool{}}
	for _, o := range allowedOrigins {
		h.allowedOrigins[o] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize: 4096,
		WriteBufferSize: 4096,
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 || h.allowedOrigins["*"] {
		return true
	}
	return h.allowedOrigins[r.Header.Get("Origin")]
}

// inboundMessage is the envelope for every client-to-server frame. Type
// selects which fields are meaningful; unknown types are ignored.
type inboundMessage struct {
	Type string `json:"type"`

	// type == "request"
	RequestType string `json:"request_type,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	ModelAlias string `json:"model,omitempty"`
	ClientMessageID string `json:"client_message_id,omitempty"`
	Settings inboundSettings `json:"settings,omitempty"`

	// type == "tool_result"
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`

	// type == "audio"
	AudioBase64 string `json:"audio,omitempty"`
	SampleRate int `json:"sample_rate,omitempty"`
}

type inboundSettings struct {
	Text struct {
		Temperature *float64 `json:"temperature,omitempty"`
		MaxTokens *int `json:"max_tokens,omitempty"`
	} `json:"text"`
	TTS struct {
		AutoExecute bool `json:"tts_auto_execute,omitempty"`
		Streaming *bool `json:"streaming,omitempty"`
		Voice string `json:"voice,omitempty"`
		Model string `json:"model,omitempty"`
		Persist bool `json:"persist,omitempty"`
	} `json:"tts"`
}

// UnmarshalJSON decodes settings with a plain decoder, so unknown settings
// keys are ignored even though the envelope's decoder rejects unknown
// top-level keys.
func (s *inboundSettings) UnmarshalJSON(data []byte) error {
	type plain inboundSettings
	return json.Unmarshal(data, (*plain)(s))
}

// requestType resolves the effective request type by the precedence
// rule: query param > header > payload "request_type".
func requestType(c *gin.Context, payload string) workflow.Type {
	if q := c.Query("request_type"); q != "" {
		return workflow.Type(q)
	}
	if h := c.GetHeader("X-Request-Type"); h != "" {
		return workflow.Type(h)
	}
	return workflow.Type(payload)
}

// ServeHTTP upgrades the connection, authenticates the handshake, and runs
// the read/write loops until the client disconnects.
func (h *Handler) ServeHTTP(c *gin.Context) {
	userID, err := h.auth.AuthenticateWS(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sess := h.newSession(connIDFor(userID))
	defer sess.Close()

	// websocket_ready is sent twice — once immediately on upgrade so
	// the client can confirm the socket is live before it has a session_id
	// to correlate against, and once more after the session is fully wired,
	// carrying the session_id the client should echo back on subsequent
	// requests.
	writeEvent(conn, event.New(event.TypeWebsocketReady, nil))
	writeEvent(conn, event.New(event.TypeWebsocketReady, map[string]any{"session_id": sess.ID()}).WithSession(sess.ID()))

	done := make(chan struct{})
	go h.writeLoop(conn, sess, done)
	h.readLoop(c, conn, sess, userID)
	close(done)
}

func connIDFor(userID string) string {
	return userID + ":" + uuid.NewString()
}

// writeLoop drains the session's event stream to the socket and maintains
// the ping/pong keepalive, closing the connection after maxMissedPongs
// consecutive missed pongs.
func (h *Handler) writeLoop(conn *websocket.Conn, sess *session.Session, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	missed := 0
	conn.SetReadDeadline(time.Now().Add(pongWait + maxMissedPongs*pingPeriod))
	conn.SetPongHandler(func(string) error {
		missed = 0
		conn.SetReadDeadline(time.Now().Add(pongWait + maxMissedPongs*pingPeriod))
		return nil
	})

	for {
		select {
		case <-done:
			return
		case msg, ok := <-sess.Events():
			if !ok {
				return
			}
			if msg.Final {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			writeEvent(conn, msg.Event)
		case <-ticker.C:
			missed++
			if missed > maxMissedPongs {
				h.log.Warn("websocket missed too many pongs, closing", slog.String("session_id", sess.ID()))
				conn.Close()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop pumps inbound frames, dispatching each to the session.
func (h *Handler) readLoop(c *gin.Context, conn *websocket.Conn, sess *session.Session, userID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Error("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		var in inboundMessage
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&in); err != nil {
			h.log.Warn("discarding malformed websocket frame", slog.String("error", err.Error()))
			sess.EmitValidationError("malformed or unrecognized request payload")
			continue
		}

		switch in.Type {
		case "request":
			if strings.TrimSpace(in.Prompt) == "" {
				sess.EmitValidationError("prompt must not be empty")
				continue
			}
			req := toWorkflowRequest(c, in, userID)
			if err := sess.StartWorkflow(c.Request.Context(), req); err != nil {
				h.log.Warn("workflow start rejected", slog.String("error", err.Error()))
			}
		case "cancel":
			sess.Cancel()
		case "ping":
			writeEvent(conn, event.New(event.TypePong, nil))
		case "tool_result":
			sess.SubmitToolResult(in.CallID, in.Output)
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(in.AudioBase64)
			if err != nil {
				continue
			}
			sess.PushAudioFrame(provider.AudioFrame{PCM: pcm, SampleRate: in.SampleRate})
		case "RecordingFinished":
			sess.FinishRecording()
		case "close_session":
			return
		}
	}
}

func toWorkflowRequest(c *gin.Context, in inboundMessage, userID string) workflow.Request {
	return workflow.Request{
		Type: requestType(c, in.RequestType),
		CustomerID: firstNonEmpty(in.CustomerID, userID),
		SessionID: in.SessionID,
		Prompt: in.Prompt,
		ModelAlias: in.ModelAlias,
		ClientMessageID: in.ClientMessageID,
		TextSettings: provider.TextSettings{
			Temperature: in.Settings.Text.Temperature,
			MaxTokens: in.Settings.Text.MaxTokens,
		},
		TTS: workflow.TTSSettings{
			AutoExecute: in.Settings.TTS.AutoExecute,
			StreamingExplicit: in.Settings.TTS.Streaming,
			Voice: in.Settings.TTS.Voice,
			Model: in.Settings.TTS.Model,
			Persist: in.Settings.TTS.Persist,
		},
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func writeEvent(conn *websocket.Conn, e event.Event) {
	body, err := event.Serialize(e)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, body)
}
