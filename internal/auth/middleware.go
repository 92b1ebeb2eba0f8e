package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/iammarcin/streamgate/internal/apierr"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// Middleware wraps a TokenValidator for both the plain-HTTP surface
// (POST /chat, POST /storage/upload) and the WebSocket handshake.
type Middleware struct {
	validator TokenValidator
}

// NewMiddleware wraps the given validator.
func NewMiddleware(validator TokenValidator) *Middleware {
	return &Middleware{validator: validator}
}

// RequireAuth validates the Authorization: Bearer header on plain HTTP
// requests and attaches the resolved user ID to the gin context.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apierr.AbortAuthentication(c, "Authorization header is required", nil)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			apierr.AbortAuthentication(c, "Authorization header must be a Bearer token", nil)
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			apierr.AbortAuthentication(c, "Bearer token is empty", nil)
			return
		}

		userID, err := m.validator.ValidateToken(token)
		if err != nil {
			apierr.AbortAuthentication(c, "invalid or expired token", nil)
			return
		}

		c.Set(string(UserIDKey), userID)
		c.Next()
	}
}

// AuthenticateWS validates the token carried on a WebSocket upgrade
// request's `token` query parameter (: the browser WebSocket API
// cannot set custom headers during the handshake, so the token travels in
// the URL instead of an Authorization header).
func (m *Middleware) AuthenticateWS(c *gin.Context) (string, error) {
	token := c.Query("token")
	if token == "" {
		return "", ErrInvalidToken
	}
	return m.validator.ValidateToken(token)
}

// GetUserID reads the user ID a prior RequireAuth call attached.
func GetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(string(UserIDKey))
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
