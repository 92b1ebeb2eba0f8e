package apierr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// statusFor maps a Kind to the HTTP status used when the error surfaces on
// a plain request/response endpoint (POST /chat, POST /chat/stream, POST
// /storage/upload). Kinds that normally only surface inside the event
// envelope (provider, completion_ownership, cancelled) still get a
// reasonable status for the rare case they reach an HTTP handler directly.
func statusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindConfiguration:
		return http.StatusUnprocessableEntity
	case KindProvider:
		return http.StatusBadGateway
	case KindPersistence:
		return http.StatusInternalServerError
	case KindCompletionOwnership:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Abort sends the error as a JSON body at its mapped status and aborts the
// gin context, mirroring AbortWithBadRequest/AbortWithUnauthorized
// pair but generalized to one helper for every kind.
func Abort(c *gin.Context, kind Kind, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(statusFor(kind), New(kind, message, details))
}

// Respond sends the error without aborting. Use when the handler needs to
// keep running after reporting a non-fatal problem (rare, kept for parity
// with non-aborting BadRequest/Unauthorized helpers).
func Respond(c *gin.Context, kind Kind, message string, details map[string]interface{}) {
	c.JSON(statusFor(kind), New(kind, message, details))
}

func AbortValidation(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, KindValidation, message, details)
}

func AbortAuthentication(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, KindAuthentication, message, details)
}

func AbortConfiguration(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, KindConfiguration, message, details)
}
