// Package apierr carries the gateway's error kinds (validation,
// authentication, provider, configuration, persistence, completion_ownership,
// not_found, cancelled) through both the HTTP surface (gin abort helpers)
// and the event envelope. A standardized {error, kind, details} JSON body,
// one generic Abort helper mapping every kind to its status code, plus
// named helpers for the validation, authentication and configuration kinds.
package apierr

// Kind is one of the error kinds the gateway reports. It is not a
// Go type name — callers branch on it as data.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindProvider Kind = "provider"
	KindConfiguration Kind = "configuration"
	KindPersistence Kind = "persistence"
	KindCompletionOwnership Kind = "completion_ownership"
	KindNotFound Kind = "not_found"
	KindCancelled Kind = "cancelled"
)

// APIError is the standardized HTTP error body.
type APIError struct {
	Error string `json:"error"`
	Kind Kind `json:"kind,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// New creates an APIError with the given kind, message and optional details.
func New(kind Kind, message string, details map[string]interface{}) *APIError {
	return &APIError{Error: message, Kind: kind, Details: details}
}
