package event

import (
	"encoding/json"
	"fmt"
)

// Serialize produces UTF-8 JSON for e. It fails only when e.Type is not a
// registered discriminant; payload sanitization (see sanitize.go) is total,
// so no other path returns an error.
func Serialize(e Event) ([]byte, error) {
	if !IsRegistered(e.Type) {
		return nil, fmt.Errorf("event: unregistered discriminant %q", e.Type)
	}
	return json.Marshal(e)
}

// SSEFrame renders e as a Server-Sent Events frame: "data: <json>\n\n".
func SSEFrame(e Event) ([]byte, error) {
	body, err := Serialize(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+8)
	out = append(out, []byte("data: ")...)
	out = append(out, body...)
	out = append(out, '\n', '\n')
	return out, nil
}
