package apierr

import "github.com/iammarcin/streamgate/internal/event"

// ToEvent renders an error as the event envelope's "error" discriminant,
// stamping Data.kind so clients can distinguish the eight error kinds
// without parsing the message string.
func ToEvent(kind Kind, stage, message string) event.Event {
	e := event.Error(stage, message)
	e.Data["kind"] = string(kind)
	return e
}

// Terminal reports whether an error of this kind ends the stream outright:
// authentication failures close the connection immediately; every other
// kind is reported as a non-terminal "error" event and the workflow
// continues or retries at the caller's discretion.
func Terminal(kind Kind) bool {
	return kind == KindAuthentication
}
