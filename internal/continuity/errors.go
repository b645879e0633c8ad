package continuity

import "fmt"

// CorruptionError indicates the committed record set is malformed or
// unreadable. It is fatal: later episodes cannot be validated against
// unknown state, so callers abort the run instead of retrying.
type CorruptionError struct {
	Reason string
	Detail string
	Err    error
}

func (e *CorruptionError) Error() string {
	msg := fmt.Sprintf("continuity state corrupt: %s", e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptionError) Unwrap() error { return e.Err }
