package retry

import "fmt"

// ErrExhausted is returned when an episode fails validation on every
// allowed attempt. It carries the full attempt history so the caller
// can report the ordered guard failures of the last attempt.
type ErrExhausted struct {
	ProjectID string
	Episode   int
	Attempts  int
	History   []Attempt
}

func (e *ErrExhausted) Error() string {
	msg := fmt.Sprintf("episode %d of %s failed after %d attempt(s)", e.Episode, e.ProjectID, e.Attempts)
	if last := e.LastFailures(); len(last) > 0 {
		msg += ": " + fmt.Sprint(last)
	}
	return msg
}

// LastFailures returns the guard names that rejected the final attempt.
func (e *ErrExhausted) LastFailures() []string {
	if len(e.History) == 0 {
		return nil
	}
	return e.History[len(e.History)-1].Chain.FailedGuards()
}
