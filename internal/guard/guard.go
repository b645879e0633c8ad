package guard

import (
	"context"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// Severity grades a result. Error verdicts gate acceptance; warn
// verdicts surface diagnostics without blocking the draft.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Result is one guard's verdict on one draft. Produced fresh per
// evaluation and never mutated afterwards.
type Result struct {
	Guard    string             `json:"guard"`
	Passed   bool               `json:"passed"`
	Severity Severity           `json:"severity"`
	Message  string             `json:"message,omitempty"`
	Scores   map[string]float64 `json:"scores,omitempty"`

	// Mutations carries the continuity effects this guard stages for the
	// draft (payoffs, new facts, anchor sightings). They apply only if
	// the whole chain passes and the episode commits.
	Mutations *continuity.Mutations `json:"-"`
}

func pass(name string) Result {
	return Result{Guard: name, Passed: true, Severity: SeverityError}
}

func fail(name, message string) Result {
	return Result{Guard: name, Passed: false, Severity: SeverityError, Message: message}
}

// Guard evaluates one quality or continuity rule against a draft and a
// read-only continuity snapshot. Implementations must not mutate either
// argument; staged effects travel on the Result.
type Guard interface {
	Name() string
	Evaluate(ctx context.Context, d *episode.Draft, snap *continuity.Snapshot) (Result, error)
}
