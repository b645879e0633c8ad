package guard

import (
	"context"
	"fmt"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// CritiqueScores are the external judge's verdict on a draft: two
// independent axes on a 1-10 scale.
type CritiqueScores struct {
	Fun     float64 `json:"fun"`
	Logic   float64 `json:"logic"`
	Comment string  `json:"comment,omitempty"`
}

// Judge is the external generative judge consumed by the critique
// guard. Implementations live in provider packages; tests use stubs.
type Judge interface {
	Critique(ctx context.Context, text string) (CritiqueScores, error)
}

// CritiqueSettings bound the judge's verdict.
type CritiqueSettings struct {
	MinScore float64
}

// CritiqueGuard delegates quality judgment to an external judge and
// fails when the weaker of the two scores is below the floor. It is the
// only guard that performs I/O.
type CritiqueGuard struct {
	judge    Judge
	settings CritiqueSettings
}

func NewCritiqueGuard(judge Judge, s CritiqueSettings) *CritiqueGuard {
	return &CritiqueGuard{judge: judge, settings: s}
}

func (g *CritiqueGuard) Name() string { return "critique" }

func (g *CritiqueGuard) Evaluate(ctx context.Context, d *episode.Draft, _ *continuity.Snapshot) (Result, error) {
	if g.judge == nil {
		return Result{}, fmt.Errorf("critique guard: no judge configured")
	}
	scores, err := g.judge.Critique(ctx, d.Text)
	if err != nil {
		return Result{}, fmt.Errorf("critique guard: judge call failed: %w", err)
	}

	res := pass(g.Name())
	res.Scores = map[string]float64{"fun": scores.Fun, "logic": scores.Logic}
	low := scores.Fun
	if scores.Logic < low {
		low = scores.Logic
	}
	if low < g.settings.MinScore {
		res.Passed = false
		res.Message = fmt.Sprintf("judge scored fun=%.1f logic=%.1f, floor is %.1f", scores.Fun, scores.Logic, g.settings.MinScore)
		if scores.Comment != "" {
			res.Message += ": " + scores.Comment
		}
	}
	return res, nil
}

var _ Guard = (*CritiqueGuard)(nil)
