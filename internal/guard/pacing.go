package guard

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// PacingSettings declare the target mix of scene kinds and how far a
// draft may drift from it.
type PacingSettings struct {
	Targets      map[episode.SceneKind]float64
	MaxDeviation float64
}

// DefaultPacingTargets is the mix used when config leaves targets unset.
func DefaultPacingTargets() map[episode.SceneKind]float64 {
	return map[episode.SceneKind]float64{
		episode.SceneAction:    0.3,
		episode.SceneDialogue:  0.4,
		episode.SceneMonologue: 0.3,
	}
}

// PacingGuard compares the draft's action/dialogue/monologue proportions
// (weighted by scene word counts) against the configured targets. Drafts
// without scene tags pass: there is nothing to measure.
type PacingGuard struct {
	settings PacingSettings
}

func NewPacingGuard(s PacingSettings) *PacingGuard {
	if len(s.Targets) == 0 {
		s.Targets = DefaultPacingTargets()
	}
	return &PacingGuard{settings: s}
}

func (g *PacingGuard) Name() string { return "pacing" }

func (g *PacingGuard) Evaluate(_ context.Context, d *episode.Draft, _ *continuity.Snapshot) (Result, error) {
	if len(d.Scenes) == 0 {
		return pass(g.Name()), nil
	}

	weights := map[episode.SceneKind]float64{}
	var total float64
	for _, sc := range d.Scenes {
		w := float64(sc.Words)
		if w <= 0 {
			w = 1 // untagged lengths count scenes instead of words
		}
		weights[sc.Kind] += w
		total += w
	}

	res := pass(g.Name())
	res.Scores = map[string]float64{}
	var problems []string
	for kind, target := range g.settings.Targets {
		actual := weights[kind] / total
		res.Scores[string(kind)] = actual
		if dev := math.Abs(actual - target); dev > g.settings.MaxDeviation {
			problems = append(problems, fmt.Sprintf("%s %.2f deviates %.2f from target %.2f", kind, actual, dev, target))
		}
	}
	if len(problems) > 0 {
		res.Passed = false
		res.Message = strings.Join(problems, "; ")
	}
	return res, nil
}

var _ Guard = (*PacingGuard)(nil)
