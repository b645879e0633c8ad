package guard

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// RuleSettings configure the forbidden pattern set.
type RuleSettings struct {
	Patterns []string
}

// RuleGuard fails any draft matching a forbidden pattern. Patterns are
// compiled once at construction so a bad expression surfaces at config
// time, not mid-run.
type RuleGuard struct {
	patterns []*regexp.Regexp
}

func NewRuleGuard(s RuleSettings) (*RuleGuard, error) {
	g := &RuleGuard{}
	for _, p := range s.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("forbidden pattern %q: %w", p, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

func (g *RuleGuard) Name() string { return "rule" }

func (g *RuleGuard) Evaluate(_ context.Context, d *episode.Draft, _ *continuity.Snapshot) (Result, error) {
	var hits []string
	for _, re := range g.patterns {
		if m := re.FindString(d.Text); m != "" {
			hits = append(hits, fmt.Sprintf("%q matches forbidden pattern %s", m, re.String()))
		}
	}
	if len(hits) > 0 {
		return fail(g.Name(), "forbidden patterns: "+strings.Join(hits, "; ")), nil
	}
	return pass(g.Name()), nil
}

var _ Guard = (*RuleGuard)(nil)
