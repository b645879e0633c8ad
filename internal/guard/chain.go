package guard

import (
	"context"
	"errors"
	"log"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
)

// Policy selects how the chain reacts to failures mid-run.
type Policy string

const (
	// PolicyCollectAll runs every enabled guard and returns the full
	// result vector regardless of earlier failures.
	PolicyCollectAll Policy = "collect-all"
	// PolicyStopOnFail aborts as soon as the named target guard fails.
	PolicyStopOnFail Policy = "stop-on-fail"
)

// ChainResult aggregates one chain run over one draft.
type ChainResult struct {
	Results       []Result             `json:"results"`
	OverallPassed bool                 `json:"overall_passed"`
	Mutations     continuity.Mutations `json:"-"`
}

// FailedGuards lists the names of guards that rejected the draft.
func (r ChainResult) FailedGuards() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Passed {
			names = append(names, res.Guard)
		}
	}
	return names
}

// Chain runs a fixed, ordered guard list against one draft and a
// read-only continuity snapshot. It never mutates state; staged effects
// from individual guards are aggregated into ChainResult.Mutations for
// the commit path to apply.
type Chain struct {
	guards []Guard
	policy Policy
	stopOn string
	logger *log.Logger
}

// NewChain builds a chain over guards in the given order. stopOn names
// the target guard for PolicyStopOnFail and is ignored otherwise.
func NewChain(guards []Guard, policy Policy, stopOn string, logger *log.Logger) *Chain {
	if policy == "" {
		policy = PolicyCollectAll
	}
	return &Chain{guards: guards, policy: policy, stopOn: stopOn, logger: logger}
}

// Guards returns the configured evaluation order.
func (c *Chain) Guards() []string {
	names := make([]string, len(c.guards))
	for i, g := range c.guards {
		names[i] = g.Name()
	}
	return names
}

// Run evaluates the draft. Guard evaluation errors become failed
// results so one flaky judge call costs an attempt, not the run;
// continuity corruption is the one error that propagates.
func (c *Chain) Run(ctx context.Context, d *episode.Draft, snap *continuity.Snapshot) (ChainResult, error) {
	out := ChainResult{OverallPassed: true, Mutations: continuity.Mutations{Episode: d.Number}}

	for _, g := range c.guards {
		if err := ctx.Err(); err != nil {
			return ChainResult{}, err
		}
		res, err := g.Evaluate(ctx, d, snap)
		if err != nil {
			var corrupt *continuity.CorruptionError
			if errors.As(err, &corrupt) {
				return ChainResult{}, err
			}
			res = fail(g.Name(), err.Error())
		}
		out.Results = append(out.Results, res)
		if res.Passed {
			out.Mutations.MergeFrom(res.Mutations)
		} else {
			out.OverallPassed = false
			if c.logger != nil {
				c.logger.Printf("guard %s rejected ep %d: %s", res.Guard, d.Number, res.Message)
			}
			if c.policy == PolicyStopOnFail && g.Name() == c.stopOn {
				return out, nil
			}
		}
	}
	return out, nil
}
