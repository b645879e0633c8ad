package retry

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
	"github.com/joon-park/storyforge/internal/telemetry"
)

// Generator is the external draft source. One call per attempt.
type Generator interface {
	GenerateEpisode(ctx context.Context, req episode.Request) (*episode.Draft, error)
}

// Committer applies a passed episode's staged mutations. The store
// satisfies it directly; the season runner substitutes a wrapper that
// serializes commits in episode order.
type Committer interface {
	Commit(ctx context.Context, projectID string, m continuity.Mutations) (*continuity.Snapshot, error)
}

// Config bounds the regeneration loop.
type Config struct {
	MaxRetries      int           // retries after the first attempt; 2 means 3 attempts total
	Backoff         time.Duration // linear base: attempt n waits n*Backoff
	TemperatureStep float64       // added to generation temperature per retry
	MaxTemperature  float64

	// Halt, when set, is consulted between attempts. A true return
	// stops the loop after the attempt in flight, used by the season
	// runner's stop-on-fail policy.
	Halt func() bool
}

// Normalize applies engine defaults for unset values.
func (c Config) Normalize() Config {
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.MaxTemperature <= 0 {
		c.MaxTemperature = 1.2
	}
	return c
}

// State is a terminal episode outcome.
type State string

const (
	StatePassed    State = "passed"
	StateExhausted State = "exhausted"
	// StateAborted means a run-level stop landed between attempts; the
	// in-flight attempt finished, no further retries were spent.
	StateAborted State = "aborted"
)

// Attempt records one generate+validate cycle.
type Attempt struct {
	Number int                      `json:"number"`
	Params episode.GenerationParams `json:"params"`
	Draft  *episode.Draft           `json:"draft,omitempty"`
	Chain  guard.ChainResult        `json:"chain"`
	Err    string                   `json:"error,omitempty"`
}

// Outcome is the terminal result of processing one episode.
type Outcome struct {
	ProjectID string               `json:"project_id"`
	Episode   int                  `json:"episode"`
	State     State                `json:"state"`
	Attempts  []Attempt            `json:"attempts"`
	Committed *continuity.Snapshot `json:"-"`
}

// Controller owns the generate -> validate -> {commit | retry | exhaust}
// state machine for one episode at a time. Failed attempts never touch
// committed continuity state: every attempt validates against a fresh
// snapshot and staged mutations apply only through the commit path.
type Controller struct {
	gen       Generator
	chain     *guard.Chain
	store     continuity.Store
	committer Committer
	cfg       Config
	logger    *log.Logger
	metrics   *telemetry.Metrics
}

// NewController wires the loop. committer may be nil, in which case
// commits go straight to the store.
func NewController(gen Generator, chain *guard.Chain, store continuity.Store, committer Committer, cfg Config, logger *log.Logger, metrics *telemetry.Metrics) *Controller {
	if committer == nil {
		committer = store
	}
	return &Controller{
		gen:       gen,
		chain:     chain,
		store:     store,
		committer: committer,
		cfg:       cfg.Normalize(),
		logger:    logger,
		metrics:   metrics,
	}
}

// ProcessEpisode drives one episode to a terminal state. It returns an
// Outcome for both terminals; Exhausted additionally returns
// *ErrExhausted so callers can propagate the failure. Infrastructure
// errors (context cancellation, continuity corruption) abort with the
// bare error and no outcome.
func (c *Controller) ProcessEpisode(ctx context.Context, req episode.Request) (*Outcome, error) {
	out := &Outcome{ProjectID: req.ProjectID, Episode: req.Number}
	params := req.Params
	maxAttempts := c.cfg.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now()
		req.Params = params

		rec, fatal, err := c.runAttempt(ctx, req, attempt)
		if fatal {
			return nil, err
		}
		out.Attempts = append(out.Attempts, rec)
		c.metrics.ObserveAttempt(req.ProjectID, time.Since(started))

		if rec.Err == "" && rec.Chain.OverallPassed {
			committed, err := c.committer.Commit(ctx, req.ProjectID, rec.Chain.Mutations)
			if err != nil {
				return nil, fmt.Errorf("commit episode %d: %w", req.Number, err)
			}
			c.metrics.ObserveCommit(req.ProjectID)
			if c.logger != nil {
				c.logger.Printf("ep %d of %s passed on attempt %d/%d", req.Number, req.ProjectID, attempt, maxAttempts)
			}
			out.State = StatePassed
			out.Committed = committed
			return out, nil
		}

		if attempt == maxAttempts {
			break
		}
		if c.cfg.Halt != nil && c.cfg.Halt() {
			out.State = StateAborted
			return out, nil
		}
		if c.logger != nil {
			c.logger.Printf("ep %d of %s attempt %d/%d rejected, backing off", req.Number, req.ProjectID, attempt, maxAttempts)
		}
		if err := c.wait(ctx, time.Duration(attempt)*c.cfg.Backoff); err != nil {
			return nil, err
		}
		params = c.perturb(params, rec)
	}

	c.metrics.ObserveExhausted(req.ProjectID)
	out.State = StateExhausted
	exhausted := &ErrExhausted{
		ProjectID: req.ProjectID,
		Episode:   req.Number,
		Attempts:  len(out.Attempts),
		History:   out.Attempts,
	}
	if c.logger != nil {
		c.logger.Printf("ep %d of %s exhausted: %v", req.Number, req.ProjectID, exhausted.LastFailures())
	}
	return out, exhausted
}

// runAttempt performs one generate+validate cycle. fatal=true means the
// error must abort the whole episode (cancellation, corruption) rather
// than count as a failed attempt.
func (c *Controller) runAttempt(ctx context.Context, req episode.Request, attempt int) (Attempt, bool, error) {
	rec := Attempt{Number: attempt, Params: req.Params}

	draft, err := c.gen.GenerateEpisode(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return rec, true, ctx.Err()
		}
		// a flaky generator costs an attempt, same as a rejected draft
		rec.Err = fmt.Sprintf("generator: %v", err)
		return rec, false, nil
	}
	rec.Draft = draft

	snap, err := c.store.Snapshot(ctx, req.ProjectID)
	if err != nil {
		return rec, true, err
	}
	chainRes, err := c.chain.Run(ctx, draft, snap)
	if err != nil {
		return rec, true, err
	}
	rec.Chain = chainRes
	for _, r := range chainRes.Results {
		c.metrics.ObserveVerdict(r.Guard, r.Passed)
	}
	return rec, false, nil
}

func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// perturb nudges generation parameters between attempts: raise
// creativity and steer the generator away from the rejected ground.
func (c *Controller) perturb(params episode.GenerationParams, last Attempt) episode.GenerationParams {
	if c.cfg.TemperatureStep > 0 {
		params.Temperature += c.cfg.TemperatureStep
		if params.Temperature > c.cfg.MaxTemperature {
			params.Temperature = c.cfg.MaxTemperature
		}
	}
	if failed := last.Chain.FailedGuards(); len(failed) > 0 {
		var notes []string
		for _, r := range last.Chain.Results {
			if !r.Passed && r.Message != "" {
				notes = append(notes, r.Message)
			}
		}
		params.Guidance = "Previous draft was rejected (" + strings.Join(failed, ", ") + "): " + strings.Join(notes, "; ")
	}
	return params
}
