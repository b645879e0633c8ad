package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
	"github.com/joon-park/storyforge/internal/retry"
	"github.com/joon-park/storyforge/internal/telemetry"
)

// Config tunes a season run.
type Config struct {
	Workers    int  // concurrent episodes in flight
	StopOnFail bool // stop launching episodes once one exhausts its retries
}

// Normalize applies engine defaults for unset values.
func (c Config) Normalize() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// EpisodeStatus is an episode's terminal status within a season run.
type EpisodeStatus string

const (
	StatusPassed    EpisodeStatus = "passed"
	StatusExhausted EpisodeStatus = "exhausted"
	// StatusAborted means a stop-on-fail landed while the episode was
	// mid-retry; it finished its in-flight attempt and stopped.
	StatusAborted EpisodeStatus = "aborted"
	// StatusSkipped means the episode never started an attempt.
	StatusSkipped EpisodeStatus = "skipped"
	StatusError   EpisodeStatus = "error"
)

// EpisodeResult is one episode's line in the season report.
type EpisodeResult struct {
	Number   int           `json:"number"`
	Status   EpisodeStatus `json:"status"`
	Attempts int           `json:"attempts"`
	Failures []string      `json:"failures,omitempty"` // guards rejecting the final attempt
	Err      string        `json:"error,omitempty"`
}

// SeasonReport summarizes one season run.
type SeasonReport struct {
	ProjectID  string          `json:"project_id"`
	From       int             `json:"from"`
	To         int             `json:"to"`
	Episodes   []EpisodeResult `json:"episodes"`
	Passed     int             `json:"passed"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// orderedCommitter serializes commits in episode order. Each episode
// owns a turn channel that the runner closes when the previous episode
// finishes, committed or not, so a passed draft for episode N never
// commits before N-1's fate is settled.
type orderedCommitter struct {
	store continuity.Store
	first int
	turns []chan struct{}
}

func (o *orderedCommitter) Commit(ctx context.Context, projectID string, m continuity.Mutations) (*continuity.Snapshot, error) {
	idx := m.Episode - o.first
	if idx >= 0 && idx < len(o.turns) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.turns[idx]:
		}
	}
	return o.store.Commit(ctx, projectID, m)
}

// Runner drives a contiguous span of episodes through the retry
// controller with a bounded worker pool. Episodes generate and validate
// concurrently; commits are serialized in episode order.
type Runner struct {
	gen      retry.Generator
	chain    *guard.Chain
	store    continuity.Store
	retryCfg retry.Config
	cfg      Config
	logger   *log.Logger
	metrics  *telemetry.Metrics
}

func New(gen retry.Generator, chain *guard.Chain, store continuity.Store, retryCfg retry.Config, cfg Config, logger *log.Logger, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		gen:      gen,
		chain:    chain,
		store:    store,
		retryCfg: retryCfg,
		cfg:      cfg.Normalize(),
		logger:   logger,
		metrics:  metrics,
	}
}

// RunSeason processes episodes from..to inclusive. outlines maps
// episode numbers to their outlines; missing entries generate from the
// project premise alone. Exhausted episodes land in the report, not in
// the returned error; only infrastructure failures (corruption, commit
// errors, cancellation) error out, after in-flight episodes settle.
func (r *Runner) RunSeason(ctx context.Context, projectID string, from, to int, params episode.GenerationParams, outlines map[int]string) (*SeasonReport, error) {
	if to < from {
		return nil, fmt.Errorf("invalid episode span %d..%d", from, to)
	}
	n := to - from + 1
	report := &SeasonReport{
		ProjectID: projectID,
		From:      from,
		To:        to,
		Episodes:  make([]EpisodeResult, n),
		StartedAt: time.Now().UTC(),
	}

	turns := make([]chan struct{}, n+1)
	for i := range turns {
		turns[i] = make(chan struct{})
	}
	close(turns[0])

	var stopped atomic.Bool
	halt := func() bool { return r.cfg.StopOnFail && stopped.Load() }

	retryCfg := r.retryCfg
	retryCfg.Halt = halt
	committer := &orderedCommitter{store: r.store, first: from, turns: turns}
	ctrl := retry.NewController(r.gen, r.chain, r.store, committer, retryCfg, r.logger, r.metrics)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		fatalMu sync.Mutex
		fatal   error
	)
	sem := make(chan struct{}, r.cfg.Workers)

	// release hands the commit turn to the next episode, but only after
	// this episode's own turn has opened. A non-committing episode never
	// ran through orderedCommitter, so without the wait it would let its
	// successor commit ahead of a still-unsettled predecessor.
	release := func(idx int) {
		<-turns[idx]
		close(turns[idx+1])
	}
	skip := func(idx int, res *EpisodeResult) {
		res.Status = StatusSkipped
		wg.Add(1)
		go func() {
			defer wg.Done()
			release(idx)
		}()
	}

	// Admission happens here, in episode order, so an episode never
	// holds a worker slot while every earlier episode is still queued.
	for i := 0; i < n; i++ {
		res := &report.Episodes[i]
		res.Number = from + i

		if halt() || runCtx.Err() != nil {
			skip(i, res)
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			skip(i, res)
			continue
		}
		// the stop may have landed while this episode waited for a slot
		if halt() || runCtx.Err() != nil {
			<-sem
			skip(i, res)
			continue
		}

		wg.Add(1)
		go func(idx int, res *EpisodeResult) {
			defer wg.Done()
			defer release(idx)
			defer func() { <-sem }()

			req := episode.Request{
				ProjectID: projectID,
				Number:    res.Number,
				Outline:   outlines[res.Number],
				Params:    params,
			}
			out, err := ctrl.ProcessEpisode(runCtx, req)
			if out != nil {
				res.Attempts = len(out.Attempts)
			}

			var exhausted *retry.ErrExhausted
			switch {
			case errors.As(err, &exhausted):
				res.Status = StatusExhausted
				res.Failures = exhausted.LastFailures()
				stopped.Store(true)
				if r.logger != nil && r.cfg.StopOnFail {
					r.logger.Printf("ep %d exhausted, stopping season run of %s", res.Number, projectID)
				}
			case err != nil:
				res.Status = StatusError
				res.Err = err.Error()
				fatalMu.Lock()
				if fatal == nil {
					fatal = fmt.Errorf("episode %d: %w", res.Number, err)
				}
				fatalMu.Unlock()
				cancel()
			case out.State == retry.StateAborted:
				res.Status = StatusAborted
			default:
				res.Status = StatusPassed
			}
		}(i, res)
	}

	wg.Wait()
	report.FinishedAt = time.Now().UTC()
	for _, e := range report.Episodes {
		switch e.Status {
		case StatusPassed:
			report.Passed++
		case StatusExhausted, StatusError, StatusAborted:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	if r.logger != nil {
		r.logger.Printf("season %s %d..%d done: %d passed, %d failed, %d skipped",
			projectID, from, to, report.Passed, report.Failed, report.Skipped)
	}
	return report, fatal
}
