package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
	"github.com/joon-park/storyforge/internal/retry"
)

// slowGen emits drafts with a per-episode delay so later episodes can
// overtake earlier ones inside the worker pool.
type slowGen struct {
	delay func(ep int) time.Duration

	mu    sync.Mutex
	calls int
}

func (g *slowGen) GenerateEpisode(ctx context.Context, req episode.Request) (*episode.Draft, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.delay != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.delay(req.Number)):
		}
	}
	return &episode.Draft{ProjectID: req.ProjectID, Number: req.Number, Date: fmt.Sprintf("2024-01-%02d", req.Number), Text: "ep"}, nil
}

// alwaysGuard returns the same verdict for every draft.
type alwaysGuard struct {
	pass bool
}

func (g alwaysGuard) Name() string { return "lexical" }
func (g alwaysGuard) Evaluate(_ context.Context, d *episode.Draft, _ *continuity.Snapshot) (guard.Result, error) {
	res := guard.Result{Guard: g.Name(), Passed: g.pass, Severity: guard.SeverityError}
	if !g.pass {
		res.Message = "rejected"
	}
	if g.pass {
		res.Mutations = &continuity.Mutations{Episode: d.Number, Date: d.Date}
	}
	return res, nil
}

func newTestRunner(gen retry.Generator, pass bool, store continuity.Store, cfg Config) *Runner {
	chain := guard.NewChain([]guard.Guard{alwaysGuard{pass: pass}}, guard.PolicyCollectAll, "", nil)
	retryCfg := retry.Config{MaxRetries: 0, Backoff: time.Millisecond}
	return New(gen, chain, store, retryCfg, cfg, nil, nil)
}

func TestRunSeasonCommitsInEpisodeOrder(t *testing.T) {
	// episode 1 is the slowest; with 3 workers episodes 2 and 3 finish
	// generating first and must wait their commit turn
	gen := &slowGen{delay: func(ep int) time.Duration {
		if ep == 1 {
			return 50 * time.Millisecond
		}
		return time.Millisecond
	}}
	store := continuity.NewMemoryStore()
	r := newTestRunner(gen, true, store, Config{Workers: 3})

	report, err := r.RunSeason(context.Background(), "p", 1, 5, episode.GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Passed != 5 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	snap, _ := store.Snapshot(context.Background(), "p")
	if snap.LastEpisode != 5 {
		t.Fatalf("ledger at %d, want 5", snap.LastEpisode)
	}
	for i, d := range snap.Dates {
		if d.Episode != i+1 {
			t.Fatalf("date ledger out of order: %+v", snap.Dates)
		}
	}
}

func TestRunSeasonStopOnFailSkipsRemaining(t *testing.T) {
	gen := &slowGen{}
	store := continuity.NewMemoryStore()
	r := newTestRunner(gen, false, store, Config{Workers: 1, StopOnFail: true})

	report, err := r.RunSeason(context.Background(), "p", 1, 4, episode.GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("exhaustion is reported, not returned: %v", err)
	}
	if report.Episodes[0].Status != StatusExhausted {
		t.Fatalf("episode 1 = %+v", report.Episodes[0])
	}
	for _, e := range report.Episodes[1:] {
		if e.Status != StatusSkipped {
			t.Fatalf("episode %d should be skipped after the stop, got %s", e.Number, e.Status)
		}
	}
	snap, _ := store.Snapshot(context.Background(), "p")
	if snap.LastEpisode != 0 {
		t.Fatal("nothing passed, nothing commits")
	}
}

func TestRunSeasonStopOnFailAbortsInFlightEpisode(t *testing.T) {
	// episode 1 exhausts almost instantly; episode 2 is mid-generation
	// when the stop lands, finishes that attempt and spends no more
	gen := &slowGen{delay: func(ep int) time.Duration {
		if ep == 2 {
			return 60 * time.Millisecond
		}
		return 0
	}}
	store := continuity.NewMemoryStore()
	chain := guard.NewChain([]guard.Guard{alwaysGuard{pass: false}}, guard.PolicyCollectAll, "", nil)
	r := New(gen, chain, store, retry.Config{MaxRetries: 1, Backoff: time.Millisecond}, Config{Workers: 2, StopOnFail: true}, nil, nil)

	report, err := r.RunSeason(context.Background(), "p", 1, 2, episode.GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Episodes[0].Status != StatusExhausted {
		t.Fatalf("episode 1 = %+v", report.Episodes[0])
	}
	if report.Episodes[1].Status != StatusAborted {
		t.Fatalf("episode 2 should abort after its in-flight attempt, got %+v", report.Episodes[1])
	}
	if report.Episodes[1].Attempts != 1 {
		t.Fatalf("aborted episode spent %d attempts, want 1", report.Episodes[1].Attempts)
	}
	if report.Failed != 2 || report.Skipped != 0 {
		t.Fatalf("aborted episodes count as failed, not skipped: %+v", report)
	}
}

func TestRunSeasonContinuesPastFailureByDefault(t *testing.T) {
	gen := &slowGen{}
	store := continuity.NewMemoryStore()
	r := newTestRunner(gen, false, store, Config{Workers: 1})

	report, err := r.RunSeason(context.Background(), "p", 1, 3, episode.GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 3 || report.Skipped != 0 {
		t.Fatalf("without stop-on-fail every episode gets its attempts: %+v", report)
	}
}

func TestRunSeasonRejectsInvalidSpan(t *testing.T) {
	r := newTestRunner(&slowGen{}, true, continuity.NewMemoryStore(), Config{Workers: 1})
	if _, err := r.RunSeason(context.Background(), "p", 5, 4, episode.GenerationParams{}, nil); err == nil {
		t.Fatal("to < from must error")
	}
}

func TestRunSeasonExhaustedEpisodeReleasesCommitTurn(t *testing.T) {
	// episode 2 always fails; episode 3 passes and must still commit
	gen := &scriptedSeasonGen{}
	store := continuity.NewMemoryStore()
	chain := guard.NewChain([]guard.Guard{epGuard{failEp: 2}}, guard.PolicyCollectAll, "", nil)
	r := New(gen, chain, store, retry.Config{MaxRetries: 0, Backoff: time.Millisecond}, Config{Workers: 2}, nil, nil)

	report, err := r.RunSeason(context.Background(), "p", 1, 3, episode.GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Passed != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	snap, _ := store.Snapshot(context.Background(), "p")
	if snap.LastEpisode != 3 {
		t.Fatalf("episode 3 should commit despite episode 2 exhausting, ledger at %d", snap.LastEpisode)
	}
}

type scriptedSeasonGen struct{}

func (g *scriptedSeasonGen) GenerateEpisode(_ context.Context, req episode.Request) (*episode.Draft, error) {
	return &episode.Draft{ProjectID: req.ProjectID, Number: req.Number, Text: "ep"}, nil
}

type epGuard struct {
	failEp int
}

func (g epGuard) Name() string { return "rule" }
func (g epGuard) Evaluate(_ context.Context, d *episode.Draft, _ *continuity.Snapshot) (guard.Result, error) {
	if d.Number == g.failEp {
		return guard.Result{Guard: g.Name(), Passed: false, Severity: guard.SeverityError, Message: "rejected"}, nil
	}
	return guard.Result{Guard: g.Name(), Passed: true, Severity: guard.SeverityError}, nil
}
