package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
)

// scriptedGen returns one draft per call and records the params it saw.
type scriptedGen struct {
	calls  int
	params []episode.GenerationParams
	errOn  map[int]error // call number -> error
}

func (g *scriptedGen) GenerateEpisode(_ context.Context, req episode.Request) (*episode.Draft, error) {
	g.calls++
	g.params = append(g.params, req.Params)
	if err, ok := g.errOn[g.calls]; ok {
		return nil, err
	}
	return &episode.Draft{
		ProjectID: req.ProjectID,
		Number:    req.Number,
		Text:      fmt.Sprintf("draft %d of episode %d", g.calls, req.Number),
	}, nil
}

// verdictGuard passes or fails per attempt according to a script.
type verdictGuard struct {
	name    string
	verdict []bool // indexed by call count; out of range repeats the last entry
	calls   int
	staged  *continuity.Mutations
}

func (g *verdictGuard) Name() string { return g.name }
func (g *verdictGuard) Evaluate(_ context.Context, d *episode.Draft, _ *continuity.Snapshot) (guard.Result, error) {
	idx := g.calls
	if idx >= len(g.verdict) {
		idx = len(g.verdict) - 1
	}
	g.calls++
	passed := g.verdict[idx]
	res := guard.Result{Guard: g.name, Passed: passed, Severity: guard.SeverityError}
	if !passed {
		res.Message = g.name + " rejected the draft"
	}
	if passed && g.staged != nil {
		m := *g.staged
		m.Episode = d.Number
		res.Mutations = &m
	}
	return res, nil
}

func fastCfg(maxRetries int) Config {
	return Config{MaxRetries: maxRetries, Backoff: time.Millisecond, TemperatureStep: 0.1, MaxTemperature: 1.2}
}

func TestProcessEpisodeExhaustsAfterAllAttempts(t *testing.T) {
	gen := &scriptedGen{}
	chain := guard.NewChain([]guard.Guard{&verdictGuard{name: "lexical", verdict: []bool{false}}}, guard.PolicyCollectAll, "", nil)
	store := continuity.NewMemoryStore()
	ctrl := NewController(gen, chain, store, nil, fastCfg(2), nil, nil)

	out, err := ctrl.ProcessEpisode(context.Background(), episode.Request{ProjectID: "p", Number: 1})
	var exhausted *ErrExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if gen.calls != 3 {
		t.Fatalf("max_retries=2 means exactly 3 attempts, generator saw %d", gen.calls)
	}
	if out.State != StateExhausted || len(out.Attempts) != 3 {
		t.Fatalf("outcome = %+v", out)
	}
	if got := exhausted.LastFailures(); len(got) != 1 || got[0] != "lexical" {
		t.Fatalf("last failures = %v", got)
	}

	snap, _ := store.Snapshot(context.Background(), "p")
	if snap.LastEpisode != 0 {
		t.Fatal("exhausted episodes must leave committed state untouched")
	}
}

func TestProcessEpisodeCommitsOnPass(t *testing.T) {
	gen := &scriptedGen{}
	g := &verdictGuard{
		name:    "date",
		verdict: []bool{false, true},
		staged:  &continuity.Mutations{Date: "2024-05-01"},
	}
	chain := guard.NewChain([]guard.Guard{g}, guard.PolicyCollectAll, "", nil)
	store := continuity.NewMemoryStore()
	ctrl := NewController(gen, chain, store, nil, fastCfg(2), nil, nil)

	out, err := ctrl.ProcessEpisode(context.Background(), episode.Request{ProjectID: "p", Number: 1})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.State != StatePassed || len(out.Attempts) != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Committed == nil || out.Committed.LastEpisode != 1 {
		t.Fatalf("committed snapshot = %+v", out.Committed)
	}
	if len(out.Committed.Dates) != 1 {
		t.Fatal("staged date did not reach the ledger")
	}
}

func TestProcessEpisodePerturbsParamsBetweenAttempts(t *testing.T) {
	gen := &scriptedGen{}
	chain := guard.NewChain([]guard.Guard{&verdictGuard{name: "lexical", verdict: []bool{false}}}, guard.PolicyCollectAll, "", nil)
	ctrl := NewController(gen, chain, continuity.NewMemoryStore(), nil, fastCfg(2), nil, nil)

	req := episode.Request{ProjectID: "p", Number: 1, Params: episode.GenerationParams{Temperature: 0.7}}
	if _, err := ctrl.ProcessEpisode(context.Background(), req); err == nil {
		t.Fatal("expected exhaustion")
	}
	if len(gen.params) != 3 {
		t.Fatalf("generator saw %d param sets", len(gen.params))
	}
	if gen.params[1].Temperature <= gen.params[0].Temperature {
		t.Fatalf("temperature must rise between attempts: %v", gen.params)
	}
	if gen.params[1].Guidance == "" {
		t.Fatal("retry guidance should name the rejecting guard")
	}
	if gen.params[0].Guidance != "" {
		t.Fatal("first attempt carries no retry guidance")
	}
}

func TestProcessEpisodeGeneratorErrorCostsAttempt(t *testing.T) {
	gen := &scriptedGen{errOn: map[int]error{1: fmt.Errorf("upstream 500")}}
	g := &verdictGuard{name: "lexical", verdict: []bool{true}}
	chain := guard.NewChain([]guard.Guard{g}, guard.PolicyCollectAll, "", nil)
	ctrl := NewController(gen, chain, continuity.NewMemoryStore(), nil, fastCfg(2), nil, nil)

	out, err := ctrl.ProcessEpisode(context.Background(), episode.Request{ProjectID: "p", Number: 1})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.State != StatePassed || len(out.Attempts) != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Attempts[0].Err == "" {
		t.Fatal("first attempt should record the generator error")
	}
}

func TestProcessEpisodeHaltStopsBetweenAttempts(t *testing.T) {
	gen := &scriptedGen{}
	chain := guard.NewChain([]guard.Guard{&verdictGuard{name: "lexical", verdict: []bool{false}}}, guard.PolicyCollectAll, "", nil)
	cfg := fastCfg(5)
	cfg.Halt = func() bool { return true }
	ctrl := NewController(gen, chain, continuity.NewMemoryStore(), nil, cfg, nil, nil)

	out, err := ctrl.ProcessEpisode(context.Background(), episode.Request{ProjectID: "p", Number: 1})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.State != StateAborted || len(out.Attempts) != 1 {
		t.Fatalf("halt should stop after the in-flight attempt: %+v", out)
	}
}

func TestProcessEpisodeContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &scriptedGen{errOn: map[int]error{1: context.Canceled}}
	chain := guard.NewChain([]guard.Guard{&verdictGuard{name: "lexical", verdict: []bool{true}}}, guard.PolicyCollectAll, "", nil)
	ctrl := NewController(gen, chain, continuity.NewMemoryStore(), nil, fastCfg(2), nil, nil)

	if _, err := ctrl.ProcessEpisode(ctx, episode.Request{ProjectID: "p", Number: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation must abort, got %v", err)
	}
}
