package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/guard"
	"github.com/joon-park/storyforge/internal/retry"
	"github.com/joon-park/storyforge/internal/runner"
)

func newTestAPI(t *testing.T, store continuity.Store) (*echo.Echo, string) {
	t.Helper()
	secret := []byte("test-secret")
	e := echo.New()
	api := e.Group("/api")
	ph := &ProjectsHandler{Store: store}
	ph.Register(api.Group("/projects"), secret)

	tok, err := SignJWT("tester", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return e, tok
}

func TestStateEndpointRequiresToken(t *testing.T) {
	e, _ := newTestAPI(t, continuity.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/state", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestStateEndpointReturnsSnapshot(t *testing.T) {
	store := continuity.NewMemoryStore()
	if _, err := store.Commit(context.Background(), "p1", continuity.Mutations{Episode: 1, Date: "2024-01-01"}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	e, tok := newTestAPI(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/state", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var snap continuity.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.LastEpisode != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSeedEndpointLoadsRecords(t *testing.T) {
	store := continuity.NewMemoryStore()
	e, tok := newTestAPI(t, store)

	body := `{"facts":[{"character":"mira","attribute":"eye_color","value":"green"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/seed", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	snap, _ := store.Snapshot(context.Background(), "p1")
	if v, _ := snap.Fact("mira", "eye_color"); v != "green" {
		t.Fatal("seed did not reach the store")
	}
}

type stubSeasonGen struct {
	delay time.Duration
}

func (g stubSeasonGen) GenerateEpisode(ctx context.Context, req episode.Request) (*episode.Draft, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(g.delay):
	}
	return &episode.Draft{ProjectID: req.ProjectID, Number: req.Number, Text: "ep"}, nil
}

type stubPassGuard struct{}

func (stubPassGuard) Name() string { return "lexical" }
func (stubPassGuard) Evaluate(_ context.Context, _ *episode.Draft, _ *continuity.Snapshot) (guard.Result, error) {
	return guard.Result{Guard: "lexical", Passed: true, Severity: guard.SeverityError}, nil
}

// Run records stay readable while the detached season goroutine keeps
// updating them; readers get a copy taken under the handler lock.
func TestRunRecordsReadableWhileRunning(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()
	api := e.Group("/api")
	store := continuity.NewMemoryStore()
	projects := api.Group("/projects")
	(&ProjectsHandler{Store: store}).Register(projects, secret)

	chain := guard.NewChain([]guard.Guard{stubPassGuard{}}, guard.PolicyCollectAll, "", nil)
	r := runner.New(stubSeasonGen{delay: 5 * time.Millisecond}, chain, store,
		retry.Config{Backoff: time.Millisecond}, runner.Config{Workers: 1}, nil, nil)
	rh := &RunsHandler{Runner: r}
	rh.Register(projects, api.Group("/runs"), secret)

	tok, err := SignJWT("tester", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/projects/p1/runs", `{"from":1,"to":5}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d body %s", rec.Code, rec.Body.String())
	}
	var trig map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &trig); err != nil {
		t.Fatalf("decode trigger: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		lrec := do(http.MethodGet, "/api/runs", "")
		if lrec.Code != http.StatusOK {
			t.Fatalf("list = %d body %s", lrec.Code, lrec.Body.String())
		}
		var listed []RunRecord
		if err := json.Unmarshal(lrec.Body.Bytes(), &listed); err != nil {
			t.Fatalf("decode list: %v", err)
		}
		if len(listed) != 1 {
			t.Fatalf("listed %d records, want 1", len(listed))
		}

		grec := do(http.MethodGet, "/api/runs/"+trig["run_id"], "")
		if grec.Code != http.StatusOK {
			t.Fatalf("get = %d body %s", grec.Code, grec.Body.String())
		}
		var run RunRecord
		if err := json.Unmarshal(grec.Body.Bytes(), &run); err != nil {
			t.Fatalf("decode run: %v", err)
		}
		if run.Status != "running" {
			if run.Status != "succeeded" {
				t.Fatalf("run finished as %q: %s", run.Status, run.Error)
			}
			if run.Report == nil || run.Report.Passed != 5 {
				t.Fatalf("report = %+v", run.Report)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("run never finished")
		}
	}
}

func TestSignJWTRoundTrip(t *testing.T) {
	secret := []byte("s")
	tok, err := SignJWT("u1", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if tok == "" {
		t.Fatal("empty token")
	}
}
