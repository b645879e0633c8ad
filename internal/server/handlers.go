package server

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/runner"
)

// ProjectsHandler serves committed continuity state.
type ProjectsHandler struct {
	Store continuity.Store
}

func (h *ProjectsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("/:id/state", h.state)
	g.POST("/:id/seed", h.seed)
}

func (h *ProjectsHandler) state(c echo.Context) error {
	snap, err := h.Store.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *ProjectsHandler) seed(c echo.Context) error {
	var seed continuity.Seed
	if err := c.Bind(&seed); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.Seed(c.Request().Context(), c.Param("id"), seed); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// RunRecord tracks one season run triggered over the API.
type RunRecord struct {
	ID        string               `json:"id"`
	ProjectID string               `json:"project_id"`
	From      int                  `json:"from"`
	To        int                  `json:"to"`
	Status    string               `json:"status"` // running, succeeded, failed
	Report    *runner.SeasonReport `json:"report,omitempty"`
	Error     string               `json:"error,omitempty"`
	StartedAt time.Time            `json:"started_at"`
}

// RunRequest is the trigger payload for a season run.
type RunRequest struct {
	From     int                      `json:"from"`
	To       int                      `json:"to"`
	Params   episode.GenerationParams `json:"params"`
	Outlines map[int]string           `json:"outlines,omitempty"`
}

// RunsHandler triggers season runs and reports their progress. Records
// live in process memory; restarting the server forgets finished runs
// but never the committed episodes themselves.
type RunsHandler struct {
	Runner *runner.Runner

	mu   sync.Mutex
	runs map[string]*RunRecord
}

func (h *RunsHandler) Register(projects, runs *echo.Group, secret []byte) {
	h.runs = map[string]*RunRecord{}
	projects.POST("/:id/runs", h.trigger) // group middleware already set by ProjectsHandler
	runs.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	runs.GET("", h.list)
	runs.GET("/:id", h.get)
}

func (h *RunsHandler) trigger(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.To < req.From || req.From <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid episode span")
	}

	rec := &RunRecord{
		ID:        uuid.NewString(),
		ProjectID: c.Param("id"),
		From:      req.From,
		To:        req.To,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	h.runs[rec.ID] = rec
	h.mu.Unlock()

	go func() {
		// detached from the request context: the run outlives the trigger call
		report, err := h.Runner.RunSeason(context.Background(), rec.ProjectID, req.From, req.To, req.Params, req.Outlines)
		h.mu.Lock()
		defer h.mu.Unlock()
		rec.Report = report
		if err != nil {
			rec.Status = "failed"
			rec.Error = err.Error()
			return
		}
		rec.Status = "succeeded"
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": rec.ID})
}

// list and get serialize copies taken under the lock; the run goroutine
// keeps writing the live record until the season finishes.
func (h *RunsHandler) list(c echo.Context) error {
	h.mu.Lock()
	out := make([]RunRecord, 0, len(h.runs))
	for _, rec := range h.runs {
		out = append(out, *rec)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) get(c echo.Context) error {
	h.mu.Lock()
	rec, ok := h.runs[c.Param("id")]
	var out RunRecord
	if ok {
		out = *rec
	}
	h.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, out)
}
