package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/joon-park/storyforge/config"
	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/episode"
	"github.com/joon-park/storyforge/internal/runner"
)

// Scheduler appends episodes to configured projects on their cron
// slots. A redis lock keeps replicas from double-running a project.
type Scheduler struct {
	Store    continuity.Store
	Runner   *runner.Runner
	Rdb      *redis.Client
	Projects []config.ScheduledRun
	LockTTL  time.Duration
	Logger   *log.Logger
	Stop     chan struct{}

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func (s *Scheduler) Start() {
	if s.lastRun == nil {
		s.lastRun = map[string]time.Time{}
	}
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	for _, p := range s.Projects {
		s.mu.Lock()
		last, seen := s.lastRun[p.ProjectID]
		s.mu.Unlock()
		var lastPtr *time.Time
		if seen {
			lastPtr = &last
		}
		if !isDue(p.CronSpec, lastPtr) {
			continue
		}

		// distributed lock to avoid duplicate runs across replicas
		if s.Rdb != nil {
			lockKey := "sched:lock:" + p.ProjectID
			ttl := s.LockTTL
			if ttl <= 0 {
				ttl = 10 * time.Minute
			}
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", ttl).Result()
			if !ok {
				continue
			}
		}

		s.mu.Lock()
		s.lastRun[p.ProjectID] = time.Now()
		s.mu.Unlock()

		go func(p config.ScheduledRun) {
			snap, err := s.Store.Snapshot(ctx, p.ProjectID)
			if err != nil {
				if s.Logger != nil {
					s.Logger.Printf("snapshot for %s failed: %v", p.ProjectID, err)
				}
				return
			}
			episodes := p.Episodes
			if episodes <= 0 {
				episodes = 1
			}
			from := snap.LastEpisode + 1
			to := from + episodes - 1
			report, err := s.Runner.RunSeason(ctx, p.ProjectID, from, to, episode.GenerationParams{}, nil)
			if err != nil {
				if s.Logger != nil {
					s.Logger.Printf("scheduled run of %s failed: %v", p.ProjectID, err)
				}
				return
			}
			if s.Logger != nil {
				s.Logger.Printf("scheduled run of %s %d..%d: %d passed, %d failed",
					p.ProjectID, from, to, report.Passed, report.Failed)
			}
		}(p)
	}
}

// isDue determines if a project with cronSpec should run now based on last run time.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			// If never run, due now
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
