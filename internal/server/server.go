package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/joon-park/storyforge/config"
	"github.com/joon-park/storyforge/internal/continuity"
	"github.com/joon-park/storyforge/internal/guard"
	"github.com/joon-park/storyforge/internal/runner"
	"github.com/joon-park/storyforge/internal/telemetry"
	"github.com/joon-park/storyforge/provider"
)

func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	_ = Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0)

	// Initialize shared dependencies (top-level DI)
	ctx := context.Background()
	pg, err := continuity.NewPostgresStore(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	var rdb *redis.Client
	var store continuity.Store = pg
	if cfg.Storage.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		store = continuity.NewCachedStore(pg, rdb, cfg.Storage.Redis.TTL, log.New(log.Writer(), "[CACHE] ", log.LstdFlags))
	}

	llm, err := provider.NewProvider(provider.Client(cfg.LLM.Provider), provider.Options{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		JudgeModel:  cfg.LLM.JudgeModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return err
	}

	guards, err := guard.Build(cfg.Guards.Order, cfg.Guards.Settings(), llm)
	if err != nil {
		return err
	}
	chainLogger := log.New(log.Writer(), "[GUARD] ", log.LstdFlags)
	chain := guard.NewChain(guards, guard.Policy(cfg.Guards.Policy), cfg.Guards.StopOn, chainLogger)

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New(prometheus.DefaultRegisterer)
	}
	runLogger := log.New(log.Writer(), "[RUN] ", log.LstdFlags)
	seasons := runner.New(llm, chain, store, cfg.Retry.Controller(), cfg.Runner.Season(), runLogger, metrics)

	secret, err := LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	ph := &ProjectsHandler{Store: store}
	projects := api.Group("/projects")
	ph.Register(projects, secret)
	rh := &RunsHandler{Runner: seasons}
	rh.Register(projects, api.Group("/runs"), secret)

	if cfg.Scheduler.Enabled {
		sched := &Scheduler{
			Store:    store,
			Runner:   seasons,
			Rdb:      rdb,
			Projects: cfg.Scheduler.Projects,
			LockTTL:  cfg.Scheduler.LockTTL,
			Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
			Stop:     make(chan struct{}),
		}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
