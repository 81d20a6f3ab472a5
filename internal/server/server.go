// Package server exposes the research pipeline over HTTP: a streaming
// research endpoint, standalone tool endpoints, run history and auth.
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

	"github.com/alfhq/alf/config"
	"github.com/alfhq/alf/internal/crawljobs"
	"github.com/alfhq/alf/internal/index"
	"github.com/alfhq/alf/internal/research"
	"github.com/alfhq/alf/internal/research/fetch"
	"github.com/alfhq/alf/internal/runtime"
	"github.com/alfhq/alf/internal/store"
	"github.com/alfhq/alf/internal/telemetry"
)

// Run loads configuration, wires dependencies and serves until the listener
// fails. addr overrides server.address when non-empty.
func Run(cfgPath, addr string) error {
	cfg := config.LoadConfig(cfgPath)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

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
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	// Shared dependencies
	tele := telemetry.New(prometheus.DefaultRegisterer)
	httpc := research.NewHTTPClient(cfg.Search.Timeout, cfg.Pipeline.RetryMax, cfg.Pipeline.RetryBackoff)

	searchStage, err := research.NewSearchStage(cfg.Search, httpc)
	if err != nil {
		return err
	}
	fetcher, err := fetch.New(cfg.Scrape, research.NewHTTPClient(cfg.Scrape.Timeout, cfg.Pipeline.RetryMax, cfg.Pipeline.RetryBackoff), cfg.Pipeline.RetryMax, cfg.Pipeline.RetryBackoff)
	if err != nil {
		return err
	}
	provider, err := research.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	orch := research.NewOrchestrator(cfg, searchStage, fetcher, provider, tele,
		log.New(log.Writer(), "[ORCH] ", log.LstdFlags))

	// Optional persistence. Without Postgres the service still streams
	// research, it just does not keep history or accounts.
	var st *store.Store
	if cfg.Storage.Postgres.Validate() == nil {
		st, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	} else {
		baseLogger.Printf("postgres not configured, run history disabled")
	}

	// Crawl jobs: Redis when configured, process memory otherwise.
	var jobStore crawljobs.Store
	if cfg.Storage.Redis.Host != "" {
		rs := crawljobs.NewRedisStore(cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, 0)
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		jobStore = rs
	} else {
		jobStore = crawljobs.NewMemoryStore()
	}
	crawlRunner := crawljobs.NewRunner(jobStore,
		research.NewScrapeStage(fetcher, cfg.Scrape.MaxChars, cfg.Scrape.Concurrency), 0)

	idx := index.NewStore(0)

	api := e.Group("/api")

	// Auth is optional for local development.
	var authMW echo.MiddlewareFunc
	if !cfg.Server.AuthFree {
		if st == nil {
			return fmt.Errorf("auth requires postgres (set server.auth_free for local use)")
		}
		secret, err := runtime.LoadJWTSecret(cfg)
		if err != nil {
			return err
		}
		ah := &AuthHandler{Store: st, Secret: secret}
		ah.Register(api.Group("/auth"))
		authMW = runtime.EchoAuthMiddleware(secret)
	}

	rh := &ResearchHandler{Orch: orch, Store: st, Index: idx,
		Logger: log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)}
	rh.Register(api, authMW)

	th := &ToolsHandler{Search: searchStage, Fetcher: fetcher, MaxChars: cfg.Scrape.MaxChars,
		Jobs: jobStore, Runner: crawlRunner}
	th.Register(api.Group("/tools"), authMW)

	if st != nil {
		runs := &RunsHandler{Store: st, Index: idx}
		runs.Register(api.Group("/runs"), authMW)
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	baseLogger.Printf("listening on %s", addr)
	return e.Start(addr)
}
