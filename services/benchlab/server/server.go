// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the harness over HTTP.
//
// Routes:
//
//	GET  /healthz    liveness
//	GET  /backends   registered backends with capabilities and levels
//	POST /runs       run one or more backends and return results and summaries
//	GET  /metrics    Prometheus exposition
//
// Runs are serialized by the harness runner and rate-limited per server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/config"
	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// ServiceName is the otelgin server name.
const ServiceName = "benchlab-server"

// shutdownTimeout bounds graceful shutdown in ListenAndServe.
const shutdownTimeout = 10 * time.Second

// ErrNilRunner is returned by New without a runner.
var ErrNilRunner = errors.New("runner must not be nil")

// Server is the HTTP surface over a harness.Runner.
//
// Thread Safety: Safe for concurrent use. Runs queue on the runner.
type Server struct {
	runner   *harness.Runner
	cfg      config.ServerConfig
	workload workload.Descriptor
	runOpts  []harness.RunOption
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	presets  map[string][]int
	router   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithWorkload sets the workload used when a request carries no corpus.
func WithWorkload(w workload.Descriptor) Option {
	return func(s *Server) { s.workload = w }
}

// WithRunOptions sets options applied to every run before the request's own.
func WithRunOptions(opts ...harness.RunOption) Option {
	return func(s *Server) { s.runOpts = opts }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithPresets sets the level presets used by requests with "presets": true.
func WithPresets(p map[string][]int) Option {
	return func(s *Server) { s.presets = p }
}

// New builds the server and its router.
//
// Inputs:
//   - runner: Must not be nil.
//   - cfg: Validated server section of the configuration.
//   - opts: Optional settings.
//
// Outputs:
//   - *Server: Ready to serve.
//   - error: ErrNilRunner or config.ErrInvalidConfig.
func New(runner *harness.Runner, cfg config.ServerConfig, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}
	if cfg.RateLimit <= 0 || cfg.Burst < 1 || cfg.MaxRepetitions < 1 || cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("%w: server limits", config.ErrInvalidConfig)
	}

	s := &Server{
		runner:   runner,
		cfg:      cfg,
		workload: workload.Default(),
		logger:   slog.Default(),
		gatherer: prometheus.DefaultGatherer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(ServiceName))
	s.router.Use(s.requestLogger())

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/backends", s.handleBackends)
	s.router.POST("/runs", s.rateLimit(), s.handleRun)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	return s, nil
}

// Router returns the gin engine.
func (s *Server) Router() *gin.Engine { return s.router }

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.LogAttrs(c.Request.Context(), slog.LevelDebug, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
