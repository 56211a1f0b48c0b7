// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/benchlab/pkg/validation"
	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BackendInfo describes one registered backend.
type BackendInfo struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Capabilities string `json:"capabilities"`
	MinLevel     int    `json:"min_level"`
	MaxLevel     int    `json:"max_level"`
	Source       string `json:"source,omitempty"`
	SourceLevel  int    `json:"source_level,omitempty"`
	Exclusive    bool   `json:"exclusive,omitempty"`
}

// RunRequest is the POST /runs body. Unset fields take the server defaults.
type RunRequest struct {
	// Backends lists ids to run. Empty runs every backend, or every backend
	// of Kind when set.
	Backends []string `json:"backends"`
	Kind     string   `json:"kind" binding:"omitempty,oneof=allocation codec"`

	Repetitions int    `json:"repetitions" binding:"required,gte=1"`
	Level       *int   `json:"level"`
	Mode        string `json:"mode" binding:"omitempty,oneof=auto roundtrip compress decompress"`
	Warmup      *bool  `json:"warmup"`
	Verify      *bool  `json:"verify"`

	// Presets runs every codec at its preset levels instead of Backends.
	Presets bool `json:"presets"`

	Corpus     string `json:"corpus"`
	Iterations *int   `json:"iterations" binding:"omitempty,gte=0"`
	Fanout     *int   `json:"fanout" binding:"omitempty,gte=1"`
}

// RunResponse is the POST /runs reply.
type RunResponse struct {
	RunID     string            `json:"run_id"`
	Results   []harness.Result  `json:"results"`
	Summaries []harness.Summary `json:"summaries"`

	// Error carries backend errors of a sweep that still produced results.
	Error string `json:"error,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backends": s.runner.Registry().Count()})
}

func (s *Server) handleBackends(c *gin.Context) {
	handles := s.runner.Registry().Handles()
	infos := make([]BackendInfo, 0, len(handles))
	for _, h := range handles {
		levels := h.Levels()
		info := BackendInfo{
			ID:           h.ID,
			Kind:         string(h.Kind()),
			Capabilities: h.Caps.String(),
			MinLevel:     levels.Min,
			MaxLevel:     levels.Max,
			Exclusive:    h.IsExclusive(),
		}
		if id, level, ok := h.Source(); ok {
			info.Source, info.SourceLevel = id, level
		}
		infos = append(infos, info)
	}
	c.JSON(http.StatusOK, gin.H{"backends": infos})
}

func (s *Server) handleRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("invalid run request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if err := validation.ValidateNames(req.Backends); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backend id", "details": err.Error()})
		return
	}
	if req.Repetitions > s.cfg.MaxRepetitions {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many repetitions", "max": s.cfg.MaxRepetitions})
		return
	}

	w, err := s.requestWorkload(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workload", "details": err.Error()})
		return
	}
	if w.Iterations() > s.cfg.MaxIterations {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many iterations", "max": s.cfg.MaxIterations})
		return
	}
	if req.Presets && len(s.presets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no presets configured"})
		return
	}

	runID := uuid.NewString()
	opts := append(append([]harness.RunOption{}, s.runOpts...), requestOptions(req, runID)...)
	results, err := s.run(c.Request.Context(), req, w, opts)

	if err != nil && len(results) == 0 {
		status := statusFor(err)
		s.logger.Warn("run failed",
			slog.String("run_id", runID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		c.JSON(status, gin.H{"error": err.Error(), "run_id": runID})
		return
	}

	resp := RunResponse{
		RunID:     runID,
		Results:   results,
		Summaries: harness.Summarize(results),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) run(ctx context.Context, req RunRequest, w workload.Descriptor, opts []harness.RunOption) ([]harness.Result, error) {
	switch {
	case req.Presets:
		return s.runner.RunPresets(ctx, w, req.Repetitions, s.presets, opts...)
	case len(req.Backends) == 1:
		return s.runner.RunOnce(ctx, req.Backends[0], w, req.Repetitions, opts...)
	case len(req.Backends) == 0 && req.Kind != "":
		ids := s.runner.Registry().ListKind(backend.Kind(req.Kind))
		if len(ids) == 0 {
			return nil, nil
		}
		return s.runner.RunAll(ctx, ids, w, req.Repetitions, opts...)
	default:
		return s.runner.RunAll(ctx, req.Backends, w, req.Repetitions, opts...)
	}
}

func (s *Server) requestWorkload(req RunRequest) (workload.Descriptor, error) {
	if req.Corpus == "" && req.Iterations == nil && req.Fanout == nil {
		return s.workload, nil
	}
	corpus := s.workload.Corpus()
	if req.Corpus != "" {
		corpus = []byte(req.Corpus)
	}
	iterations, fanout := s.workload.Iterations(), s.workload.Fanout()
	if req.Iterations != nil {
		iterations = *req.Iterations
	}
	if req.Fanout != nil {
		fanout = *req.Fanout
	}
	return workload.Generate(corpus, iterations, fanout)
}

func requestOptions(req RunRequest, runID string) []harness.RunOption {
	opts := []harness.RunOption{harness.WithRunID(runID)}
	if req.Level != nil {
		opts = append(opts, harness.WithLevel(*req.Level))
	}
	if req.Mode != "" {
		opts = append(opts, harness.WithMode(harness.Mode(req.Mode)))
	}
	if req.Warmup != nil {
		opts = append(opts, harness.WithWarmup(*req.Warmup))
	}
	if req.Verify != nil {
		opts = append(opts, harness.WithVerification(*req.Verify))
	}
	return opts
}

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrUnknownBackend):
		return http.StatusNotFound
	case errors.Is(err, harness.ErrModeUnsupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, harness.ErrInvalidConfig), errors.Is(err, harness.ErrInvalidRepetitions),
		errors.Is(err, backend.ErrInvalidLevel):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
