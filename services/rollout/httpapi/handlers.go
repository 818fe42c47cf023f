// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi exposes the rollout controller over a JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRollout/services/rollout/analysis"
	"github.com/AleutianAI/AleutianRollout/services/rollout/assign"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
	"github.com/AleutianAI/AleutianRollout/services/rollout/metricslog"
	"github.com/AleutianAI/AleutianRollout/services/rollout/recorder"
	"github.com/AleutianAI/AleutianRollout/services/rollout/registry"
	"github.com/AleutianAI/AleutianRollout/services/rollout/status"
)

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeInvalidVariant = "INVALID_VARIANT"
	CodeInvalidRecord  = "INVALID_RECORD"
	CodeNotFound       = "EXPERIMENT_NOT_FOUND"
	CodePersistFailed  = "PERSIST_FAILED"
	CodeInternal       = "INTERNAL_ERROR"
)

const (
	headerRequestID     = "X-Request-ID"
	maxRequestBodyBytes = 1 << 20
	statusHealthy       = "healthy"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service is the subset of *rollout.Controller the handlers need.
type Service interface {
	Create(ctx context.Context, name, target string, opts experiment.Options) (experiment.Config, error)
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
	SetForceVariant(ctx context.Context, name string, v *experiment.Variant) error
	Decide(ctx context.Context, req assign.Request) assign.Decision
	Record(ctx context.Context, experimentName string, variant experiment.Variant,
		metricName string, value float64, metadata map[string]any) metricslog.Result
	Analyze(ctx context.Context, name string) (*analysis.Result, error)
	Status(ctx context.Context, name string) (status.Status, error)
	List(ctx context.Context) ([]status.Status, error)
}

// Handlers serves the rollout endpoints.
type Handlers struct {
	svc    Service
	logger *slog.Logger
}

// NewHandlers creates handlers over svc. A nil logger uses slog.Default().
func NewHandlers(svc Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// =============================================================================
// Experiment Management
// =============================================================================

// HandleCreate handles POST /v1/rollout/experiments.
//
// Response:
//
//	201 Created: experiment.Config
//	400 Bad Request: Malformed body or invalid options
//	500 Internal Server Error: Registered in memory but not persisted
func (h *Handlers) HandleCreate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreate")

	var req CreateRequest
	if !h.bind(c, logger, &req) {
		return
	}

	cfg, err := h.svc.Create(c.Request.Context(), req.Name, req.Target, req.Options())
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	logger.Info("experiment created",
		slog.String("experiment", cfg.Name),
		slog.String("target", cfg.Target),
		slog.Float64("rollout_percentage", cfg.RolloutPercentage))
	c.JSON(http.StatusCreated, cfg)
}

// HandleList handles GET /v1/rollout/experiments.
func (h *Handlers) HandleList(c *gin.Context) {
	logger := h.requestLogger(c, "HandleList")

	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if list == nil {
		list = []status.Status{}
	}
	c.JSON(http.StatusOK, ExperimentsResponse{Experiments: list})
}

// HandleStatus handles GET /v1/rollout/experiments/:name.
func (h *Handlers) HandleStatus(c *gin.Context) {
	logger := h.requestLogger(c, "HandleStatus")

	st, err := h.svc.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandlePause handles POST /v1/rollout/experiments/:name/pause.
func (h *Handlers) HandlePause(c *gin.Context) {
	h.toggle(c, "HandlePause", h.svc.Pause)
}

// HandleResume handles POST /v1/rollout/experiments/:name/resume.
func (h *Handlers) HandleResume(c *gin.Context) {
	h.toggle(c, "HandleResume", h.svc.Resume)
}

func (h *Handlers) toggle(c *gin.Context, handler string, fn func(context.Context, string) error) {
	logger := h.requestLogger(c, handler)
	name := c.Param("name")

	if err := fn(c.Request.Context(), name); err != nil {
		h.fail(c, logger, err)
		return
	}
	h.respondStatus(c, logger, name, http.StatusOK)
}

// HandleForce handles PUT /v1/rollout/experiments/:name/force.
//
// Request Body:
//
//	{"variant": "candidate"} pins, {"variant": null} clears.
func (h *Handlers) HandleForce(c *gin.Context) {
	logger := h.requestLogger(c, "HandleForce")
	name := c.Param("name")

	var req ForceRequest
	if !h.bind(c, logger, &req) {
		return
	}

	var raw string
	if req.Variant != nil {
		raw = *req.Variant
	}
	v, err := experiment.ParseForceVariant(raw)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	if err := h.svc.SetForceVariant(c.Request.Context(), name, v); err != nil {
		h.fail(c, logger, err)
		return
	}
	h.respondStatus(c, logger, name, http.StatusOK)
}

func (h *Handlers) respondStatus(c *gin.Context, logger *slog.Logger, name string, code int) {
	st, err := h.svc.Status(c.Request.Context(), name)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(code, st)
}

// =============================================================================
// Traffic
// =============================================================================

// HandleDecide handles POST /v1/rollout/decide.
//
// Response:
//
//	200 OK: assign.Decision. Assignment write failures do not change the
//	status code.
func (h *Handlers) HandleDecide(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDecide")

	var req assign.Request
	if !h.bind(c, logger, &req) {
		return
	}
	c.JSON(http.StatusOK, h.svc.Decide(c.Request.Context(), req))
}

// HandleRecord handles POST /v1/rollout/record.
//
// Response:
//
//	202 Accepted: RecordResponse with Written true
//	400 Bad Request: Malformed body or invalid observation
//	503 Service Unavailable: RecordResponse with the write error
func (h *Handlers) HandleRecord(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRecord")

	var req RecordRequest
	if !h.bind(c, logger, &req) {
		return
	}
	v, err := experiment.ParseVariant(req.Variant)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	res := h.svc.Record(c.Request.Context(), req.Experiment, v, req.Metric, *req.Value, req.Metadata)
	switch {
	case res.OK():
		c.JSON(http.StatusAccepted, RecordResponse{Written: true, ID: res.ID})
	case errors.Is(res.Err, recorder.ErrInvalidRecord):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: res.Err.Error(), Code: CodeInvalidRecord})
	default:
		c.JSON(http.StatusServiceUnavailable, RecordResponse{ID: res.ID, Error: res.Err.Error()})
	}
}

// =============================================================================
// Analysis
// =============================================================================

// HandleAnalyze handles GET /v1/rollout/experiments/:name/analysis.
//
// Response:
//
//	200 OK: AnalysisResponse. Ready is false while samples are short.
//	404 Not Found: Unknown experiment
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAnalyze")

	res, err := h.svc.Analyze(c.Request.Context(), c.Param("name"))
	var short *analysis.InsufficientDataError
	switch {
	case errors.As(err, &short):
		c.JSON(http.StatusOK, AnalysisResponse{Samples: &SampleShortfall{
			Baseline:  short.Baseline,
			Candidate: short.Candidate,
			Required:  short.Required,
		}})
	case err != nil:
		h.fail(c, logger, err)
	default:
		logger.Info("analysis complete",
			slog.String("experiment", res.Experiment),
			slog.String("recommendation", string(res.Recommendation)))
		c.JSON(http.StatusOK, AnalysisResponse{Ready: true, Result: res})
	}
}

// HandleHealth handles GET /v1/rollout/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	logger := h.requestLogger(c, "HandleHealth")

	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: statusHealthy, Experiments: len(list)})
}

// =============================================================================
// Helpers
// =============================================================================

// bind decodes a JSON body strictly: unknown fields are rejected and
// validate tags are enforced. It writes the 400 response itself.
func (h *Handlers) bind(c *gin.Context, logger *slog.Logger, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(c.Request.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil {
		err = validate.Struct(dst)
	}
	if err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid request body: %v", err),
			Code:  CodeInvalidRequest,
		})
		return false
	}
	return true
}

// fail maps a service error to a status code and error code.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	code, errCode := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, registry.ErrUnknownExperiment):
		code, errCode = http.StatusNotFound, CodeNotFound
	case errors.Is(err, experiment.ErrInvalidConfig):
		code, errCode = http.StatusBadRequest, CodeInvalidConfig
	case errors.Is(err, experiment.ErrInvalidVariant):
		code, errCode = http.StatusBadRequest, CodeInvalidVariant
	case errors.Is(err, registry.ErrPersist):
		errCode = CodePersistFailed
	}

	if code >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	} else {
		logger.Warn("request rejected", slog.String("error", err.Error()))
	}
	c.JSON(code, ErrorResponse{Error: err.Error(), Code: errCode})
}

// requestLogger gets or creates a request ID and returns a logger carrying it.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(headerRequestID, requestID)
	return h.logger.With(slog.String("request_id", requestID), slog.String("handler", handler))
}
