// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRollout/services/rollout/analysis"
	"github.com/AleutianAI/AleutianRollout/services/rollout/assign"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
	"github.com/AleutianAI/AleutianRollout/services/rollout/metricslog"
	"github.com/AleutianAI/AleutianRollout/services/rollout/recorder"
	"github.com/AleutianAI/AleutianRollout/services/rollout/registry"
	"github.com/AleutianAI/AleutianRollout/services/rollout/status"
	"github.com/AleutianAI/AleutianRollout/services/rollout/telemetry"
)

// -----------------------------------------------------------------------------
// Dependencies
// -----------------------------------------------------------------------------

// Deps are the collaborators a Controller is built from.
type Deps struct {
	// Store persists the experiment set. Required.
	Store registry.Persister

	// Log is the record stream. Required. The controller closes it.
	Log metricslog.Log

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Overrides defaults to assign.EnvOverrides{}.
	Overrides assign.Overrides

	// Test defaults to analysis.HeuristicTest{}.
	Test analysis.Test

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Random defaults to a uniform draw from math/rand/v2.
	Random assign.RandomSource

	// LenientLoad isolates bad entries in the config document instead of
	// rejecting the whole document.
	LenientLoad bool
}

// -----------------------------------------------------------------------------
// Controller
// -----------------------------------------------------------------------------

// Controller is the public face of the engine.
//
// Description:
//
//	Create, Pause, Resume, and SetForceVariant manage experiments. Decide
//	routes traffic, Record collects outcomes, Analyze recommends, and
//	Status and List report progress.
//
// Thread Safety: Safe for concurrent use.
type Controller struct {
	reg      *registry.Registry
	log      metricslog.Log
	rec      *recorder.Recorder
	engine   *assign.Engine
	analyzer *analysis.Analyzer
	reporter *status.Reporter
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Controller and loads the experiment set.
//
// Description:
//
//	Loading never fails startup: a missing or rejected config document is
//	logged and the registry starts empty.
//
// Inputs:
//   - deps: Collaborators. Store and Log are required.
//
// Outputs:
//   - *Controller: Ready for use. Call Close when done.
//   - error: ErrMissingDependency if Store or Log is nil.
func New(deps Deps) (*Controller, error) {
	if deps.Store == nil || deps.Log == nil {
		return nil, fmt.Errorf("%w: store and log are required", ErrMissingDependency)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	if err := initMetrics(); err != nil {
		logger.Warn("rollout metrics unavailable", slog.String("error", err.Error()))
	}

	reg := registry.New(deps.Store,
		registry.WithLogger(logger.With(slog.String("component", "registry"))),
		registry.WithClock(now),
		registry.WithLenientLoad(deps.LenientLoad))

	rec := recorder.New(deps.Log,
		recorder.WithLogger(logger.With(slog.String("component", "recorder"))),
		recorder.WithClock(now))

	engineOpts := []assign.Option{
		assign.WithClock(now),
		assign.WithLogger(logger.With(slog.String("component", "assign"))),
		assign.WithOverrides(deps.Overrides),
		assign.WithRandomSource(deps.Random),
	}

	agg := analysis.NewAggregator(deps.Log, logger.With(slog.String("component", "analysis")))

	return &Controller{
		reg:    reg,
		log:    deps.Log,
		rec:    rec,
		engine: assign.NewEngine(reg, rec, engineOpts...),
		analyzer: analysis.NewAnalyzer(agg,
			analysis.WithTest(deps.Test),
			analysis.WithClock(now),
			analysis.WithLogger(logger.With(slog.String("component", "analysis")))),
		reporter: status.NewReporter(agg, status.WithClock(now), status.WithLogger(logger)),
		logger:   logger,
		now:      now,
	}, nil
}

// Registry exposes the registry, e.g. for a reload watcher.
func (c *Controller) Registry() *registry.Registry {
	return c.reg
}

// Close closes the record stream.
func (c *Controller) Close() error {
	return c.log.Close()
}

// -----------------------------------------------------------------------------
// Experiment Management
// -----------------------------------------------------------------------------

// Create registers an experiment, overwriting any existing one of the same
// name, and persists the set.
//
// Inputs:
//   - ctx: Context for tracing.
//   - name: Unique experiment name.
//   - target: Feature or component under test.
//   - opts: Creation options; experiment.DefaultOptions() for defaults.
//
// Outputs:
//   - experiment.Config: The stored configuration.
//   - error: ErrInvalidConfig, or registry.ErrPersist when the experiment is
//     registered in memory but was not saved.
func (c *Controller) Create(ctx context.Context, name, target string, opts experiment.Options) (experiment.Config, error) {
	_, span := tracer.Start(ctx, "rollout.Controller.Create",
		trace.WithAttributes(
			attribute.String("experiment", name),
			attribute.String("target", target),
			attribute.Float64("rollout_percentage", opts.RolloutPercentage),
		),
	)
	defer span.End()

	cfg, err := c.reg.Create(name, target, opts)
	if err != nil {
		telemetry.RecordError(span, err)
		return cfg, err
	}
	return cfg, nil
}

// Pause disables an experiment. Unknown names return ErrUnknownExperiment.
func (c *Controller) Pause(ctx context.Context, name string) error {
	return c.mutate(ctx, "rollout.Controller.Pause", name, c.reg.Pause)
}

// Resume re-enables an experiment. Unknown names return ErrUnknownExperiment.
func (c *Controller) Resume(ctx context.Context, name string) error {
	return c.mutate(ctx, "rollout.Controller.Resume", name, c.reg.Resume)
}

// SetForceVariant pins an experiment to v, or clears the pin when v is nil.
func (c *Controller) SetForceVariant(ctx context.Context, name string, v *experiment.Variant) error {
	return c.mutate(ctx, "rollout.Controller.SetForceVariant", name, func(name string) error {
		return c.reg.SetForceVariant(name, v)
	})
}

func (c *Controller) mutate(ctx context.Context, spanName, name string, fn func(string) error) error {
	_, span := tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("experiment", name)))
	defer span.End()

	if err := fn(name); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// Get returns the named configuration.
func (c *Controller) Get(name string) (experiment.Config, bool) {
	return c.reg.Get(name)
}

// -----------------------------------------------------------------------------
// Traffic
// -----------------------------------------------------------------------------

// Decide routes one request. It never fails; see assign.Engine.Decide.
func (c *Controller) Decide(ctx context.Context, req assign.Request) assign.Decision {
	ctx, span := tracer.Start(ctx, "rollout.Controller.Decide",
		trace.WithAttributes(attribute.String("target", req.Target)),
	)
	defer span.End()

	d := c.engine.Decide(ctx, req)

	span.SetAttributes(
		attribute.String("experiment", d.Experiment),
		attribute.String("variant", string(d.Variant)),
		attribute.String("reason", string(d.Reason)),
	)
	if d.Logged.Err != nil {
		span.AddEvent("assignment not logged", trace.WithAttributes(attribute.String("error", d.Logged.Err.Error())))
	}
	recordDecision(ctx, string(d.Reason), string(d.Variant))
	return d
}

// Record appends one outcome observation. It never fails; the returned
// Result says whether the record was written.
func (c *Controller) Record(ctx context.Context, experimentName string, variant experiment.Variant,
	metricName string, value float64, metadata map[string]any) metricslog.Result {

	ctx, span := tracer.Start(ctx, "rollout.Controller.Record",
		trace.WithAttributes(
			attribute.String("experiment", experimentName),
			attribute.String("variant", string(variant)),
			attribute.String("metric", metricName),
		),
	)
	defer span.End()

	res := c.rec.RecordMetric(ctx, experimentName, variant, metricName, value, metadata)
	if res.Err != nil {
		telemetry.RecordError(span, res.Err)
	}
	recordObservation(ctx, string(variant), res.Written)
	return res
}

// -----------------------------------------------------------------------------
// Analysis & Reporting
// -----------------------------------------------------------------------------

// Analyze evaluates an experiment against its accumulated records.
//
// Outputs:
//   - *analysis.Result: The recommendation and evidence, or nil.
//   - error: ErrUnknownExperiment, ErrInsufficientData (an expected state,
//     not a failure), or a log read error.
func (c *Controller) Analyze(ctx context.Context, name string) (*analysis.Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "rollout.Controller.Analyze",
		trace.WithAttributes(attribute.String("experiment", name)),
	)
	defer span.End()

	cfg, ok := c.reg.Get(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownExperiment, name)
		telemetry.LoggerWithTrace(ctx, c.logger).Warn("analyze: experiment not found", slog.String("experiment", name))
		telemetry.RecordError(span, err)
		return nil, err
	}

	res, err := c.analyzer.Analyze(ctx, cfg)
	if err != nil {
		if errors.Is(err, ErrInsufficientData) {
			span.SetAttributes(attribute.Bool("insufficient_data", true))
		} else {
			telemetry.RecordError(span, err)
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("recommendation", string(res.Recommendation)))
	recordRecommendation(ctx, string(res.Recommendation), time.Since(start).Seconds())
	return res, nil
}

// Status summarises one experiment without any sample gate.
func (c *Controller) Status(ctx context.Context, name string) (status.Status, error) {
	ctx, span := tracer.Start(ctx, "rollout.Controller.Status",
		trace.WithAttributes(attribute.String("experiment", name)),
	)
	defer span.End()

	cfg, ok := c.reg.Get(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownExperiment, name)
		telemetry.LoggerWithTrace(ctx, c.logger).Warn("status: experiment not found", slog.String("experiment", name))
		telemetry.RecordError(span, err)
		return status.Status{}, err
	}

	s, err := c.reporter.Report(ctx, cfg)
	if err != nil {
		telemetry.RecordError(span, err)
		return status.Status{}, err
	}
	return s, nil
}

// List summarises every experiment in registry order.
func (c *Controller) List(ctx context.Context) ([]status.Status, error) {
	ctx, span := tracer.Start(ctx, "rollout.Controller.List")
	defer span.End()

	out, err := c.reporter.ReportAll(ctx, c.reg.Configs())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("experiments", len(out)))
	return out, nil
}
