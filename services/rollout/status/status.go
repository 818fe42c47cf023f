// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status builds ungated dashboard summaries of experiments.
//
// Unlike analysis, status never withholds output for lack of data; it
// reports raw counts and progress toward min_samples.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/AleutianRollout/services/rollout/analysis"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

// Status is the dashboard view of one experiment.
type Status struct {
	Name              string              `json:"name"`
	Target            string              `json:"target"`
	Enabled           bool                `json:"enabled"`
	Active            bool                `json:"active"`
	RolloutPercentage float64             `json:"rollout_percentage"`
	ForceVariant      *experiment.Variant `json:"force_variant"`
	StartTime         *time.Time          `json:"start_time"`
	EndTime           *time.Time          `json:"end_time"`
	MinSamples        int                 `json:"min_samples"`

	// BaselineSamples and CandidateSamples count metric observations.
	BaselineSamples  int `json:"baseline_samples"`
	CandidateSamples int `json:"candidate_samples"`

	// BaselineAssignments and CandidateAssignments count logged decisions.
	BaselineAssignments  int `json:"baseline_assignments"`
	CandidateAssignments int `json:"candidate_assignments"`

	// Progress is percent of the 2 x min_samples observation target, capped at 100.
	Progress float64 `json:"progress"`
}

// Progress returns min((baseline + candidate) / (2 * minSamples), 1) * 100.
// A non-positive minSamples is treated as already satisfied.
func Progress(baseline, candidate, minSamples int) float64 {
	if minSamples <= 0 {
		return 100
	}
	ratio := float64(baseline+candidate) / float64(2*minSamples)
	return math.Min(ratio, 1) * 100
}

// Reporter builds Status values from the metrics log.
//
// Thread Safety: Safe for concurrent use.
type Reporter struct {
	agg    *analysis.Aggregator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock overrides time.Now for the active flag.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReporter creates a Reporter reading through agg.
func NewReporter(agg *analysis.Aggregator, opts ...Option) *Reporter {
	r := &Reporter{
		agg:    agg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report scans the log and summarises cfg.
func (r *Reporter) Report(ctx context.Context, cfg experiment.Config) (Status, error) {
	counts, err := r.agg.Count(ctx, cfg.Name)
	if err != nil {
		return Status{}, fmt.Errorf("count records for %s: %w", cfg.Name, err)
	}
	return build(cfg, counts, r.now()), nil
}

// ReportAll summarises every config in order with a single pass per
// experiment. A scan failure aborts the listing.
func (r *Reporter) ReportAll(ctx context.Context, configs []experiment.Config) ([]Status, error) {
	out := make([]Status, 0, len(configs))
	for _, cfg := range configs {
		s, err := r.Report(ctx, cfg)
		if err != nil {
			r.logger.Error("status listing failed", slog.String("experiment", cfg.Name), slog.String("error", err.Error()))
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func build(cfg experiment.Config, c analysis.Counts, now time.Time) Status {
	cfg = cfg.Clone()
	return Status{
		Name:                 cfg.Name,
		Target:               cfg.Target,
		Enabled:              cfg.Enabled,
		Active:               cfg.IsActive(now),
		RolloutPercentage:    cfg.RolloutPercentage,
		ForceVariant:         cfg.ForceVariant,
		StartTime:            cfg.StartTime,
		EndTime:              cfg.EndTime,
		MinSamples:           cfg.MinSamples,
		BaselineSamples:      c.BaselineObservations,
		CandidateSamples:     c.CandidateObservations,
		BaselineAssignments:  c.BaselineAssignments,
		CandidateAssignments: c.CandidateAssignments,
		Progress:             Progress(c.BaselineObservations, c.CandidateObservations, cfg.MinSamples),
	}
}
