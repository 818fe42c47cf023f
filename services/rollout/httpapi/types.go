// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"time"

	"github.com/AleutianAI/AleutianRollout/services/rollout/analysis"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
	"github.com/AleutianAI/AleutianRollout/services/rollout/status"
)

// =============================================================================
// Requests
// =============================================================================

// CreateRequest is the body of POST /v1/rollout/experiments.
//
// Omitted optional fields take the defaults of experiment.DefaultOptions.
type CreateRequest struct {
	// Name is the unique experiment name.
	Name string `json:"name" validate:"required"`

	// Target is the feature or component under test.
	Target string `json:"target" validate:"required"`

	// RolloutPercentage is the candidate fraction in [0, 1].
	RolloutPercentage *float64 `json:"rollout_percentage,omitempty"`

	// DurationDays is the active window length. Zero leaves it unbounded.
	DurationDays *float64 `json:"duration_days,omitempty"`

	// MinSamples is the per-variant observation threshold.
	MinSamples *int `json:"min_samples,omitempty"`

	// ConfidenceLevel is carried into analysis results.
	ConfidenceLevel *float64 `json:"confidence_level,omitempty"`

	// Metrics lists tracked metric names. Informational.
	Metrics []string `json:"metrics,omitempty"`
}

// Options converts the request into creation options.
func (r CreateRequest) Options() experiment.Options {
	var opts []experiment.Option
	if r.RolloutPercentage != nil {
		opts = append(opts, experiment.WithRolloutPercentage(*r.RolloutPercentage))
	}
	if r.DurationDays != nil {
		opts = append(opts, experiment.WithDuration(time.Duration(*r.DurationDays*float64(24*time.Hour))))
	}
	if r.MinSamples != nil {
		opts = append(opts, experiment.WithMinSamples(*r.MinSamples))
	}
	if r.ConfidenceLevel != nil {
		opts = append(opts, experiment.WithConfidenceLevel(*r.ConfidenceLevel))
	}
	if r.Metrics != nil {
		opts = append(opts, experiment.WithTrackedMetrics(r.Metrics...))
	}
	return experiment.Apply(opts...)
}

// ForceRequest is the body of PUT /v1/rollout/experiments/:name/force.
// A null, empty, or "none" variant clears the override.
type ForceRequest struct {
	Variant *string `json:"variant"`
}

// RecordRequest is the body of POST /v1/rollout/record.
type RecordRequest struct {
	Experiment string         `json:"experiment" validate:"required"`
	Variant    string         `json:"variant" validate:"required"`
	Metric     string         `json:"metric" validate:"required"`
	Value      *float64       `json:"value" validate:"required"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// ExperimentsResponse lists experiments in registry order.
type ExperimentsResponse struct {
	Experiments []status.Status `json:"experiments"`
}

// RecordResponse reports whether an observation was persisted.
type RecordResponse struct {
	Written bool   `json:"written"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AnalysisResponse wraps an analysis.
//
// Ready is false while either variant is below min_samples; Result is then
// nil and Samples explains the shortfall.
type AnalysisResponse struct {
	Ready   bool             `json:"ready"`
	Result  *analysis.Result `json:"result,omitempty"`
	Samples *SampleShortfall `json:"samples,omitempty"`
}

// SampleShortfall describes an experiment not yet ready for analysis.
type SampleShortfall struct {
	Baseline  int `json:"baseline"`
	Candidate int `json:"candidate"`
	Required  int `json:"required"`
}

// HealthResponse is returned by GET /v1/rollout/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Experiments int    `json:"experiments"`
}
