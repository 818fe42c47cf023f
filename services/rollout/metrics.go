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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for controller operations.
var (
	tracer = otel.Tracer("aleutian.rollout")
	meter  = otel.Meter("aleutian.rollout")
)

// Metrics for controller operations.
var (
	decisionsTotal       metric.Int64Counter
	observationsTotal    metric.Int64Counter
	recommendationsTotal metric.Int64Counter
	analyzeLatency       metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		decisionsTotal, err = meter.Int64Counter(
			"rollout_decisions_total",
			metric.WithDescription("Routing decisions by reason and variant"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		observationsTotal, err = meter.Int64Counter(
			"rollout_observations_total",
			metric.WithDescription("Metric observations by variant and write outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recommendationsTotal, err = meter.Int64Counter(
			"rollout_recommendations_total",
			metric.WithDescription("Analyses by resulting recommendation"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analyzeLatency, err = meter.Float64Histogram(
			"rollout_analyze_duration_seconds",
			metric.WithDescription("Duration of experiment analysis including the log scan"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordDecision(ctx context.Context, reason, variant string) {
	if initMetrics() != nil {
		return
	}
	decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("variant", variant),
	))
}

func recordObservation(ctx context.Context, variant string, written bool) {
	if initMetrics() != nil {
		return
	}
	observationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("variant", variant),
		attribute.Bool("written", written),
	))
}

func recordRecommendation(ctx context.Context, recommendation string, seconds float64) {
	if initMetrics() != nil {
		return
	}
	recommendationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("recommendation", recommendation),
	))
	analyzeLatency.Record(ctx, seconds)
}
