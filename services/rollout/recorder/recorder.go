// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recorder stamps and appends records to the metrics log.
//
// Writes are best-effort. A failed write is logged and reported back as a
// metricslog.Result; it is never retried and never returned as an error.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
	"github.com/AleutianAI/AleutianRollout/services/rollout/metricslog"
)

// ErrInvalidRecord indicates a record was rejected before reaching the log.
var ErrInvalidRecord = errors.New("invalid record")

// Recorder appends assignment and metric records.
//
// Thread Safety: Safe for concurrent use if the underlying log is.
type Recorder struct {
	log    metricslog.Log
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides the UUIDv4 record ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Recorder) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// New creates a Recorder writing to log.
func New(log metricslog.Log, opts ...Option) *Recorder {
	r := &Recorder{
		log:    log,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordMetric appends one observation.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - experimentName: Experiment the observation belongs to.
//   - variant: Variant that produced the outcome.
//   - metric: Metric name, e.g. "latency_ms".
//   - value: Observed value. Must be finite.
//   - metadata: Optional free-form annotations. May be nil.
//
// # Outputs
//
//   - metricslog.Result: Written is false and Err is set when the record
//     was invalid or the write failed.
func (r *Recorder) RecordMetric(ctx context.Context, experimentName string, variant experiment.Variant,
	metric string, value float64, metadata map[string]any) metricslog.Result {

	rec := metricslog.MetricRecord{
		ID:         r.newID(),
		Timestamp:  r.now().UTC(),
		Experiment: experimentName,
		Variant:    variant,
		Metric:     metric,
		Value:      value,
		Metadata:   metadata,
	}

	var invalid error
	switch {
	case strings.TrimSpace(experimentName) == "":
		invalid = fmt.Errorf("%w: experiment name is required", ErrInvalidRecord)
	case !variant.Valid():
		invalid = fmt.Errorf("%w: variant %q", ErrInvalidRecord, string(variant))
	case strings.TrimSpace(metric) == "":
		invalid = fmt.Errorf("%w: metric name is required", ErrInvalidRecord)
	case math.IsNaN(value) || math.IsInf(value, 0):
		invalid = fmt.Errorf("%w: value %v is not finite", ErrInvalidRecord, value)
	}
	if invalid != nil {
		r.logger.Warn("metric rejected",
			slog.String("experiment", experimentName),
			slog.String("metric", metric),
			slog.String("error", invalid.Error()))
		return metricslog.Result{ID: rec.ID, Err: invalid}
	}

	return r.write(ctx, rec)
}

// RecordAssignment appends one routing decision. userID and sessionID may
// be empty.
func (r *Recorder) RecordAssignment(ctx context.Context, experimentName, target string,
	variant experiment.Variant, userID, sessionID string) metricslog.Result {

	rec := metricslog.AssignmentRecord{
		ID:         r.newID(),
		Timestamp:  r.now().UTC(),
		Experiment: experimentName,
		Target:     target,
		Variant:    variant,
		UserID:     userID,
		SessionID:  sessionID,
	}
	if strings.TrimSpace(experimentName) == "" || !variant.Valid() {
		err := fmt.Errorf("%w: assignment for %q with variant %q", ErrInvalidRecord, experimentName, string(variant))
		r.logger.Warn("assignment rejected", slog.String("error", err.Error()))
		return metricslog.Result{ID: rec.ID, Err: err}
	}
	return r.write(ctx, rec)
}

func (r *Recorder) write(ctx context.Context, rec metricslog.Record) metricslog.Result {
	if err := r.log.Append(ctx, rec); err != nil {
		r.logger.Error("failed to write record, dropping it",
			slog.String("kind", rec.Kind()),
			slog.String("id", rec.RecordID()),
			slog.String("error", err.Error()))
		return metricslog.Result{ID: rec.RecordID(), Err: err}
	}
	return metricslog.Result{Written: true, ID: rec.RecordID()}
}
