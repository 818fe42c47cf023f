// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
	"github.com/AleutianAI/AleutianRollout/services/rollout/metricslog"
)

// -----------------------------------------------------------------------------
// Partition
// -----------------------------------------------------------------------------

// Partition is one experiment's metric records split by variant.
type Partition struct {
	Baseline  []metricslog.MetricRecord
	Candidate []metricslog.MetricRecord
}

// Count returns the number of records for v.
func (p Partition) Count(v experiment.Variant) int {
	if v.IsCandidate() {
		return len(p.Candidate)
	}
	return len(p.Baseline)
}

// -----------------------------------------------------------------------------
// Aggregator
// -----------------------------------------------------------------------------

// Aggregator reads partitions from the metrics log.
//
// Nothing is cached: every Load rescans the full log.
//
// Thread Safety: Safe for concurrent use.
type Aggregator struct {
	log    metricslog.Log
	logger *slog.Logger
}

// NewAggregator creates an Aggregator over log.
func NewAggregator(log metricslog.Log, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{log: log, logger: logger}
}

// Load scans the log and returns the metric records for experimentName.
// Assignment records are ignored. A missing log yields an empty partition.
func (a *Aggregator) Load(ctx context.Context, experimentName string) (Partition, error) {
	var p Partition
	err := a.log.Scan(ctx, func(e metricslog.Entry) error {
		m := e.Metric
		if m == nil || m.Experiment != experimentName {
			return nil
		}
		if m.Variant.IsCandidate() {
			p.Candidate = append(p.Candidate, *m)
		} else {
			p.Baseline = append(p.Baseline, *m)
		}
		return nil
	})
	if err != nil {
		return Partition{}, err
	}
	a.logger.Debug("loaded experiment records",
		slog.String("experiment", experimentName),
		slog.Int("baseline", len(p.Baseline)),
		slog.Int("candidate", len(p.Candidate)))
	return p, nil
}

// Counts is the number of records per variant for one experiment.
type Counts struct {
	BaselineObservations  int `json:"baseline_observations"`
	CandidateObservations int `json:"candidate_observations"`
	BaselineAssignments   int `json:"baseline_assignments"`
	CandidateAssignments  int `json:"candidate_assignments"`
}

// Count scans the log once and counts experimentName's metric and
// assignment records per variant.
func (a *Aggregator) Count(ctx context.Context, experimentName string) (Counts, error) {
	var c Counts
	err := a.log.Scan(ctx, func(e metricslog.Entry) error {
		switch {
		case e.Metric != nil && e.Metric.Experiment == experimentName:
			if e.Metric.Variant.IsCandidate() {
				c.CandidateObservations++
			} else {
				c.BaselineObservations++
			}
		case e.Assignment != nil && e.Assignment.Experiment == experimentName:
			if e.Assignment.Variant.IsCandidate() {
				c.CandidateAssignments++
			} else {
				c.BaselineAssignments++
			}
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return c, nil
}

// -----------------------------------------------------------------------------
// Aggregation
// -----------------------------------------------------------------------------

// MetricSummary is the aggregate of one metric for one variant.
type MetricSummary struct {
	Count  int       `json:"count"`
	Mean   float64   `json:"mean"`
	Values []float64 `json:"-"`
}

// Aggregate groups records by metric name and computes the arithmetic mean
// of each group. There is no windowing or outlier rejection.
func Aggregate(records []metricslog.MetricRecord) map[string]MetricSummary {
	grouped := make(map[string][]float64)
	for _, r := range records {
		grouped[r.Metric] = append(grouped[r.Metric], r.Value)
	}
	out := make(map[string]MetricSummary, len(grouped))
	for name, values := range grouped {
		out[name] = MetricSummary{
			Count:  len(values),
			Mean:   stat.Mean(values, nil),
			Values: values,
		}
	}
	return out
}

// metricNames returns the union of names in a and b, sorted.
func metricNames(a, b map[string]MetricSummary) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
