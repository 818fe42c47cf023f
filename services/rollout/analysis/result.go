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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

// -----------------------------------------------------------------------------
// Result
// -----------------------------------------------------------------------------

// MetricComparison is the per-metric evidence in a Result.
type MetricComparison struct {
	Metric         string  `json:"metric"`
	BaselineMean   float64 `json:"baseline_mean"`
	CandidateMean  float64 `json:"candidate_mean"`
	BaselineCount  int     `json:"baseline_count"`
	CandidateCount int     `json:"candidate_count"`

	// Improvement is (candidate - baseline) / baseline * 100, or nil when
	// the baseline mean is not positive. A metric only the baseline reported
	// shows -100.
	Improvement *float64 `json:"improvement_pct,omitempty"`

	Significant bool     `json:"significant"`
	PValue      *float64 `json:"p_value,omitempty"`
}

// Result is the outcome of analysing one experiment.
type Result struct {
	Experiment       string             `json:"experiment"`
	Target           string             `json:"target"`
	BaselineSamples  int                `json:"baseline_samples"`
	CandidateSamples int                `json:"candidate_samples"`
	Metrics          []MetricComparison `json:"metrics"`
	Recommendation   Recommendation     `json:"recommendation"`
	Reason           string             `json:"reason"`
	ConfidenceLevel  float64            `json:"confidence_level"`
	Test             string             `json:"test"`
	AnalyzedAt       time.Time          `json:"analyzed_at"`
}

// Metric returns the comparison for name.
func (r *Result) Metric(name string) (MetricComparison, bool) {
	for _, m := range r.Metrics {
		if m.Metric == name {
			return m, true
		}
	}
	return MetricComparison{}, false
}

// Summary renders the result as a short human-readable report.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Experiment %s (target %s)\n", r.Experiment, r.Target)
	fmt.Fprintf(&b, "Samples: baseline=%d candidate=%d\n", r.BaselineSamples, r.CandidateSamples)
	for _, m := range r.Metrics {
		imp := "n/a"
		if m.Improvement != nil {
			imp = fmt.Sprintf("%+.2f%%", *m.Improvement)
		}
		sig := ""
		if m.Significant {
			sig = " *"
		}
		fmt.Fprintf(&b, "  %-20s baseline=%.4f candidate=%.4f change=%s%s\n",
			m.Metric, m.BaselineMean, m.CandidateMean, imp, sig)
	}
	fmt.Fprintf(&b, "Recommendation: %s (%s)\n", r.Recommendation, r.Reason)
	return b.String()
}

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// Evaluate gates on min_samples, compares every metric, and applies the
// recommendation policy.
//
// Inputs:
//   - cfg: The experiment. MinSamples and ConfidenceLevel are read.
//   - p: The experiment's records split by variant.
//   - test: Significance test. Nil means HeuristicTest.
//   - now: Analysis timestamp.
//
// Outputs:
//   - *Result: The analysis, or nil on insufficient data.
//   - error: *InsufficientDataError when either variant has fewer than
//     cfg.MinSamples records.
func Evaluate(cfg experiment.Config, p Partition, test Test, now time.Time) (*Result, error) {
	nb, nc := len(p.Baseline), len(p.Candidate)
	if nb < cfg.MinSamples || nc < cfg.MinSamples {
		return nil, &InsufficientDataError{
			Experiment: cfg.Name,
			Baseline:   nb,
			Candidate:  nc,
			Required:   cfg.MinSamples,
		}
	}
	if test == nil {
		test = HeuristicTest{}
	}

	base := Aggregate(p.Baseline)
	cand := Aggregate(p.Candidate)

	res := &Result{
		Experiment:       cfg.Name,
		Target:           cfg.Target,
		BaselineSamples:  nb,
		CandidateSamples: nc,
		ConfidenceLevel:  cfg.ConfidenceLevel,
		Test:             test.Name(),
		AnalyzedAt:       now.UTC(),
	}

	for _, name := range metricNames(base, cand) {
		b, hasB := base[name]
		c, hasC := cand[name]
		mc := MetricComparison{
			Metric:         name,
			BaselineMean:   b.Mean,
			CandidateMean:  c.Mean,
			BaselineCount:  b.Count,
			CandidateCount: c.Count,
		}
		// A metric the candidate never reported has a candidate mean of 0.
		if hasB && b.Mean > 0 {
			imp := (c.Mean - b.Mean) / b.Mean * 100
			mc.Improvement = &imp
		}
		if hasB && hasC {
			v := test.Compare(b.Values, c.Values)
			mc.Significant = v.Significant
			mc.PValue = v.PValue
		}
		res.Metrics = append(res.Metrics, mc)
	}

	res.Recommendation, res.Reason = Recommend(res.Metrics)
	return res, nil
}

// -----------------------------------------------------------------------------
// Analyzer
// -----------------------------------------------------------------------------

// Analyzer combines an Aggregator with a significance test.
//
// Thread Safety: Safe for concurrent use.
type Analyzer struct {
	agg    *Aggregator
	test   Test
	now    func() time.Time
	logger *slog.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithTest sets the significance test. Default: HeuristicTest.
func WithTest(t Test) AnalyzerOption {
	return func(a *Analyzer) {
		if t != nil {
			a.test = t
		}
	}
}

// WithClock overrides time.Now for Result.AnalyzedAt.
func WithClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAnalyzer creates an Analyzer reading through agg.
func NewAnalyzer(agg *Aggregator, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		agg:    agg,
		test:   HeuristicTest{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Test returns the configured significance test.
func (a *Analyzer) Test() Test {
	return a.test
}

// Analyze loads cfg's records and evaluates them.
//
// Outputs:
//   - *Result: The analysis, or nil when data is insufficient.
//   - error: ErrInsufficientData (as *InsufficientDataError) or a scan error.
func (a *Analyzer) Analyze(ctx context.Context, cfg experiment.Config) (*Result, error) {
	p, err := a.agg.Load(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.Name, err)
	}
	res, err := Evaluate(cfg, p, a.test, a.now())
	if err != nil {
		a.logger.Info("not enough data to analyze",
			slog.String("experiment", cfg.Name),
			slog.Int("baseline", len(p.Baseline)),
			slog.Int("candidate", len(p.Candidate)),
			slog.Int("min_samples", cfg.MinSamples))
		return nil, err
	}
	a.logger.Info("experiment analyzed",
		slog.String("experiment", cfg.Name),
		slog.String("recommendation", string(res.Recommendation)),
		slog.String("reason", res.Reason))
	return res, nil
}
