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
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// -----------------------------------------------------------------------------
// Significance Tests
// -----------------------------------------------------------------------------

// Test names accepted by NewTest.
const (
	TestHeuristic = "heuristic"
	TestWelch     = "welch"
)

// MinObservations is the per-side minimum below which no test reports
// significance.
const MinObservations = 3

// Verdict is a test's finding for one metric.
type Verdict struct {
	Significant bool

	// PValue is set by tests that compute one.
	PValue *float64
}

// Test decides whether the difference between two samples is meaningful.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Test interface {
	// Name returns the test's configuration name.
	Name() string

	// Compare evaluates one metric's baseline and candidate observations.
	Compare(baseline, candidate []float64) Verdict
}

// NewTest returns the named test. alpha is only used by the Welch test and
// defaults to 0.05 when outside (0, 1).
func NewTest(name string, alpha float64) (Test, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TestHeuristic:
		return HeuristicTest{}, nil
	case TestWelch:
		if alpha <= 0 || alpha >= 1 {
			alpha = 0.05
		}
		return WelchTest{Alpha: alpha}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTest, name)
	}
}

// HeuristicTest flags a metric when the relative difference of means
// exceeds a threshold that tightens as data accumulates:
//
//	smaller side >= 30 observations   |c - b| / b > 5%
//	otherwise                         |c - b| / b > 15%
//
// Both sides need MinObservations and the baseline mean must be positive.
type HeuristicTest struct{}

// Heuristic thresholds.
const (
	LargeSampleSize      = 30
	LargeSampleThreshold = 0.05
	SmallSampleThreshold = 0.15
)

// Name implements Test.
func (HeuristicTest) Name() string { return TestHeuristic }

// Compare implements Test.
func (HeuristicTest) Compare(baseline, candidate []float64) Verdict {
	nb, nc := len(baseline), len(candidate)
	if nb < MinObservations || nc < MinObservations {
		return Verdict{}
	}
	bm := stat.Mean(baseline, nil)
	cm := stat.Mean(candidate, nil)
	if bm <= 0 {
		return Verdict{}
	}

	threshold := SmallSampleThreshold
	if min(nb, nc) >= LargeSampleSize {
		threshold = LargeSampleThreshold
	}
	return Verdict{Significant: math.Abs(cm-bm)/bm > threshold}
}

// WelchTest is Welch's unequal-variance t-test, two-sided.
type WelchTest struct {
	// Alpha is the significance level.
	Alpha float64
}

// Name implements Test.
func (WelchTest) Name() string { return TestWelch }

// Compare implements Test.
//
// When both samples have zero variance the standard error is zero; the
// metric is then significant exactly when the means differ.
func (w WelchTest) Compare(baseline, candidate []float64) Verdict {
	n1, n2 := float64(len(baseline)), float64(len(candidate))
	if len(baseline) < MinObservations || len(candidate) < MinObservations {
		return Verdict{}
	}

	mean1, var1 := stat.MeanVariance(baseline, nil)
	mean2, var2 := stat.MeanVariance(candidate, nil)

	se2 := var1/n1 + var2/n2
	if se2 == 0 {
		p := 1.0
		if mean1 != mean2 {
			p = 0
		}
		return Verdict{Significant: mean1 != mean2, PValue: &p}
	}

	t := (mean2 - mean1) / math.Sqrt(se2)

	// Welch-Satterthwaite degrees of freedom.
	df := se2 * se2 / (math.Pow(var1/n1, 2)/(n1-1) + math.Pow(var2/n2, 2)/(n2-1))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.Survival(math.Abs(t))
	if p > 1 {
		p = 1
	}
	return Verdict{Significant: p < w.Alpha, PValue: &p}
}
