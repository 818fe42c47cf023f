// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis turns the metrics log into rollout recommendations.
//
// # Pipeline
//
//	Aggregator.Load      scan the log, keep one experiment's metric records,
//	                     split them by variant
//	Aggregate            group by metric name, count and average
//	Test.Compare         decide per metric whether the difference is real
//	Recommend            map significant wins and regressions to an action
//
// Every metric is treated as higher-is-better. A metric whose baseline mean
// is zero or negative has no relative improvement and never counts as a win
// or a regression.
package analysis

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

// ErrInsufficientData indicates at least one variant has fewer observations
// than the experiment's min_samples. It is an expected state, not a failure.
var ErrInsufficientData = errors.New("insufficient data")

// ErrUnknownTest indicates an unrecognised significance test name.
var ErrUnknownTest = errors.New("unknown significance test")

// InsufficientDataError carries the counts behind ErrInsufficientData.
type InsufficientDataError struct {
	Experiment string
	Baseline   int
	Candidate  int
	Required   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: %s: baseline=%d candidate=%d (need %d each)",
		ErrInsufficientData, e.Experiment, e.Baseline, e.Candidate, e.Required)
}

// Is lets errors.Is match ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}
