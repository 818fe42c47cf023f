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
	"strings"
)

// -----------------------------------------------------------------------------
// Recommendation Policy
// -----------------------------------------------------------------------------

// Recommendation is the suggested rollout action.
type Recommendation string

const (
	// Rollback: at least one significant regression.
	Rollback Recommendation = "ROLLBACK"

	// Rollout: two or more significant wins and no regressions.
	Rollout Recommendation = "ROLLOUT"

	// Expand: exactly one significant win and no regressions.
	Expand Recommendation = "EXPAND"

	// Continue: nothing significant enough to act on yet.
	Continue Recommendation = "CONTINUE"
)

// Effect thresholds, in percent of the baseline mean.
const (
	WinThreshold        = 5.0
	RegressionThreshold = -5.0
)

// Recommend applies the policy to per-metric comparisons.
//
// Description:
//
//	Only significant metrics with a defined improvement count. A win is
//	an improvement above +5%, a regression one below -5%. Any regression
//	means ROLLBACK; otherwise two or more wins mean ROLLOUT, one win
//	EXPAND, and none CONTINUE.
//
// Outputs:
//   - Recommendation: The action.
//   - string: A one-line reason naming the deciding metrics.
func Recommend(metrics []MetricComparison) (Recommendation, string) {
	var wins, regressions []string
	for _, m := range metrics {
		if !m.Significant || m.Improvement == nil {
			continue
		}
		switch imp := *m.Improvement; {
		case imp > WinThreshold:
			wins = append(wins, fmt.Sprintf("%s %+.1f%%", m.Metric, imp))
		case imp < RegressionThreshold:
			regressions = append(regressions, fmt.Sprintf("%s %+.1f%%", m.Metric, imp))
		}
	}

	switch {
	case len(regressions) > 0:
		return Rollback, "significant regression: " + strings.Join(regressions, ", ")
	case len(wins) >= 2:
		return Rollout, "significant wins: " + strings.Join(wins, ", ")
	case len(wins) == 1:
		return Expand, "one significant win: " + wins[0]
	default:
		return Continue, "no significant change"
	}
}
