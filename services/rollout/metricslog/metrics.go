// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metricslog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Record Stream
// =============================================================================

var (
	// appendsTotal counts append attempts.
	// Labels: backend (file, badger, sqlite), kind (assignment, metric), status (ok, error)
	appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "metrics_log",
		Name:      "appends_total",
		Help:      "Record append attempts by backend, kind, and outcome",
	}, []string{"backend", "kind", "status"})

	// malformedTotal counts stored entries skipped during scans.
	// Labels: backend
	malformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "metrics_log",
		Name:      "malformed_lines_total",
		Help:      "Stored entries skipped because they did not decode",
	}, []string{"backend"})

	// scanDuration measures full scans.
	// Labels: backend
	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollout",
		Subsystem: "metrics_log",
		Name:      "scan_duration_seconds",
		Help:      "Time to scan the full record stream",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"backend"})
)

const (
	backendFile   = "file"
	backendBadger = "badger"
	backendSQLite = "sqlite"
)

func recordAppend(backend, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	appendsTotal.WithLabelValues(backend, kind, status).Inc()
}

func recordMalformed(backend string) {
	malformedTotal.WithLabelValues(backend).Inc()
}

func recordScan(backend string, seconds float64) {
	scanDuration.WithLabelValues(backend).Observe(seconds)
}
