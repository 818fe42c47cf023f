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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultInfluxMeasurement is the measurement name for mirrored observations.
const DefaultInfluxMeasurement = "rollout_metric"

const defaultInfluxTimeout = 5 * time.Second

// ErrInfluxConfig indicates an incomplete mirror configuration.
var ErrInfluxConfig = errors.New("incomplete influx mirror config")

var mirrorFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rollout",
	Subsystem: "metrics_log",
	Name:      "influx_mirror_failures_total",
	Help:      "Metric observations that reached the log but not InfluxDB",
})

// InfluxConfig points the mirror at an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string

	// Timeout bounds each mirrored write. Zero uses 5s.
	Timeout time.Duration

	Logger *slog.Logger
}

// InfluxMirror wraps a Log and copies every metric observation into
// InfluxDB as a point, so dashboards can chart variants while the
// experiment runs.
//
// The wrapped Log stays the source of truth. Scans never touch InfluxDB,
// and a failed mirror write is logged and counted but does not fail the
// append. Assignment records are not mirrored.
type InfluxMirror struct {
	primary     Log
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewInfluxMirror wraps primary.
//
// Outputs:
//   - *InfluxMirror: Ready to use. Closing it closes primary.
//   - error: ErrInfluxConfig when URL, Org, or Bucket is empty.
func NewInfluxMirror(primary Log, cfg InfluxConfig) (*InfluxMirror, error) {
	if primary == nil {
		return nil, fmt.Errorf("%w: nil primary log", ErrInfluxConfig)
	}
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: url, org and bucket are required", ErrInfluxConfig)
	}
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultInfluxMeasurement
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultInfluxTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxMirror{
		primary:     primary,
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}, nil
}

// Append writes rec to the primary log, then mirrors metric observations.
func (m *InfluxMirror) Append(ctx context.Context, rec Record) error {
	if err := m.primary.Append(ctx, rec); err != nil {
		return err
	}
	if mr, ok := rec.(MetricRecord); ok {
		m.mirror(ctx, mr)
	}
	return nil
}

func (m *InfluxMirror) mirror(ctx context.Context, rec MetricRecord) {
	p := influxdb2.NewPoint(
		m.measurement,
		map[string]string{
			"experiment": rec.Experiment,
			"variant":    string(rec.Variant),
			"metric":     rec.Metric,
		},
		map[string]interface{}{
			"value": rec.Value,
		},
		rec.Timestamp,
	)

	wctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.writer.WritePoint(wctx, p); err != nil {
		mirrorFailuresTotal.Inc()
		m.logger.Warn("Failed to mirror observation to InfluxDB",
			slog.String("experiment", rec.Experiment),
			slog.String("metric", rec.Metric),
			slog.String("error", err.Error()))
	}
}

// Scan reads from the primary log only.
func (m *InfluxMirror) Scan(ctx context.Context, fn func(Entry) error) error {
	return m.primary.Scan(ctx, fn)
}

// Close closes the InfluxDB client and the primary log.
func (m *InfluxMirror) Close() error {
	m.client.Close()
	return m.primary.Close()
}
