// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRollout/cmd/rollout/config"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
	"github.com/AleutianAI/AleutianRollout/services/rollout/metricslog"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func roundTrip(t *testing.T, log metricslog.Log) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, metricslog.MetricRecord{
		Timestamp: time.Now().UTC(), Experiment: "x", Variant: experiment.Candidate, Metric: "quality", Value: 0.8,
	}))

	var n int
	require.NoError(t, log.Scan(ctx, func(e metricslog.Entry) error {
		require.NotNil(t, e.Metric)
		n++
		return nil
	}))
	assert.Equal(t, 1, n)
}

func TestOpenMetricsLog_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendBadger, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			log, err := openMetricsLog(config.MetricsLogConfig{
				Backend:    backend,
				Path:       filepath.Join(dir, "metrics.jsonl"),
				BadgerDir:  filepath.Join(dir, "badger"),
				SQLitePath: filepath.Join(dir, "metrics.db"),
			}, quietLogger())
			require.NoError(t, err)
			defer log.Close()
			roundTrip(t, log)
		})
	}
}

func TestOpenMetricsLog_UnknownBackend(t *testing.T) {
	_, err := openMetricsLog(config.MetricsLogConfig{Backend: "kafka"}, quietLogger())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenMetricsLog_InfluxMirrorUsesEnvToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	t.Setenv(EnvInfluxToken, "s3cret")

	log, err := openMetricsLog(config.MetricsLogConfig{
		Backend: config.BackendFile,
		Path:    filepath.Join(t.TempDir(), "metrics.jsonl"),
		Influx:  config.InfluxConfig{URL: srv.URL, Org: "aleutian", Bucket: "rollout"},
	}, quietLogger())
	require.NoError(t, err)
	defer log.Close()

	_, ok := log.(*metricslog.InfluxMirror)
	require.True(t, ok)
	roundTrip(t, log)
	assert.Equal(t, "Token s3cret", auth.Load())
}
