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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

func TestSQLiteLog_ScanInAppendOrder(t *testing.T) {
	ctx := context.Background()
	l, err := OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	defer l.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	late := metric("x", experiment.Candidate, "latency_ms", 2)
	late.Timestamp = base.Add(time.Minute)
	early := metric("x", experiment.Baseline, "latency_ms", 1)
	early.Timestamp = base

	require.NoError(t, l.Append(ctx, late))
	require.NoError(t, l.Append(ctx, early))
	require.NoError(t, l.Append(ctx, AssignmentRecord{
		ID: "fixed", Timestamp: base, Experiment: "x", Target: "ranker", Variant: experiment.Baseline, UserID: "u1",
	}))

	entries := collect(t, l)
	require.Len(t, entries, 3)
	assert.Equal(t, 2.0, entries[0].Metric.Value)
	assert.Equal(t, 1.0, entries[1].Metric.Value)
	require.NotNil(t, entries[2].Assignment)
	assert.Equal(t, "fixed", entries[2].Assignment.ID)
	assert.Equal(t, "u1", entries[2].Assignment.UserID)
}

func TestSQLiteLog_SkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	l, err := OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.db.Exec(`INSERT INTO records (id, kind, experiment, created_at, line) VALUES ('bad', 'metric', 'x', '', 'not json')`)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, metric("x", experiment.Baseline, "m", 5)))

	entries := collect(t, l)
	require.Len(t, entries, 1)
	assert.Equal(t, 5.0, entries[0].Metric.Value)
}

func TestSQLiteLog_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "metrics.db")

	l, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, metric("x", experiment.Candidate, "quality", 0.9)))
	require.NoError(t, l.Close())

	l, err = OpenSQLite(path, nil)
	require.NoError(t, err)
	defer l.Close()

	entries := collect(t, l)
	require.Len(t, entries, 1)
	assert.Equal(t, "quality", entries[0].Metric.Metric)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite("", nil)
	assert.Error(t, err)
}
