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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

func TestDecodeLine_Kinds(t *testing.T) {
	t.Run("metric line", func(t *testing.T) {
		e, err := DecodeLine([]byte(`{"timestamp":"2026-03-01T10:00:00Z","experiment":"x","variant":"candidate","metric":"latency_ms","value":12.5,"metadata":{"region":"us"}}`))
		require.NoError(t, err)
		require.NotNil(t, e.Metric)
		assert.Nil(t, e.Assignment)
		assert.Equal(t, "x", e.Metric.Experiment)
		assert.Equal(t, experiment.Candidate, e.Metric.Variant)
		assert.Equal(t, "latency_ms", e.Metric.Metric)
		assert.Equal(t, 12.5, e.Metric.Value)
		assert.Equal(t, "us", e.Metric.Metadata["region"])
	})

	t.Run("assignment line", func(t *testing.T) {
		e, err := DecodeLine([]byte(`{"timestamp":"2026-03-01T10:00:00Z","experiment":"x","target":"ranker","variant":"baseline","user_id":"u1","session_id":null}`))
		require.NoError(t, err)
		require.NotNil(t, e.Assignment)
		assert.Nil(t, e.Metric)
		assert.Equal(t, "ranker", e.Assignment.Target)
		assert.Equal(t, experiment.Baseline, e.Assignment.Variant)
		assert.Equal(t, "u1", e.Assignment.UserID)
		assert.Empty(t, e.Assignment.SessionID)
	})

	t.Run("zero value is a valid observation", func(t *testing.T) {
		e, err := DecodeLine([]byte(`{"experiment":"x","variant":"baseline","metric":"error_rate","value":0}`))
		require.NoError(t, err)
		require.NotNil(t, e.Metric)
		assert.Zero(t, e.Metric.Value)
	})

	t.Run("zone-less timestamp read as UTC", func(t *testing.T) {
		e, err := DecodeLine([]byte(`{"timestamp":"2026-03-01T10:00:00.123456","experiment":"x","variant":"baseline"}`))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC), e.Assignment.Timestamp)
	})
}

func TestDecodeLine_Malformed(t *testing.T) {
	lines := map[string]string{
		"not json":          `{"experiment":`,
		"missing name":      `{"variant":"baseline"}`,
		"unknown variant":   `{"experiment":"x","variant":"treatment"}`,
		"metric no value":   `{"experiment":"x","variant":"baseline","metric":"latency_ms"}`,
		"empty metric name": `{"experiment":"x","variant":"baseline","metric":"","value":1}`,
		"bad timestamp":     `{"timestamp":"yesterday","experiment":"x","variant":"baseline"}`,
	}
	for name, line := range lines {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeLine([]byte(line))
			require.ErrorIs(t, err, ErrMalformedLine)
		})
	}
}

func TestEncodeRecord_SingleLine(t *testing.T) {
	line, err := EncodeRecord(MetricRecord{
		ID:         "id-1",
		Timestamp:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Experiment: "x",
		Variant:    experiment.Candidate,
		Metric:     "quality_score",
		Value:      0.85,
		Metadata:   map[string]any{"note": "multi\nline"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(line), "\n"))
	assert.Equal(t, 1, strings.Count(string(line), "\n"))

	e, err := DecodeLine(line)
	require.NoError(t, err)
	require.NotNil(t, e.Metric)
	assert.Equal(t, "id-1", e.Metric.ID)
	assert.Equal(t, "multi\nline", e.Metric.Metadata["note"])
}

func TestEncodeRecord_AssignmentHasNoMetricKey(t *testing.T) {
	line, err := EncodeRecord(AssignmentRecord{
		Experiment: "x",
		Target:     "ranker",
		Variant:    experiment.Baseline,
		SessionID:  "s1",
	})
	require.NoError(t, err)
	assert.NotContains(t, string(line), `"metric"`)
	assert.NotContains(t, string(line), `"user_id"`)
	assert.Contains(t, string(line), `"session_id":"s1"`)
}
