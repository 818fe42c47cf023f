// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

func testConfig(t *testing.T, name string) experiment.Config {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg, err := experiment.Apply(experiment.WithRolloutPercentage(0.25)).Build(name, "ranker", start)
	require.NoError(t, err)
	return cfg
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "experiments.json"))

	_, err := s.Load()
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.LoadLenient()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "experiments.json")
	fixed := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	s := New(path, WithClock(func() time.Time { return fixed }))

	a := testConfig(t, "exp-a")
	b := testConfig(t, "exp-b")
	forced := experiment.Candidate
	b.ForceVariant = &forced
	b.Enabled = false

	require.NoError(t, s.Save([]experiment.Config{a, b}))

	got, err := s.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exp-a", got[0].Name)
	assert.Equal(t, "exp-b", got[1].Name)
	assert.InDelta(t, 0.25, got[0].RolloutPercentage, 1e-12)
	assert.False(t, got[1].Enabled)
	v, ok := got[1].Forced()
	require.True(t, ok)
	assert.Equal(t, experiment.Candidate, v)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_updated": "2026-03-02T09:30:00Z"`)
}

func TestStore_SaveEmptyWritesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.json")
	s := New(path)

	require.NoError(t, s.Save(nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"experiments": []`)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "experiments.json"))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save([]experiment.Config{testConfig(t, "exp")}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"experiments.json", "experiments.json.lock"}, names)
}

const mixedDocument = `{
  "experiments": [
    {"name": "good", "target": "ranker", "rollout_percentage": 0.1, "min_samples": 100,
     "confidence_level": 0.95, "tracked_metrics": ["latency_ms"], "enabled": true,
     "legacy_field": "ignored"},
    {"name": "bad-pct", "target": "ranker", "rollout_percentage": 1.5, "min_samples": 100,
     "confidence_level": 0.95, "enabled": true},
    {"name": "bad-type", "target": "ranker", "rollout_percentage": "lots"}
  ],
  "last_updated": "2026-03-01T00:00:00Z"
}`

func TestStore_LoadStrictRejectsWholeDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.json")
	require.NoError(t, os.WriteFile(path, []byte(mixedDocument), 0600))

	got, err := New(path).Load()
	require.ErrorIs(t, err, ErrMalformed)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "bad-pct")
}

func TestStore_LoadLenientIsolatesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.json")
	require.NoError(t, os.WriteFile(path, []byte(mixedDocument), 0600))

	got, rejected, err := New(path).LoadLenient()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].Name)

	require.Len(t, rejected, 2)
	assert.Equal(t, 1, rejected[0].Index)
	assert.Equal(t, "bad-pct", rejected[0].Name)
	assert.ErrorIs(t, rejected[0], experiment.ErrInvalidConfig)
	assert.Equal(t, 2, rejected[1].Index)
}

func TestStore_LoadNotJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := New(path).Load()
	require.ErrorIs(t, err, ErrMalformed)

	_, _, err = New(path).LoadLenient()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestStore_LoadNullEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"experiments": [null]}`), 0600))

	_, err := New(path).Load()
	require.ErrorIs(t, err, ErrMalformed)
}

type busyLocker struct{ attempts int }

func (b *busyLocker) Lock(*os.File) error {
	b.attempts++
	return ErrFileLocked
}

func (b *busyLocker) Unlock(*os.File) error { return nil }

func TestStore_SaveLockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.json")
	locker := &busyLocker{}
	s := New(path, WithLocker(locker), WithLockTimeout(30*time.Millisecond))

	err := s.Save([]experiment.Config{testConfig(t, "exp")})
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.Greater(t, locker.attempts, 1)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "document must not be written without the lock")
}
