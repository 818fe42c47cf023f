// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRollout/services/rollout/configstore"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return epoch }

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *configstore.Store) {
	t.Helper()
	store := configstore.New(filepath.Join(t.TempDir(), "experiments.json"))
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return New(store, opts...), store
}

func TestNew_MissingDocumentStartsEmpty(t *testing.T) {
	reg, _ := newTestRegistry(t)
	assert.Empty(t, reg.Names())
}

func TestNew_MalformedDocumentStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"experiments": [{"name": "x"}]}`), 0600))

	reg := New(configstore.New(path))
	assert.Empty(t, reg.Names())
}

func TestNew_LenientLoadKeepsValidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.json")
	doc := `{"experiments": [
		{"name": "ok", "target": "ranker", "rollout_percentage": 0.2, "min_samples": 10, "confidence_level": 0.95, "enabled": true},
		{"name": "broken", "target": "ranker", "rollout_percentage": 7, "min_samples": 10}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	reg := New(configstore.New(path), WithLenientLoad(true))
	assert.Equal(t, []string{"ok"}, reg.Names())
}

func TestRegistry_CreatePersistsAndReloads(t *testing.T) {
	reg, store := newTestRegistry(t)

	cfg, err := reg.Create("exp-a", "ranker", experiment.Apply(experiment.WithRolloutPercentage(0.3)))
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, epoch, *cfg.StartTime)
	assert.Equal(t, epoch.Add(experiment.DefaultDuration), *cfg.EndTime)

	_, err = reg.Create("exp-b", "search", experiment.DefaultOptions())
	require.NoError(t, err)

	reopened := New(store)
	assert.Equal(t, []string{"exp-a", "exp-b"}, reopened.Names())
	got, ok := reopened.Get("exp-a")
	require.True(t, ok)
	assert.InDelta(t, 0.3, got.RolloutPercentage, 1e-12)
}

func TestRegistry_CreateOverwriteKeepsPosition(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Create("first", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)
	_, err = reg.Create("second", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)

	_, err = reg.Create("first", "search", experiment.Apply(experiment.WithRolloutPercentage(0.9)))
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, reg.Names())
	got, _ := reg.Get("first")
	assert.Equal(t, "search", got.Target)
}

func TestRegistry_CreateRejectsInvalidOptions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Create("bad", "ranker", experiment.Apply(experiment.WithRolloutPercentage(1.2)))
	require.ErrorIs(t, err, experiment.ErrInvalidConfig)
	assert.Empty(t, reg.Names())
}

func TestRegistry_PauseResume(t *testing.T) {
	reg, store := newTestRegistry(t)
	_, err := reg.Create("exp", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, reg.Pause("exp"))
	_, ok := reg.FindApplicable("ranker", epoch)
	assert.False(t, ok)

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.False(t, persisted[0].Enabled)

	require.NoError(t, reg.Resume("exp"))
	_, ok = reg.FindApplicable("ranker", epoch)
	assert.True(t, ok)
}

func TestRegistry_UnknownExperiment(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.ErrorIs(t, reg.Pause("ghost"), ErrUnknownExperiment)
	require.ErrorIs(t, reg.Resume("ghost"), ErrUnknownExperiment)
	require.ErrorIs(t, reg.SetForceVariant("ghost", nil), ErrUnknownExperiment)
}

func TestRegistry_SetForceVariant(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Create("exp", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)

	v := experiment.Candidate
	require.NoError(t, reg.SetForceVariant("exp", &v))
	got, _ := reg.Get("exp")
	forced, ok := got.Forced()
	require.True(t, ok)
	assert.Equal(t, experiment.Candidate, forced)

	// The registry keeps its own copy.
	v = experiment.Baseline
	got, _ = reg.Get("exp")
	forced, _ = got.Forced()
	assert.Equal(t, experiment.Candidate, forced)

	require.NoError(t, reg.SetForceVariant("exp", nil))
	got, _ = reg.Get("exp")
	_, ok = got.Forced()
	assert.False(t, ok)

	bad := experiment.Variant("treatment")
	require.ErrorIs(t, reg.SetForceVariant("exp", &bad), experiment.ErrInvalidVariant)
}

func TestRegistry_FindApplicable(t *testing.T) {
	reg, _ := newTestRegistry(t)

	future := epoch.Add(time.Hour)
	_, err := reg.Create("later", "ranker", experiment.Apply(experiment.WithWindow(&future, nil)))
	require.NoError(t, err)
	_, err = reg.Create("now-a", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)
	_, err = reg.Create("now-b", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)
	_, err = reg.Create("other", "search", experiment.DefaultOptions())
	require.NoError(t, err)

	got, ok := reg.FindApplicable("ranker", epoch)
	require.True(t, ok)
	assert.Equal(t, "now-a", got.Name, "first active experiment in registry order")

	got, ok = reg.FindApplicable("ranker", future)
	require.True(t, ok)
	assert.Equal(t, "later", got.Name)

	_, ok = reg.FindApplicable("missing", epoch)
	assert.False(t, ok)

	got, ok = reg.FindApplicable("ranker", epoch.Add(experiment.DefaultDuration+time.Second))
	require.True(t, ok)
	assert.Equal(t, "later", got.Name, "the others have ended")
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Create("exp", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)

	got, _ := reg.Get("exp")
	got.TrackedMetrics[0] = "mutated"
	*got.StartTime = got.StartTime.Add(time.Hour)

	again, _ := reg.Get("exp")
	assert.Equal(t, "latency_ms", again.TrackedMetrics[0])
	assert.Equal(t, epoch, *again.StartTime)
}

type failingStore struct{}

func (failingStore) Load() ([]experiment.Config, error) { return nil, configstore.ErrNotFound }
func (failingStore) LoadLenient() ([]experiment.Config, []configstore.EntryError, error) {
	return nil, nil, configstore.ErrNotFound
}
func (failingStore) Save([]experiment.Config) error { return errors.New("disk full") }

func TestRegistry_PersistFailureIsReported(t *testing.T) {
	reg := New(failingStore{}, WithClock(fixedClock))

	cfg, err := reg.Create("exp", "ranker", experiment.DefaultOptions())
	require.ErrorIs(t, err, ErrPersist)
	assert.Equal(t, "exp", cfg.Name)

	_, ok := reg.Get("exp")
	assert.True(t, ok, "the change stays in memory")
}

func TestRegistry_ConcurrentMutations(t *testing.T) {
	reg, store := newTestRegistry(t)
	_, err := reg.Create("exp", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, reg.Pause("exp"))
			} else {
				assert.NoError(t, reg.Resume("exp"))
			}
			reg.FindApplicable("ranker", epoch)
		}(i)
	}
	wg.Wait()

	persisted, err := store.Load()
	require.NoError(t, err)
	got, _ := reg.Get("exp")
	assert.Equal(t, got.Enabled, persisted[0].Enabled, "last save matches memory")
}

// gatedStore is an in-memory Persister whose next Load can be held open.
type gatedStore struct {
	mu      sync.Mutex
	configs []experiment.Config
	gate    chan struct{}
	entered chan struct{}
}

// holdNextLoad makes the next Load signal entered and wait for release.
func (s *gatedStore) holdNextLoad() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{})
	gate := s.gate
	return s.entered, func() { close(gate) }
}

func (s *gatedStore) Load() ([]experiment.Config, error) {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.gate, s.entered = nil, nil
	snapshot := append([]experiment.Config(nil), s.configs...)
	s.mu.Unlock()

	if gate != nil {
		close(entered)
		<-gate
	}
	return snapshot, nil
}

func (s *gatedStore) LoadLenient() ([]experiment.Config, []configstore.EntryError, error) {
	configs, err := s.Load()
	return configs, nil, err
}

func (s *gatedStore) Save(configs []experiment.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append([]experiment.Config(nil), configs...)
	return nil
}

func TestRegistry_MutationDuringReloadIsKept(t *testing.T) {
	store := &gatedStore{}
	reg := New(store, WithClock(fixedClock))
	_, err := reg.Create("a", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)

	entered, release := store.holdNextLoad()
	reloaded := make(chan error, 1)
	go func() { reloaded <- reg.Reload() }()
	<-entered

	created := make(chan error, 1)
	go func() {
		_, err := reg.Create("b", "search", experiment.DefaultOptions())
		created <- err
	}()

	select {
	case <-created:
		t.Fatal("Create finished while a reload was loading")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	require.NoError(t, <-reloaded)
	require.NoError(t, <-created)

	assert.Equal(t, []string{"a", "b"}, reg.Names())
	require.NoError(t, reg.Pause("b"))

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestWatcher_ReloadsOnExternalWrite(t *testing.T) {
	reg, store := newTestRegistry(t)
	_, err := reg.Create("exp", "ranker", experiment.DefaultOptions())
	require.NoError(t, err)

	var reloads atomic.Int32
	w := NewWatcher(reg, store.Path(),
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func(err error) {
			if err == nil {
				reloads.Add(1)
			}
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watch time to register before the external write.
	time.Sleep(50 * time.Millisecond)

	other := New(configstore.New(store.Path()), WithClock(fixedClock))
	_, err = other.Create("external", "search", experiment.DefaultOptions())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := reg.Get("external")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"exp", "external"}, reg.Names())
	require.Eventually(t, func() bool { return reloads.Load() >= 1 }, time.Second, 10*time.Millisecond)
}
