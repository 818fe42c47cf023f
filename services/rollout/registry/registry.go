// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the experiment set in memory and persists every
// mutation through the config store.
//
// Registration order is significant: FindApplicable returns the first active
// experiment for a target in the order experiments were loaded or created.
// Re-creating an existing name overwrites it in place and keeps its position.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRollout/services/rollout/configstore"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownExperiment indicates no experiment is registered under the name.
	ErrUnknownExperiment = errors.New("unknown experiment")

	// ErrPersist indicates the in-memory change was applied but could not be
	// written to the config store.
	ErrPersist = errors.New("persist experiment set")
)

// Persister is the durable backing for the registry. *configstore.Store
// satisfies it.
type Persister interface {
	Load() ([]experiment.Config, error)
	LoadLenient() ([]experiment.Config, []configstore.EntryError, error)
	Save(configs []experiment.Config) error
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps experiment names to configurations.
//
// # Thread Safety
//
// Safe for concurrent use. Reads take a read lock. Mutations hold the write
// lock across the save, and Reload holds it across the load, so persisted
// snapshots and reloads are applied in one order.
type Registry struct {
	store   Persister
	logger  *slog.Logger
	now     func() time.Time
	lenient bool

	mu      sync.RWMutex
	order   []string
	configs map[string]experiment.Config
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLenientLoad loads valid entries from a document that contains bad
// ones instead of rejecting the whole document.
func WithLenientLoad(lenient bool) Option {
	return func(r *Registry) {
		r.lenient = lenient
	}
}

// New creates a Registry and loads the current document from store.
//
// # Description
//
// Startup never fails: a missing, unreadable, or rejected document is
// logged and the registry starts empty.
//
// # Inputs
//
//   - store: Durable backing. Must not be nil.
//   - opts: Optional logger, clock, and load mode.
//
// # Outputs
//
//   - *Registry: Ready for use.
func New(store Persister, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		logger:  slog.Default(),
		now:     time.Now,
		configs: make(map[string]experiment.Config),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.Reload(); err != nil {
		if errors.Is(err, configstore.ErrNotFound) {
			r.logger.Info("no experiment config document yet, starting empty")
		} else {
			r.logger.Error("failed to load experiment config, starting empty",
				slog.String("error", err.Error()))
		}
	}
	return r
}

// Reload replaces the in-memory set with the store's current document.
//
// The write lock is held across the load, so a mutation that persists while
// a reload is in flight is ordered after it and is not lost. On error the
// current set is left untouched.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		configs []experiment.Config
		err     error
	)
	if r.lenient {
		var rejected []configstore.EntryError
		configs, rejected, err = r.store.LoadLenient()
		for _, rej := range rejected {
			r.logger.Warn("skipping invalid experiment entry",
				slog.Int("index", rej.Index),
				slog.String("experiment", rej.Name),
				slog.String("error", rej.Err.Error()))
		}
	} else {
		configs, err = r.store.Load()
	}
	if err != nil {
		return err
	}

	order := make([]string, 0, len(configs))
	byName := make(map[string]experiment.Config, len(configs))
	for _, cfg := range configs {
		if _, dup := byName[cfg.Name]; !dup {
			order = append(order, cfg.Name)
		}
		byName[cfg.Name] = cfg
	}

	r.order = order
	r.configs = byName

	r.logger.Debug("experiment registry loaded", slog.Int("experiments", len(order)))
	return nil
}

// Create registers a new experiment, or overwrites an existing one of the
// same name, and persists the set.
//
// # Inputs
//
//   - name: Unique experiment name.
//   - target: Feature or component under test.
//   - opts: Creation options. Use experiment.DefaultOptions for defaults.
//
// # Outputs
//
//   - experiment.Config: The stored configuration.
//   - error: experiment.ErrInvalidConfig for bad input, in which case
//     nothing changed; ErrPersist if the save failed, in which case the
//     experiment is registered in memory only.
func (r *Registry) Create(name, target string, opts experiment.Options) (experiment.Config, error) {
	cfg, err := opts.Build(name, target, r.now())
	if err != nil {
		return experiment.Config{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[name]; exists {
		r.logger.Info("overwriting existing experiment", slog.String("experiment", name))
	} else {
		r.order = append(r.order, name)
	}
	r.configs[name] = cfg

	r.logger.Info("experiment created",
		slog.String("experiment", name),
		slog.String("target", target),
		slog.Float64("rollout_percentage", cfg.RolloutPercentage))

	return cfg.Clone(), r.persistLocked()
}

// Pause disables an experiment. Decisions for its target fall through to
// the baseline until it is resumed.
func (r *Registry) Pause(name string) error {
	return r.update(name, "paused", func(cfg *experiment.Config) {
		cfg.Enabled = false
	})
}

// Resume re-enables a paused experiment.
func (r *Registry) Resume(name string) error {
	return r.update(name, "resumed", func(cfg *experiment.Config) {
		cfg.Enabled = true
	})
}

// SetForceVariant pins every decision for the experiment to v. A nil v
// restores hash bucketing.
func (r *Registry) SetForceVariant(name string, v *experiment.Variant) error {
	if v != nil && !v.Valid() {
		return fmt.Errorf("%w: %q", experiment.ErrInvalidVariant, string(*v))
	}
	return r.update(name, "force variant set", func(cfg *experiment.Config) {
		if v == nil {
			cfg.ForceVariant = nil
			return
		}
		pinned := *v
		cfg.ForceVariant = &pinned
	})
}

func (r *Registry) update(name, action string, mutate func(*experiment.Config)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[name]
	if !ok {
		r.logger.Warn("experiment not found", slog.String("experiment", name), slog.String("action", action))
		return fmt.Errorf("%w: %s", ErrUnknownExperiment, name)
	}
	mutate(&cfg)
	r.configs[name] = cfg

	r.logger.Info("experiment "+action, slog.String("experiment", name))
	return r.persistLocked()
}

// persistLocked saves the full set. Caller must hold the write lock.
func (r *Registry) persistLocked() error {
	snapshot := make([]experiment.Config, 0, len(r.order))
	for _, name := range r.order {
		snapshot = append(snapshot, r.configs[name])
	}
	if err := r.store.Save(snapshot); err != nil {
		r.logger.Error("failed to persist experiment config", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Get returns a copy of the named configuration.
func (r *Registry) Get(name string) (experiment.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	if !ok {
		return experiment.Config{}, false
	}
	return cfg.Clone(), true
}

// FindApplicable returns the first registered experiment for target that
// is active at now.
func (r *Registry) FindApplicable(target string, now time.Time) (experiment.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		cfg := r.configs[name]
		if cfg.Target == target && cfg.IsActive(now) {
			return cfg.Clone(), true
		}
	}
	return experiment.Config{}, false
}

// Names returns experiment names in registry order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Configs returns copies of every configuration in registry order.
func (r *Registry) Configs() []experiment.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]experiment.Config, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.configs[name].Clone())
	}
	return out
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}
