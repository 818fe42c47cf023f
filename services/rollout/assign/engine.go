// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assign routes individual requests to the baseline or candidate
// variant of a target.
//
// # Decision Order
//
//  1. An operator override for the target wins; the registry is not consulted
//     and nothing is logged.
//  2. With no active experiment for the target, the baseline is used and
//     nothing is logged.
//  3. An experiment's forced variant applies to every request.
//  4. A user or session identifier is hashed to a stable bucket.
//  5. Without an identifier a fresh uniform draw decides.
//
// Cases 3 to 5 log an assignment record. Logging is best-effort: a failed
// write never changes or withholds the decision.
package assign

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
	"github.com/AleutianAI/AleutianRollout/services/rollout/metricslog"
)

// Reported in Decision.Experiment when no experiment made the decision.
const (
	ForcedEnv    = "forced_env"
	NoExperiment = "no_experiment"
)

// Reason says which rule produced a decision.
type Reason string

const (
	ReasonOverride     Reason = "override"
	ReasonNoExperiment Reason = "no_experiment"
	ReasonForced       Reason = "forced_variant"
	ReasonHash         Reason = "hash"
	ReasonRandom       Reason = "random"
)

// Request identifies one unit of traffic.
type Request struct {
	Target    string `json:"target" validate:"required"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// identifier returns the bucketing key, preferring the user ID.
func (r Request) identifier() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.SessionID
}

// Decision is the routing outcome for one request.
type Decision struct {
	// IsCandidate is true when the candidate variant should serve the request.
	IsCandidate bool `json:"is_candidate"`

	// Experiment is the deciding experiment's name, or ForcedEnv or NoExperiment.
	Experiment string `json:"experiment"`

	// Variant mirrors IsCandidate.
	Variant experiment.Variant `json:"variant"`

	// Reason is the rule that decided.
	Reason Reason `json:"reason"`

	// Bucket is the identifier's bucket when Reason is ReasonHash, else 0.
	Bucket float64 `json:"bucket,omitempty"`

	// Logged is the outcome of the assignment write. Zero when nothing was
	// logged.
	Logged metricslog.Result `json:"-"`
}

// Finder looks up the experiment governing a target.
type Finder interface {
	FindApplicable(target string, now time.Time) (experiment.Config, bool)
}

// AssignmentWriter persists assignment records.
type AssignmentWriter interface {
	RecordAssignment(ctx context.Context, experimentName, target string,
		variant experiment.Variant, userID, sessionID string) metricslog.Result
}

// Engine makes routing decisions.
//
// Thread Safety: Safe for concurrent use if its collaborators are.
type Engine struct {
	finder    Finder
	writer    AssignmentWriter
	overrides Overrides
	random    RandomSource
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithOverrides replaces the default EnvOverrides.
func WithOverrides(o Overrides) Option {
	return func(e *Engine) {
		if o != nil {
			e.overrides = o
		}
	}
}

// WithRandomSource replaces the draw used when a request has no identifier.
func WithRandomSource(src RandomSource) Option {
	return func(e *Engine) {
		if src != nil {
			e.random = src
		}
	}
}

// WithClock overrides time.Now for the activity check.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an Engine.
//
// Inputs:
//   - finder: Source of active experiments, usually the registry.
//   - writer: Assignment sink, usually the recorder. May be nil to disable
//     assignment logging.
func NewEngine(finder Finder, writer AssignmentWriter, opts ...Option) *Engine {
	e := &Engine{
		finder:    finder,
		writer:    writer,
		overrides: EnvOverrides{},
		random:    defaultRandom,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide routes one request.
//
// # Outputs
//
//   - Decision: Always returned. Assignment write failures are reported in
//     Decision.Logged and logged, never returned.
func (e *Engine) Decide(ctx context.Context, req Request) Decision {
	if v, ok := e.overrides.Lookup(req.Target); ok {
		e.logger.Debug("override applied", slog.String("target", req.Target), slog.String("variant", string(v)))
		return Decision{
			IsCandidate: v.IsCandidate(),
			Experiment:  ForcedEnv,
			Variant:     v,
			Reason:      ReasonOverride,
		}
	}

	cfg, ok := e.finder.FindApplicable(req.Target, e.now())
	if !ok {
		return Decision{
			Experiment: NoExperiment,
			Variant:    experiment.Baseline,
			Reason:     ReasonNoExperiment,
		}
	}

	d := e.Choose(cfg, req)
	if e.writer != nil {
		d.Logged = e.writer.RecordAssignment(ctx, cfg.Name, req.Target, d.Variant, req.UserID, req.SessionID)
	}
	return d
}

// Choose applies rules 3 to 5 for an already-selected experiment. It has
// no side effects beyond consuming a random draw.
func (e *Engine) Choose(cfg experiment.Config, req Request) Decision {
	d := Decision{Experiment: cfg.Name}

	if forced, ok := cfg.Forced(); ok {
		d.Variant = forced
		d.Reason = ReasonForced
	} else if id := req.identifier(); id != "" {
		d.Bucket = Bucket(id)
		d.Variant = experiment.VariantOf(InRollout(d.Bucket, cfg.RolloutPercentage))
		d.Reason = ReasonHash
	} else {
		d.Variant = experiment.VariantOf(e.random() < cfg.RolloutPercentage)
		d.Reason = ReasonRandom
	}

	d.IsCandidate = d.Variant.IsCandidate()
	return d
}
