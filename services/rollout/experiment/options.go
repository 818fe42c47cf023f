// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"fmt"
	"time"
)

// =============================================================================
// Options
// =============================================================================

// Options are the recognised creation options for an experiment.
//
// Description:
//
//	Every option is an explicit field; there is no free-form bag of extra
//	settings. The recognised options are:
//
//	  | Option            | Type          | Domain            | Default                               |
//	  |-------------------|---------------|-------------------|---------------------------------------|
//	  | RolloutPercentage | float64       | [0.0, 1.0]        | 0.1                                   |
//	  | Duration          | time.Duration | >= 0 (0 = no end) | 7 days                                |
//	  | MinSamples        | int           | >= 1              | 100                                   |
//	  | ConfidenceLevel   | float64       | (0, 1)            | 0.95                                  |
//	  | TrackedMetrics    | []string      | non-empty names   | latency_ms, error_rate, quality_score |
//	  | StartTime         | *time.Time    | any               | creation time                         |
//	  | EndTime           | *time.Time    | >= StartTime      | StartTime + Duration                  |
//
//	Out-of-domain values are rejected by Validate rather than clamped.
type Options struct {
	RolloutPercentage float64       `validate:"gte=0,lte=1"`
	Duration          time.Duration `validate:"gte=0"`
	MinSamples        int           `validate:"gte=1"`
	ConfidenceLevel   float64       `validate:"gt=0,lt=1"`
	TrackedMetrics    []string      `validate:"dive,required"`
	StartTime         *time.Time
	EndTime           *time.Time
}

// DefaultDuration is the experiment window applied when none is given.
const DefaultDuration = 7 * 24 * time.Hour

// DefaultOptions returns the creation defaults.
//
// Outputs:
//   - Options: Defaults from the option table above.
func DefaultOptions() Options {
	return Options{
		RolloutPercentage: 0.1,
		Duration:          DefaultDuration,
		MinSamples:        100,
		ConfidenceLevel:   0.95,
		TrackedMetrics:    []string{"latency_ms", "error_rate", "quality_score"},
	}
}

// Option mutates Options.
type Option func(*Options)

// WithRolloutPercentage sets the fraction of bucketed traffic sent to the candidate.
func WithRolloutPercentage(p float64) Option {
	return func(o *Options) { o.RolloutPercentage = p }
}

// WithDuration sets the active window length. Zero leaves the end unbounded.
func WithDuration(d time.Duration) Option {
	return func(o *Options) { o.Duration = d }
}

// WithMinSamples sets the per-variant observation threshold for analysis.
func WithMinSamples(n int) Option {
	return func(o *Options) { o.MinSamples = n }
}

// WithConfidenceLevel sets the confidence level carried into results.
func WithConfidenceLevel(level float64) Option {
	return func(o *Options) { o.ConfidenceLevel = level }
}

// WithTrackedMetrics sets the informational list of tracked metric names.
func WithTrackedMetrics(names ...string) Option {
	return func(o *Options) { o.TrackedMetrics = append([]string(nil), names...) }
}

// WithWindow overrides the computed window. Either bound may be nil.
func WithWindow(start, end *time.Time) Option {
	return func(o *Options) {
		o.StartTime = start
		o.EndTime = end
	}
}

// Apply returns DefaultOptions with opts applied in order.
func Apply(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Validate checks every option against its domain.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if o.StartTime != nil && o.EndTime != nil && o.EndTime.Before(*o.StartTime) {
		return fmt.Errorf("%w: end_time before start_time", ErrInvalidConfig)
	}
	return nil
}

// Build validates the options and produces an enabled Config.
//
// Description:
//
//	StartTime defaults to now. EndTime defaults to StartTime + Duration,
//	or stays unbounded when Duration is zero.
//
// Inputs:
//   - name: Unique experiment name. Must not be empty.
//   - target: Feature or component under test. Must not be empty.
//   - now: Creation time.
//
// Outputs:
//   - Config: The new configuration, enabled and without a forced variant.
//   - error: ErrInvalidConfig if any option or identifier is invalid.
func (o Options) Build(name, target string, now time.Time) (Config, error) {
	if err := o.Validate(); err != nil {
		return Config{}, err
	}

	start := now
	if o.StartTime != nil {
		start = *o.StartTime
	}

	var end *time.Time
	switch {
	case o.EndTime != nil:
		e := *o.EndTime
		end = &e
	case o.Duration > 0:
		e := start.Add(o.Duration)
		end = &e
	}

	cfg := Config{
		Name:              name,
		Target:            target,
		RolloutPercentage: o.RolloutPercentage,
		StartTime:         &start,
		EndTime:           end,
		MinSamples:        o.MinSamples,
		ConfidenceLevel:   o.ConfidenceLevel,
		TrackedMetrics:    append([]string(nil), o.TrackedMetrics...),
		Enabled:           true,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
