// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment defines the experiment configuration shared by the
// rollout registry, assignment engine, and analysis packages.
//
// An experiment names a target (the feature or component under test), the
// fraction of bucketed traffic routed to the candidate implementation, an
// optional active window, and the evidence thresholds used when analysing
// outcomes. Configurations are plain values: the registry owns their
// lifetime and hands out copies.
package experiment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidConfig indicates a configuration or option failed validation.
	ErrInvalidConfig = errors.New("invalid experiment config")

	// ErrInvalidVariant indicates a variant string is not baseline or candidate.
	ErrInvalidVariant = errors.New("invalid variant")
)

// validate is shared by every package-level validation call.
// *validator.Validate caches struct metadata and is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// Variant
// =============================================================================

// Variant identifies one side of an experiment.
type Variant string

const (
	// Baseline is the existing (control) implementation.
	Baseline Variant = "baseline"

	// Candidate is the new (treatment) implementation.
	Candidate Variant = "candidate"
)

// Valid reports whether v is Baseline or Candidate.
func (v Variant) Valid() bool {
	return v == Baseline || v == Candidate
}

// IsCandidate reports whether v is the candidate variant.
func (v Variant) IsCandidate() bool {
	return v == Candidate
}

// String returns the wire form of the variant.
func (v Variant) String() string {
	return string(v)
}

// VariantOf maps a routing flag back to its variant.
func VariantOf(isCandidate bool) Variant {
	if isCandidate {
		return Candidate
	}
	return Baseline
}

// ParseVariant parses "baseline" or "candidate" (case-insensitive).
//
// Outputs:
//   - Variant: The parsed variant.
//   - error: ErrInvalidVariant for any other input.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVariant, s)
	}
	return v, nil
}

// ParseForceVariant parses a force-variant setting.
//
// Description:
//
//	The empty string and "none" clear the override and return nil.
//	Otherwise the input must parse as a Variant.
func ParseForceVariant(s string) (*Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return nil, nil
	}
	v, err := ParseVariant(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// =============================================================================
// Config
// =============================================================================

// Config is one experiment definition as stored in the config document.
//
// JSON field names match the persisted document:
//
//	{"name": "...", "target": "...", "rollout_percentage": 0.1, ...}
//
// Nil StartTime or EndTime leaves that side of the window unbounded. A nil
// ForceVariant means bucketing decides the variant.
type Config struct {
	Name              string     `json:"name" validate:"required"`
	Target            string     `json:"target" validate:"required"`
	RolloutPercentage float64    `json:"rollout_percentage" validate:"gte=0,lte=1"`
	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	MinSamples        int        `json:"min_samples" validate:"gte=1"`
	ConfidenceLevel   float64    `json:"confidence_level" validate:"gte=0,lte=1"`
	TrackedMetrics    []string   `json:"tracked_metrics"`
	Enabled           bool       `json:"enabled"`
	ForceVariant      *Variant   `json:"force_variant" validate:"omitempty,oneof=baseline candidate"`
}

// Validate checks field domains and the window ordering.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, c.Name, err)
	}
	if c.StartTime != nil && c.EndTime != nil && c.EndTime.Before(*c.StartTime) {
		return fmt.Errorf("%w: %s: end_time before start_time", ErrInvalidConfig, c.Name)
	}
	return nil
}

// IsActive reports whether the experiment is enabled and now falls inside
// its window. Both window bounds are inclusive.
func (c Config) IsActive(now time.Time) bool {
	if !c.Enabled {
		return false
	}
	if c.StartTime != nil && now.Before(*c.StartTime) {
		return false
	}
	if c.EndTime != nil && now.After(*c.EndTime) {
		return false
	}
	return true
}

// Forced returns the forced variant, if any.
func (c Config) Forced() (Variant, bool) {
	if c.ForceVariant == nil {
		return "", false
	}
	return *c.ForceVariant, true
}

// Clone returns a deep copy so callers cannot alias registry state.
func (c Config) Clone() Config {
	out := c
	if c.StartTime != nil {
		t := *c.StartTime
		out.StartTime = &t
	}
	if c.EndTime != nil {
		t := *c.EndTime
		out.EndTime = &t
	}
	if c.ForceVariant != nil {
		v := *c.ForceVariant
		out.ForceVariant = &v
	}
	if c.TrackedMetrics != nil {
		out.TrackedMetrics = append([]string(nil), c.TrackedMetrics...)
	}
	return out
}
