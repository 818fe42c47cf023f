// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assign

import (
	"os"
	"strings"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

// Overrides supplies operator overrides that bypass the registry entirely.
type Overrides interface {
	// Lookup returns the forced variant for target, if one is set.
	Lookup(target string) (experiment.Variant, bool)
}

// EnvOverrides reads FORCE_CANDIDATE_<TARGET> and FORCE_BASELINE_<TARGET>.
//
// The candidate key is checked first. Values 1, true, yes and on (any case)
// enable an override; anything else is ignored.
type EnvOverrides struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// Lookup implements Overrides.
func (o EnvOverrides) Lookup(target string) (experiment.Variant, bool) {
	lookup := o.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, v := range []experiment.Variant{experiment.Candidate, experiment.Baseline} {
		if val, ok := lookup(EnvKey(v, target)); ok && truthy(val) {
			return v, true
		}
	}
	return "", false
}

// EnvKey returns the environment variable that forces v for target.
//
// The target is upper-cased and every character outside [A-Z0-9_] becomes
// an underscore, so "search.ranker-v2" yields FORCE_CANDIDATE_SEARCH_RANKER_V2.
func EnvKey(v experiment.Variant, target string) string {
	return "FORCE_" + strings.ToUpper(string(v)) + "_" + normalizeTarget(target)
}

func normalizeTarget(target string) string {
	upper := strings.ToUpper(target)
	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func truthy(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// StaticOverrides is a fixed target to variant table.
type StaticOverrides map[string]experiment.Variant

// Lookup implements Overrides.
func (o StaticOverrides) Lookup(target string) (experiment.Variant, bool) {
	v, ok := o[target]
	return v, ok
}

// NoOverrides never overrides.
type NoOverrides struct{}

// Lookup implements Overrides.
func (NoOverrides) Lookup(string) (experiment.Variant, bool) { return "", false }
