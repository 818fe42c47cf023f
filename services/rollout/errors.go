// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollout

import (
	"errors"

	"github.com/AleutianAI/AleutianRollout/services/rollout/analysis"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
	"github.com/AleutianAI/AleutianRollout/services/rollout/registry"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownExperiment indicates no experiment is registered under the name.
	ErrUnknownExperiment = registry.ErrUnknownExperiment

	// ErrInsufficientData indicates a variant is below min_samples. It is an
	// expected state while an experiment is collecting data.
	ErrInsufficientData = analysis.ErrInsufficientData

	// ErrInvalidConfig indicates bad experiment options or identifiers.
	ErrInvalidConfig = experiment.ErrInvalidConfig

	// ErrMissingDependency indicates New was called without a store or log.
	ErrMissingDependency = errors.New("missing controller dependency")
)
