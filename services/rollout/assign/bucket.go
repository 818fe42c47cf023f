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
	"hash/fnv"
	"math/rand/v2"
)

// -----------------------------------------------------------------------------
// Hash Bucketing
// -----------------------------------------------------------------------------

// Buckets is the bucketing granularity. Rollout percentages resolve to the
// nearest whole percent.
const Buckets = 100

// Bucket maps an identifier to one of Buckets equal slices of [0, 1).
//
// Description:
//
//	Uses FNV-1a (64-bit) of the identifier reduced modulo Buckets. The
//	result depends only on the identifier, so an identifier keeps its
//	variant across calls and restarts for a fixed rollout percentage, and
//	only moves from baseline to candidate as the percentage grows.
//
// Thread Safety: Safe for concurrent use.
func Bucket(id string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return float64(h.Sum64()%Buckets) / Buckets
}

// InRollout reports whether bucket falls inside the candidate share.
func InRollout(bucket, rolloutPercentage float64) bool {
	return bucket < rolloutPercentage
}

// -----------------------------------------------------------------------------
// Random Draw
// -----------------------------------------------------------------------------

// RandomSource returns uniform values in [0, 1).
//
// Thread Safety: Implementations must be safe for concurrent use.
type RandomSource func() float64

// defaultRandom draws from the runtime's per-goroutine generator.
func defaultRandom() float64 {
	return rand.Float64()
}
