// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rollout is the experiment traffic-splitting and decision engine.
//
// A Controller routes each request for a target to the baseline or the
// candidate implementation, records outcome metrics per variant, and turns
// the accumulated evidence into a recommendation: EXPAND, ROLLOUT,
// ROLLBACK, or CONTINUE.
//
// # Components
//
//	configstore   durable experiment set (one JSON document, atomic replace)
//	metricslog    append-only assignment and metric records
//	registry      in-memory experiment set, persisted on every mutation
//	assign        override, force, hash, or random routing
//	recorder      best-effort record writes
//	analysis      aggregation, significance, recommendation policy
//	status        ungated dashboard summaries
//
// Controller owns one instance of each. There is no package-level state;
// construct as many independent controllers as needed.
//
// # Usage
//
//	ctrl, err := rollout.New(rollout.Deps{
//	    Store: configstore.New(path),
//	    Log:   metricslog.NewFileLog(logPath),
//	})
//	d := ctrl.Decide(ctx, assign.Request{Target: "ranker", UserID: uid})
//	if d.IsCandidate { ... }
//	ctrl.Record(ctx, d.Experiment, d.Variant, "latency_ms", 12.5, nil)
package rollout
