// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRollout/services/rollout"
	"github.com/AleutianAI/AleutianRollout/services/rollout/configstore"
	"github.com/AleutianAI/AleutianRollout/services/rollout/metricslog"
)

func TestClientLimiter_PerClientBudget(t *testing.T) {
	l := NewClientLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "other clients have their own bucket")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestClientLimiter_EvictsIdleClients(t *testing.T) {
	l := NewClientLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	now = now.Add(idleLimiterTTL + time.Minute)
	l.Allow("c")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.clients, 1)
	assert.Contains(t, l.clients, "c")
}

func TestRouter_RateLimit(t *testing.T) {
	dir := t.TempDir()
	ctrl, err := rollout.New(rollout.Deps{
		Store: configstore.New(filepath.Join(dir, "experiments.json")),
		Log:   metricslog.NewFileLog(filepath.Join(dir, "metrics.jsonl")),
	})
	require.NoError(t, err)
	defer func() { _ = ctrl.Close() }()

	router := NewRouter(RouterConfig{
		ServiceName:    "rollout-test",
		RateLimitRPS:   0.001,
		RateLimitBurst: 2,
	}, NewHandlers(ctrl, nil))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/rollout/health", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
