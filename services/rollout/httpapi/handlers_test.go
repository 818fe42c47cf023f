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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRollout/services/rollout"
	"github.com/AleutianAI/AleutianRollout/services/rollout/analysis"
	"github.com/AleutianAI/AleutianRollout/services/rollout/assign"
	"github.com/AleutianAI/AleutianRollout/services/rollout/configstore"
	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
	"github.com/AleutianAI/AleutianRollout/services/rollout/metricslog"
	"github.com/AleutianAI/AleutianRollout/services/rollout/status"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	dir := t.TempDir()
	ctrl, err := rollout.New(rollout.Deps{
		Store:     configstore.New(filepath.Join(dir, "experiments.json")),
		Log:       metricslog.NewFileLog(filepath.Join(dir, "metrics.jsonl")),
		Overrides: assign.NoOverrides{},
		Clock:     func() time.Time { return testNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	return NewRouter(RouterConfig{ServiceName: "rollout-test"}, NewHandlers(ctrl, nil))
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createExperiment(t *testing.T, router *gin.Engine, body string) {
	t.Helper()
	w := do(t, router, http.MethodPost, "/v1/rollout/experiments", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHandlers_Health(t *testing.T) {
	router := setupTestRouter(t)
	w := do(t, router, http.MethodGet, "/v1/rollout/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 0, resp.Experiments)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandlers_Create(t *testing.T) {
	router := setupTestRouter(t)

	w := do(t, router, http.MethodPost, "/v1/rollout/experiments",
		`{"name":"ranker_v2","target":"ranker","rollout_percentage":0.3,"duration_days":14,"min_samples":50}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	cfg := decode[experiment.Config](t, w)
	assert.Equal(t, "ranker_v2", cfg.Name)
	assert.InDelta(t, 0.3, cfg.RolloutPercentage, 1e-9)
	assert.Equal(t, 50, cfg.MinSamples)
	require.NotNil(t, cfg.EndTime)
	assert.True(t, testNow.Add(14*24*time.Hour).Equal(*cfg.EndTime), cfg.EndTime)
	assert.True(t, cfg.Enabled)
}

func TestHandlers_Create_InvalidRequest(t *testing.T) {
	router := setupTestRouter(t)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "empty body", body: "{}", wantCode: CodeInvalidRequest},
		{name: "not json", body: "nope", wantCode: CodeInvalidRequest},
		{name: "unknown field", body: `{"name":"a","target":"b","colour":"red"}`, wantCode: CodeInvalidRequest},
		{name: "rollout out of range", body: `{"name":"a","target":"b","rollout_percentage":1.5}`, wantCode: CodeInvalidConfig},
		{name: "zero min samples", body: `{"name":"a","target":"b","min_samples":0}`, wantCode: CodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/v1/rollout/experiments", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandlers_ListAndStatus(t *testing.T) {
	router := setupTestRouter(t)
	createExperiment(t, router, `{"name":"b","target":"search"}`)
	createExperiment(t, router, `{"name":"a","target":"ranker","min_samples":5}`)

	w := do(t, router, http.MethodGet, "/v1/rollout/experiments", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ExperimentsResponse](t, w)
	require.Len(t, list.Experiments, 2)
	assert.Equal(t, "b", list.Experiments[0].Name)

	w = do(t, router, http.MethodGet, "/v1/rollout/experiments/a", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[status.Status](t, w)
	assert.Equal(t, "ranker", st.Target)
	assert.Equal(t, 5, st.MinSamples)
	assert.Zero(t, st.Progress)
}

func TestHandlers_UnknownExperiment(t *testing.T) {
	router := setupTestRouter(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/v1/rollout/experiments/ghost", ""},
		{http.MethodPost, "/v1/rollout/experiments/ghost/pause", ""},
		{http.MethodPost, "/v1/rollout/experiments/ghost/resume", ""},
		{http.MethodPut, "/v1/rollout/experiments/ghost/force", `{"variant":"candidate"}`},
		{http.MethodGet, "/v1/rollout/experiments/ghost/analysis", ""},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := do(t, router, tc.method, tc.path, tc.body)
			require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
			assert.Equal(t, CodeNotFound, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandlers_PauseResumeDecide(t *testing.T) {
	router := setupTestRouter(t)
	createExperiment(t, router, `{"name":"exp","target":"search","rollout_percentage":1}`)

	w := do(t, router, http.MethodPost, "/v1/rollout/decide", `{"target":"search","user_id":"u1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	d := decode[assign.Decision](t, w)
	assert.True(t, d.IsCandidate)
	assert.Equal(t, "exp", d.Experiment)
	assert.Equal(t, assign.ReasonHash, d.Reason)

	w = do(t, router, http.MethodPost, "/v1/rollout/experiments/exp/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[status.Status](t, w).Enabled)

	w = do(t, router, http.MethodPost, "/v1/rollout/decide", `{"target":"search","user_id":"u1"}`)
	d = decode[assign.Decision](t, w)
	assert.False(t, d.IsCandidate)
	assert.Equal(t, assign.NoExperiment, d.Experiment)

	w = do(t, router, http.MethodPost, "/v1/rollout/experiments/exp/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[status.Status](t, w).Enabled)
}

func TestHandlers_Decide_RequiresTarget(t *testing.T) {
	router := setupTestRouter(t)
	w := do(t, router, http.MethodPost, "/v1/rollout/decide", `{"user_id":"u1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_Force(t *testing.T) {
	router := setupTestRouter(t)
	createExperiment(t, router, `{"name":"exp","target":"search","rollout_percentage":0}`)

	w := do(t, router, http.MethodPut, "/v1/rollout/experiments/exp/force", `{"variant":"candidate"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[status.Status](t, w)
	require.NotNil(t, st.ForceVariant)
	assert.Equal(t, experiment.Candidate, *st.ForceVariant)

	w = do(t, router, http.MethodPost, "/v1/rollout/decide", `{"target":"search","session_id":"s"}`)
	d := decode[assign.Decision](t, w)
	assert.True(t, d.IsCandidate)
	assert.Equal(t, assign.ReasonForced, d.Reason)

	w = do(t, router, http.MethodPut, "/v1/rollout/experiments/exp/force", `{"variant":"sideways"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidVariant, decode[ErrorResponse](t, w).Code)

	w = do(t, router, http.MethodPut, "/v1/rollout/experiments/exp/force", `{"variant":null}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[status.Status](t, w).ForceVariant)
}

func TestHandlers_Record(t *testing.T) {
	router := setupTestRouter(t)

	w := do(t, router, http.MethodPost, "/v1/rollout/record",
		`{"experiment":"exp","variant":"candidate","metric":"latency_ms","value":0,"metadata":{"region":"eu"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[RecordResponse](t, w)
	assert.True(t, resp.Written)
	assert.NotEmpty(t, resp.ID)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "missing value", body: `{"experiment":"exp","variant":"candidate","metric":"m"}`, wantCode: CodeInvalidRequest},
		{name: "bad variant", body: `{"experiment":"exp","variant":"control","metric":"m","value":1}`, wantCode: CodeInvalidVariant},
		{name: "missing metric", body: `{"experiment":"exp","variant":"baseline","value":1}`, wantCode: CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/v1/rollout/record", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandlers_Analyze(t *testing.T) {
	router := setupTestRouter(t)
	createExperiment(t, router, `{"name":"exp","target":"ranker","min_samples":3}`)

	w := do(t, router, http.MethodGet, "/v1/rollout/experiments/exp/analysis", "")
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[AnalysisResponse](t, w)
	assert.False(t, pending.Ready)
	assert.Nil(t, pending.Result)
	require.NotNil(t, pending.Samples)
	assert.Equal(t, 3, pending.Samples.Required)

	for i := 0; i < 5; i++ {
		for _, obs := range []struct {
			variant string
			value   float64
		}{{"baseline", 0.6}, {"candidate", 0.85}} {
			body := fmt.Sprintf(`{"experiment":"exp","variant":%q,"metric":"quality_score","value":%v}`, obs.variant, obs.value)
			require.Equal(t, http.StatusAccepted, do(t, router, http.MethodPost, "/v1/rollout/record", body).Code)
		}
	}

	w = do(t, router, http.MethodGet, "/v1/rollout/experiments/exp/analysis", "")
	require.Equal(t, http.StatusOK, w.Code)
	ready := decode[AnalysisResponse](t, w)
	assert.True(t, ready.Ready)
	require.NotNil(t, ready.Result)
	assert.Equal(t, analysis.Expand, ready.Result.Recommendation)
	assert.Equal(t, 5, ready.Result.BaselineSamples)
}

func TestRouter_Metrics(t *testing.T) {
	dir := t.TempDir()
	ctrl, err := rollout.New(rollout.Deps{
		Store: configstore.New(filepath.Join(dir, "experiments.json")),
		Log:   metricslog.NewFileLog(filepath.Join(dir, "metrics.jsonl")),
	})
	require.NoError(t, err)
	defer func() { _ = ctrl.Close() }()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("rollout_up 1\n"))
	})
	router := NewRouter(RouterConfig{ServiceName: "rollout-test", Metrics: metrics}, NewHandlers(ctrl, nil))

	w := do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rollout_up")
}
