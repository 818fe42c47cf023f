// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the rollout engine settings file.
package config

import (
	"github.com/AleutianAI/AleutianRollout/services/rollout/telemetry"
)

// Metrics log backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// RolloutConfig is the root of rollout.yaml.
type RolloutConfig struct {
	// Store locates the experiment configuration document.
	Store StoreConfig `yaml:"store"`

	// MetricsLog selects where assignment and metric records go.
	MetricsLog MetricsLogConfig `yaml:"metrics_log"`

	// Registry controls how the experiment set is loaded.
	Registry RegistryConfig `yaml:"registry"`

	// Analysis selects the significance test.
	Analysis AnalysisConfig `yaml:"analysis"`

	// Logging configures pkg/logging.
	Logging LoggingConfig `yaml:"logging"`

	// Server configures `rollout serve`.
	Server ServerConfig `yaml:"server"`

	// Telemetry configures OpenTelemetry exporters.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"` // e.g. ~/.aleutian/rollout/experiments.json
}

type MetricsLogConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file badger sqlite"`

	// Path is the JSON Lines file for the file backend.
	Path string `yaml:"path" validate:"required_if=Backend file"`

	// BadgerDir is the database directory for the badger backend.
	BadgerDir string `yaml:"badger_dir" validate:"required_if=Backend badger"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`

	// SyncWrites fsyncs every badger write.
	SyncWrites bool `yaml:"sync_writes"`

	// Influx mirrors metric observations to InfluxDB when URL is set.
	Influx InfluxConfig `yaml:"influx"`
}

// InfluxConfig is optional. The token falls back to $INFLUXDB_TOKEN.
type InfluxConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token,omitempty"`
	Org    string `yaml:"org" validate:"required_with=URL"`
	Bucket string `yaml:"bucket" validate:"required_with=URL"`
}

type RegistryConfig struct {
	// LenientLoad skips bad entries instead of rejecting the whole document.
	LenientLoad bool `yaml:"lenient_load"`

	// Watch reloads the registry when another process rewrites the document.
	// Only used by `rollout serve`.
	Watch bool `yaml:"watch"`
}

type AnalysisConfig struct {
	// Significance is "heuristic" or "welch".
	Significance string  `yaml:"significance" validate:"oneof=heuristic welch"`
	WelchAlpha   float64 `yaml:"welch_alpha" validate:"gt=0,lt=1"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir,omitempty"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`

	// RateLimitRPS is the per-client request budget for /v1. Zero disables it.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" validate:"gte=0"`
}

// DefaultConfig returns the settings written on first run. Paths live under
// ~/.aleutian/rollout so every CLI invocation and `serve` share one state.
func DefaultConfig() RolloutConfig {
	tel := telemetry.DefaultConfig()
	tel.ServiceName = "aleutian-rollout"

	return RolloutConfig{
		Store: StoreConfig{Path: "~/.aleutian/rollout/experiments.json"},
		MetricsLog: MetricsLogConfig{
			Backend:    BackendFile,
			Path:       "~/.aleutian/rollout/metrics.jsonl",
			BadgerDir:  "~/.aleutian/rollout/metrics.badger",
			SQLitePath: "~/.aleutian/rollout/metrics.db",
		},
		Registry:  RegistryConfig{Watch: true},
		Analysis:  AnalysisConfig{Significance: "heuristic", WelchAlpha: 0.05},
		Logging:   LoggingConfig{Level: "info"},
		Server:    ServerConfig{Listen: "127.0.0.1:8095", RateLimitRPS: 50, RateLimitBurst: 100},
		Telemetry: tel,
	}
}
