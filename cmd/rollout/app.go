// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianRollout/cmd/rollout/config"
	"github.com/AleutianAI/AleutianRollout/pkg/logging"
	"github.com/AleutianAI/AleutianRollout/services/rollout"
	"github.com/AleutianAI/AleutianRollout/services/rollout/analysis"
	"github.com/AleutianAI/AleutianRollout/services/rollout/configstore"
	"github.com/AleutianAI/AleutianRollout/services/rollout/metricslog"
)

// app holds everything one CLI invocation needs.
type app struct {
	cfg    config.RolloutConfig
	logger *logging.Logger
	ctrl   *rollout.Controller
}

// openApp loads settings and builds the controller they describe.
//
// Inputs:
//   - configPath: Value of --config. May be empty.
//   - stderr: Where the first-run notice and stream logs go.
func openApp(configPath string, stderr io.Writer) (*app, error) {
	path, err := config.ResolvePath(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, stderr)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:    level,
		LogDir:   cfg.Logging.LogDir,
		Service:  "rollout",
		JSON:     cfg.Logging.JSON,
		AutoJSON: true,
		Writer:   stderr,
	})
	if err != nil {
		logger.Slog().Warn("file logging disabled", slog.String("error", err.Error()))
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return a, nil
}

func buildApp(cfg config.RolloutConfig, logger *logging.Logger) (*app, error) {
	slogger := logger.Slog()

	test, err := analysis.NewTest(cfg.Analysis.Significance, cfg.Analysis.WelchAlpha)
	if err != nil {
		return nil, err
	}

	log, err := openMetricsLog(cfg.MetricsLog, slogger)
	if err != nil {
		return nil, err
	}

	ctrl, err := rollout.New(rollout.Deps{
		Store:       configstore.New(cfg.Store.Path),
		Log:         log,
		Logger:      slogger,
		Test:        test,
		LenientLoad: cfg.Registry.LenientLoad,
	})
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, ctrl: ctrl}, nil
}

// EnvInfluxToken supplies the InfluxDB token when the config leaves it empty.
const EnvInfluxToken = "INFLUXDB_TOKEN"

func openMetricsLog(cfg config.MetricsLogConfig, logger *slog.Logger) (metricslog.Log, error) {
	log, err := openBackend(cfg, logger)
	if err != nil || cfg.Influx.URL == "" {
		return log, err
	}

	token := cfg.Influx.Token
	if token == "" {
		token = os.Getenv(EnvInfluxToken)
	}
	mirror, err := metricslog.NewInfluxMirror(log, metricslog.InfluxConfig{
		URL:    cfg.Influx.URL,
		Token:  token,
		Org:    cfg.Influx.Org,
		Bucket: cfg.Influx.Bucket,
		Logger: logger.With(slog.String("component", "influx")),
	})
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	logger.Info("Mirroring metric observations to InfluxDB",
		slog.String("url", cfg.Influx.URL),
		slog.String("bucket", cfg.Influx.Bucket))
	return mirror, nil
}

func openBackend(cfg config.MetricsLogConfig, logger *slog.Logger) (metricslog.Log, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		bc := metricslog.DefaultBadgerConfig(cfg.BadgerDir)
		bc.SyncWrites = cfg.SyncWrites
		bc.Logger = logger.With(slog.String("component", "badger"))
		if err := os.MkdirAll(cfg.BadgerDir, 0750); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		return metricslog.OpenBadger(bc)
	case config.BackendSQLite:
		return metricslog.OpenSQLite(cfg.SQLitePath, logger.With(slog.String("component", "sqlite")))
	case config.BackendFile, "":
		return metricslog.NewFileLog(cfg.Path,
			metricslog.WithFileLogger(logger.With(slog.String("component", "metricslog")))), nil
	default:
		return nil, fmt.Errorf("%w: metrics_log.backend %q", config.ErrInvalid, cfg.Backend)
	}
}

// storeDir is the directory holding the experiment document.
func (a *app) storeDir() string {
	return filepath.Dir(a.cfg.Store.Path)
}

// Close releases the metrics log and log file.
func (a *app) Close() error {
	return errors.Join(a.ctrl.Close(), a.logger.Close())
}
