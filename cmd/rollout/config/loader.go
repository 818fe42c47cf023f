// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the settings file location.
const EnvConfigPath = "ROLLOUT_CONFIG"

// ErrInvalid wraps settings that fail validation.
var ErrInvalid = errors.New("invalid rollout config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultPath returns ~/.aleutian/rollout/rollout.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "rollout", "rollout.yaml"), nil
}

// ResolvePath picks the settings file: the flag value, then
// $ROLLOUT_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) (string, error) {
	if flagValue != "" {
		return ExpandHome(flagValue), nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return ExpandHome(env), nil
	}
	return DefaultPath()
}

// Load reads the settings file at path, creating it with DefaultConfig on
// first run. Keys missing from the file keep their default values. A
// first-run notice is written to notice when it is non-nil.
func Load(path string, notice io.Writer) (RolloutConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if notice != nil {
			fmt.Fprintf(notice, "First run detected, creating the config at %s\n", path)
		}
		if err := createDefault(path); err != nil {
			return RolloutConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RolloutConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes settings over DefaultConfig, rejecting unknown keys, and
// validates the result. Paths are returned with ~ expanded.
func Parse(data []byte) (RolloutConfig, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return RolloutConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return RolloutConfig{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg.Store.Path = ExpandHome(cfg.Store.Path)
	cfg.MetricsLog.Path = ExpandHome(cfg.MetricsLog.Path)
	cfg.MetricsLog.BadgerDir = ExpandHome(cfg.MetricsLog.BadgerDir)
	cfg.MetricsLog.SQLitePath = ExpandHome(cfg.MetricsLog.SQLitePath)
	cfg.Logging.LogDir = ExpandHome(cfg.Logging.LogDir)
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// ExpandHome expands a leading ~ to the home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
