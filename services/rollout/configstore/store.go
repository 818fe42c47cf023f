// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package configstore persists the full set of experiment definitions as a
// single JSON document.
//
// # Document Format
//
//	{
//	  "experiments": [ {ExperimentConfig}, ... ],
//	  "last_updated": "2026-03-01T12:00:00Z"
//	}
//
// The document is rewritten wholesale on every save. Saves write a temporary
// file in the same directory and rename it over the target, so readers never
// observe a partially-written document. An advisory lock on a sibling
// ".lock" file serialises writers across processes.
//
// # Loading
//
// Load is strict: one malformed entry rejects the whole document. LoadLenient
// isolates failures per entry and returns the entries that parsed. Unknown
// keys inside an entry are ignored on read; they are never written back.
package configstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound indicates the config document does not exist yet.
	ErrNotFound = errors.New("config document not found")

	// ErrMalformed indicates the document or one of its entries could not be parsed.
	ErrMalformed = errors.New("malformed config document")

	// ErrFileLocked indicates another writer holds the document lock.
	ErrFileLocked = errors.New("config document is locked")

	// ErrLockTimeout indicates the lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for config document lock")
)

// =============================================================================
// Document
// =============================================================================

// Document is the on-disk shape of the experiment set.
type Document struct {
	Experiments []experiment.Config `json:"experiments"`
	LastUpdated time.Time           `json:"last_updated"`
}

// rawDocument defers entry decoding so entries can fail independently.
type rawDocument struct {
	Experiments []json.RawMessage `json:"experiments"`
	LastUpdated time.Time         `json:"last_updated"`
}

// EntryError describes one entry rejected by LoadLenient.
type EntryError struct {
	// Index is the entry's position in the experiments array.
	Index int

	// Name is the entry's name if it could be read, else "".
	Name string

	// Err is the decode or validation failure.
	Err error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %d (%q): %v", e.Index, e.Name, e.Err)
}

func (e EntryError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Store
// =============================================================================

// DefaultLockTimeout bounds how long Save waits for the document lock.
const DefaultLockTimeout = 5 * time.Second

// lockRetryInterval is the pause between non-blocking lock attempts.
const lockRetryInterval = 10 * time.Millisecond

// Store reads and writes the config document at a fixed path.
//
// Thread Safety: Safe for concurrent use. Concurrent saves from this or
// other processes are serialised by the advisory lock; the last rename wins.
type Store struct {
	path        string
	locker      FileLocker
	lockTimeout time.Duration
	now         func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock overrides the clock used for last_updated.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocker overrides the platform file locker.
func WithLocker(l FileLocker) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.locker = l
		}
	}
}

// New creates a Store for the document at path. The file need not exist.
func New(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:        path,
		locker:      newPlatformLocker(),
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Load reads every entry, failing the whole document on the first bad entry.
//
// Outputs:
//   - []experiment.Config: Entries in document order.
//   - error: ErrNotFound if the file is missing, ErrMalformed on any parse or
//     validation failure, or the underlying read error.
func (s *Store) Load() ([]experiment.Config, error) {
	raw, err := s.readRaw()
	if err != nil {
		return nil, err
	}

	configs := make([]experiment.Config, 0, len(raw.Experiments))
	for i, entry := range raw.Experiments {
		cfg, err := decodeEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, EntryError{Index: i, Name: cfg.Name, Err: err})
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// LoadLenient reads every entry, skipping the ones that fail.
//
// Outputs:
//   - []experiment.Config: Entries that parsed and validated, in document order.
//   - []EntryError: One element per rejected entry.
//   - error: ErrNotFound, ErrMalformed when the document itself is unreadable
//     as JSON, or the underlying read error.
func (s *Store) LoadLenient() ([]experiment.Config, []EntryError, error) {
	raw, err := s.readRaw()
	if err != nil {
		return nil, nil, err
	}

	configs := make([]experiment.Config, 0, len(raw.Experiments))
	var rejected []EntryError
	for i, entry := range raw.Experiments {
		cfg, err := decodeEntry(entry)
		if err != nil {
			rejected = append(rejected, EntryError{Index: i, Name: cfg.Name, Err: err})
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, rejected, nil
}

// Save atomically replaces the document with configs.
//
// Description:
//
//	Takes the advisory lock, writes the encoded document to a temporary
//	file in the target directory, syncs it, and renames it over the
//	target. The directory is created if missing.
//
// Outputs:
//   - error: Non-nil if the lock, write, sync, or rename fails. On failure
//     the previous document is left intact.
func (s *Store) Save(configs []experiment.Config) error {
	if configs == nil {
		configs = []experiment.Config{}
	}
	doc := Document{
		Experiments: configs,
		LastUpdated: s.now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	return writeAtomic(s.path, data)
}

// readRaw reads and splits the document without decoding entries.
func (s *Store) readRaw() (*rawDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("read config document %s: %w", s.path, err)
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, s.path, err)
	}
	return &raw, nil
}

// decodeEntry parses and validates a single entry. The returned Config
// carries whatever fields decoded, so callers can report the entry name.
func decodeEntry(entry json.RawMessage) (experiment.Config, error) {
	var cfg experiment.Config
	if len(bytes.TrimSpace(entry)) == 0 || bytes.Equal(bytes.TrimSpace(entry), []byte("null")) {
		return cfg, errors.New("empty entry")
	}
	if err := json.Unmarshal(entry, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// lock acquires the advisory lock, retrying until lockTimeout.
func (s *Store) lock() (func(), error) {
	lockPath := s.path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	deadline := time.Now().Add(s.lockTimeout)
	for {
		err = s.locker.Lock(f)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrFileLocked) || time.Now().After(deadline) {
			_ = f.Close()
			if errors.Is(err, ErrFileLocked) {
				return nil, fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
			}
			return nil, fmt.Errorf("lock %s: %w", lockPath, err)
		}
		time.Sleep(lockRetryInterval)
	}

	return func() {
		_ = s.locker.Unlock(f)
		_ = f.Close()
	}, nil
}

// writeAtomic writes data to a temp file beside path and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0640); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	committed = true
	return nil
}
