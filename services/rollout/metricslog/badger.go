// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metricslog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// keyPrefix namespaces record keys. Keys are "rec/<unix-nanos, 20 digits>/<id>"
// so iteration order is timestamp order.
const keyPrefix = "rec/"

// BadgerConfig holds configuration for a BadgerLog.
type BadgerConfig struct {
	// Dir is the directory for BadgerDB files. Ignored when InMemory is true.
	Dir string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every append.
	SyncWrites bool

	// Logger receives BadgerDB's internal messages and skipped entries.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction before GC rewrites
	// a value log file.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns durable production settings for dir.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:            dir,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns settings for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerLog stores records in an embedded BadgerDB.
//
// # Description
//
// Values are the same JSON lines FileLog writes, so DecodeLine serves both
// backends and a log can be exported by concatenating values in key order.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerLog struct {
	db     *badger.DB
	logger *slog.Logger

	stopGC chan struct{}
	gcDone chan struct{}
}

// OpenBadger opens or creates a BadgerLog.
//
// Outputs:
//   - *BadgerLog: The opened log. Caller must call Close.
//   - error: Non-nil if Dir is missing for a persistent log or the database
//     cannot be opened.
func OpenBadger(cfg BadgerConfig) (*BadgerLog, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("dir is required for persistent badger log")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger log: %w", err)
	}

	l := &BadgerLog{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		l.stopGC = make(chan struct{})
		l.gcDone = make(chan struct{})
		go l.runGC(cfg.GCInterval, ratio)
	}
	return l, nil
}

// Append stores rec under a time-ordered key. Records without an ID get one.
func (l *BadgerLog) Append(ctx context.Context, rec Record) (err error) {
	defer func() { recordAppend(backendBadger, rec.Kind(), err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	id := rec.RecordID()
	if id == "" {
		id = uuid.NewString()
	}
	key := fmt.Sprintf("%s%020d/%s", keyPrefix, rec.Time().UnixNano(), id)

	if err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	}); err != nil {
		return fmt.Errorf("append to badger log: %w", err)
	}
	return nil
}

// Scan iterates every record in key order.
func (l *BadgerLog) Scan(ctx context.Context, fn func(Entry) error) error {
	start := time.Now()
	defer func() { recordScan(backendBadger, time.Since(start).Seconds()) }()

	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var entry Entry
			decodeErr := item.Value(func(val []byte) error {
				var err error
				entry, err = DecodeLine(val)
				return err
			})
			if decodeErr != nil {
				recordMalformed(backendBadger)
				l.logger.Debug("skipping malformed badger entry",
					slog.String("key", string(item.KeyCopy(nil))),
					slog.String("error", decodeErr.Error()))
				continue
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops garbage collection and closes the database.
func (l *BadgerLog) Close() error {
	if l.stopGC != nil {
		close(l.stopGC)
		<-l.gcDone
		l.stopGC = nil
	}
	return l.db.Close()
}

func (l *BadgerLog) runGC(interval time.Duration, ratio float64) {
	defer close(l.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting.
			if err := l.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				l.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
