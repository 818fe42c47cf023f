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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	kind        TEXT NOT NULL,
	experiment  TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	line        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS records_experiment ON records (experiment, seq);
`

// SQLiteLog stores records in a single SQLite table.
//
// Each row keeps the encoded JSON line plus a few indexed columns, so the
// stored lines decode exactly like FileLog's and scans run in append order.
// A single connection serialises writers.
type SQLiteLog struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory log.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteLog, error) {
	if path == "" {
		return nil, errors.New("path is required for sqlite log")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &SQLiteLog{db: db, path: path, logger: logger}, nil
}

// Append inserts rec as one row. Records without an ID get one.
func (l *SQLiteLog) Append(ctx context.Context, rec Record) (err error) {
	defer func() { recordAppend(backendSQLite, rec.Kind(), err) }()

	line, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	id := rec.RecordID()
	if id == "" {
		id = uuid.NewString()
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO records (id, kind, experiment, created_at, line) VALUES (?, ?, ?, ?, ?)`,
		id, rec.Kind(), experimentOf(rec), rec.Time().UTC().Format(time.RFC3339Nano), string(line),
	)
	if err != nil {
		return fmt.Errorf("append to sqlite log: %w", err)
	}
	return nil
}

// Scan reads every row in insertion order.
func (l *SQLiteLog) Scan(ctx context.Context, fn func(Entry) error) error {
	start := time.Now()
	defer func() { recordScan(backendSQLite, time.Since(start).Seconds()) }()

	rows, err := l.db.QueryContext(ctx, `SELECT seq, line FROM records ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("scan sqlite log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int64
			line string
		)
		if err := rows.Scan(&seq, &line); err != nil {
			return fmt.Errorf("scan sqlite row: %w", err)
		}
		entry, err := DecodeLine([]byte(line))
		if err != nil {
			recordMalformed(backendSQLite)
			l.logger.Debug("skipping malformed sqlite row",
				slog.Int64("seq", seq),
				slog.String("error", err.Error()))
			continue
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func experimentOf(rec Record) string {
	switch r := rec.(type) {
	case AssignmentRecord:
		return r.Experiment
	case MetricRecord:
		return r.Experiment
	}
	return ""
}
