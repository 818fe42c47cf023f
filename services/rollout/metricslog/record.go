// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metricslog is the append-only record stream behind assignment
// logging and outcome analysis.
//
// Two record kinds share one stream, one JSON object per line:
//
//	{"id":"...","timestamp":"...","experiment":"x","target":"t","variant":"candidate","user_id":"u1"}
//	{"id":"...","timestamp":"...","experiment":"x","variant":"candidate","metric":"latency_ms","value":12.5}
//
// A line with a "metric" key is a metric observation; anything else is an
// assignment. Readers accept the kinds interleaved in any order and skip
// lines that do not decode. Records are never updated or deleted.
//
// Backends: FileLog (newline-delimited JSON, the default), BadgerLog
// (embedded key-value store, time-ordered) and SQLiteLog (one table, append
// order). InfluxMirror wraps any of them to copy observations to InfluxDB.
package metricslog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRollout/services/rollout/experiment"
)

// ErrMalformedLine indicates a stored line that is not a valid record.
var ErrMalformedLine = errors.New("malformed log line")

// Record is implemented by the two record kinds that can be appended.
type Record interface {
	// RecordID returns the record's ID, or "" if none was assigned.
	RecordID() string

	// Kind returns "assignment" or "metric".
	Kind() string

	// Time returns the record timestamp.
	Time() time.Time
}

// Record kinds as reported by Record.Kind.
const (
	KindAssignment = "assignment"
	KindMetric     = "metric"
)

// AssignmentRecord is written once per routing decision made by an experiment.
type AssignmentRecord struct {
	ID         string             `json:"id,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Experiment string             `json:"experiment"`
	Target     string             `json:"target"`
	Variant    experiment.Variant `json:"variant"`
	UserID     string             `json:"user_id,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
}

func (r AssignmentRecord) RecordID() string { return r.ID }
func (r AssignmentRecord) Kind() string     { return KindAssignment }
func (r AssignmentRecord) Time() time.Time  { return r.Timestamp }

// MetricRecord is one observed outcome value for a variant.
type MetricRecord struct {
	ID         string             `json:"id,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Experiment string             `json:"experiment"`
	Variant    experiment.Variant `json:"variant"`
	Metric     string             `json:"metric"`
	Value      float64            `json:"value"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
}

func (r MetricRecord) RecordID() string { return r.ID }
func (r MetricRecord) Kind() string     { return KindMetric }
func (r MetricRecord) Time() time.Time  { return r.Timestamp }

// Entry is one decoded line. Exactly one field is non-nil.
type Entry struct {
	Assignment *AssignmentRecord
	Metric     *MetricRecord
}

// wireRecord is the permissive read shape covering both kinds.
type wireRecord struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"timestamp"`
	Experiment string         `json:"experiment"`
	Target     string         `json:"target"`
	Variant    string         `json:"variant"`
	UserID     *string        `json:"user_id"`
	SessionID  *string        `json:"session_id"`
	Metric     *string        `json:"metric"`
	Value      *float64       `json:"value"`
	Metadata   map[string]any `json:"metadata"`
}

// timestampLayouts are tried in order. Zone-less stamps are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// EncodeRecord renders rec as a single JSON line including the trailing newline.
func EncodeRecord(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s record: %w", rec.Kind(), err)
	}
	return append(data, '\n'), nil
}

// DecodeLine parses one stored line.
//
// Outputs:
//   - Entry: The decoded record.
//   - error: ErrMalformedLine if the line is not JSON, names no experiment,
//     carries an unknown variant, has a bad timestamp, or is a metric line
//     without a value.
func DecodeLine(line []byte) (Entry, error) {
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if strings.TrimSpace(w.Experiment) == "" {
		return Entry{}, fmt.Errorf("%w: missing experiment", ErrMalformedLine)
	}
	variant, err := experiment.ParseVariant(w.Variant)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	var ts time.Time
	if w.Timestamp != "" {
		if ts, err = parseTimestamp(w.Timestamp); err != nil {
			return Entry{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
	}

	if w.Metric != nil {
		if *w.Metric == "" || w.Value == nil {
			return Entry{}, fmt.Errorf("%w: metric line needs name and value", ErrMalformedLine)
		}
		return Entry{Metric: &MetricRecord{
			ID:         w.ID,
			Timestamp:  ts,
			Experiment: w.Experiment,
			Variant:    variant,
			Metric:     *w.Metric,
			Value:      *w.Value,
			Metadata:   w.Metadata,
		}}, nil
	}

	rec := &AssignmentRecord{
		ID:         w.ID,
		Timestamp:  ts,
		Experiment: w.Experiment,
		Target:     w.Target,
		Variant:    variant,
	}
	if w.UserID != nil {
		rec.UserID = *w.UserID
	}
	if w.SessionID != nil {
		rec.SessionID = *w.SessionID
	}
	return Entry{Assignment: rec}, nil
}
