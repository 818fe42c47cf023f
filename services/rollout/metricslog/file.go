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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLog stores records as newline-delimited JSON in one file.
//
// # Description
//
// Each Append is a single write(2) of one complete line on a descriptor
// opened with O_APPEND, so lines from concurrent writers in this or other
// processes never interleave. The descriptor is opened on first use and
// reopened after a failure, which lets a process start even when the log
// directory is not yet writable.
//
// A failed write can leave a partial line behind. The next append then
// starts with a newline, so only the torn record is lost and the record
// after it stays readable. The same holds for a file left torn by an
// earlier process.
//
// # Thread Safety
//
// Safe for concurrent use. Appends are serialised by a mutex; scans open
// their own read descriptor and run concurrently with appends.
type FileLog struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file io.WriteCloser
	torn bool
	open func(path string) (io.WriteCloser, error)
}

// FileOption configures a FileLog.
type FileOption func(*FileLog)

// WithFileLogger sets the logger used for skipped lines.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(l *FileLog) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewFileLog returns a FileLog at path. Nothing is opened until the first
// Append or Scan.
func NewFileLog(path string, opts ...FileOption) *FileLog {
	l := &FileLog{
		path:   path,
		logger: slog.Default(),
		open:   openAppendWriter,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the log file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append writes rec as one line.
func (l *FileLog) Append(ctx context.Context, rec Record) (err error) {
	defer func() { recordAppend(backendFile, rec.Kind(), err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		f, err := l.open(l.path)
		if err != nil {
			return err
		}
		l.file = f
		if endsMidLine(l.path) {
			l.torn = true
		}
	}
	if l.torn {
		line = append([]byte{'\n'}, line...)
	}

	n, err := l.file.Write(line)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if n > 0 {
			l.torn = true
		}
		// Drop the descriptor so the next append starts clean.
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("append to %s: %w", l.path, err)
	}
	l.torn = false
	return nil
}

// Scan reads the file from the start.
func (l *FileLog) Scan(ctx context.Context, fn func(Entry) error) error {
	start := time.Now()
	defer func() { recordScan(backendFile, time.Since(start).Seconds()) }()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				entry, err := DecodeLine(line)
				if err != nil {
					recordMalformed(backendFile)
					l.logger.Debug("skipping malformed log line",
						slog.String("path", l.path),
						slog.Int("line", lineNo),
						slog.String("error", err.Error()))
				} else if err := fn(entry); err != nil {
					return err
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", l.path, readErr)
		}
	}
}

// Close closes the append descriptor, if open.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func openAppendWriter(path string) (io.WriteCloser, error) {
	return openAppend(path)
}

// endsMidLine reports whether the file's last byte is not a newline.
// Missing and empty files are not torn.
func endsMidLine(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return false
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return false
	}
	return last[0] != '\n'
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("open %s for append: %w", path, err)
	}
	return f, nil
}
