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
)

// Log is an append-only record stream.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Log interface {
	// Append durably writes one record.
	//
	// Outputs:
	//   - error: Non-nil if the record was not written. Nothing partial is
	//     left behind for readers to trip over beyond a skippable line.
	Append(ctx context.Context, rec Record) error

	// Scan calls fn for every decodable record in append order. Malformed
	// entries are skipped. A missing backing store scans as empty.
	// A non-nil error from fn stops the scan and is returned.
	Scan(ctx context.Context, fn func(Entry) error) error

	// Close releases the backend.
	Close() error
}

// Result reports the outcome of a best-effort write.
//
// Callers that do not care can ignore it; the failure has already been
// logged by the writer.
type Result struct {
	// Written is true when the record reached the log.
	Written bool

	// ID is the record ID that was (or would have been) written.
	ID string

	// Err is the write failure, if any.
	Err error
}

// OK reports whether the record was written.
func (r Result) OK() bool {
	return r.Written && r.Err == nil
}
