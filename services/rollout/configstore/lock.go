// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configstore

import (
	"os"
)

// FileLocker abstracts platform-specific advisory locking of the lock file.
//
// # Description
//
// Unix uses flock(2), Windows uses LockFileEx. Both are driven through
// golang.org/x/sys.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use on different files.
type FileLocker interface {
	// Lock acquires an exclusive lock on f without blocking.
	//
	// # Outputs
	//
	//   - error: nil on success, ErrFileLocked if another holder has it.
	Lock(f *os.File) error

	// Unlock releases a lock taken by Lock. Safe to call when not locked.
	Unlock(f *os.File) error
}
