// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package secret

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocate maps anonymous memory outside the Go heap and excludes it from
// core dumps. mlock is attempted but a low RLIMIT_MEMLOCK (common in
// containers) only downgrades the buffer to unlocked.
func allocate(size int) ([]byte, bool, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, false, fmt.Errorf("secret: mmap failed: %w", err)
	}

	// Not supported on every kernel; the buffer is still off-heap.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	locked := unix.Mlock(data) == nil
	return data, locked, nil
}

func release(data []byte, locked bool) error {
	var firstErr error
	if locked {
		if err := unix.Munlock(data); err != nil {
			firstErr = fmt.Errorf("secret: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("secret: munmap failed: %w", err)
	}
	return firstErr
}
