//go:build windows

/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"os"
	"syscall"
	"time"
)

// atomicRename performs a rename on Windows, where the destination may need
// to be removed first when it is still held open by a reader.
func atomicRename(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	if linkErr, ok := err.(*os.LinkError); ok {
		if errno, ok := linkErr.Err.(syscall.Errno); ok {
			// ERROR_ACCESS_DENIED = 5
			// ERROR_ALREADY_EXISTS = 183
			if errno == 5 || errno == 183 {
				_ = os.Remove(dst)
				time.Sleep(10 * time.Millisecond)
				return os.Rename(src, dst)
			}
		}
	}

	return err
}

// syncDir is a no-op on Windows; directories cannot be opened for sync
func syncDir(dir string) error {
	return nil
}
