// Copyright 2026 The Keyward Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile provides advisory-locked, atomically replaced state
// files.
//
// Rate-limit counters, the vault ciphertext, and the pairing record are
// shared mutable state across process invocations: each sudo-style call
// is a fresh process, and concurrent calls must not lose updates.
// WithLock serializes read-modify-write sequences via flock on a
// sidecar lock file; WriteAtomic guarantees that a crash mid-write
// leaves previously committed state intact (write-new-then-rename,
// never in-place truncate+write).
package statefile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// WithLock runs fn while holding an exclusive advisory lock on a
// sidecar lock file (path + ".lock"). The lock file's parent directory
// is created if missing. Blocks until the lock is acquired.
func WithLock(path string, fn func() error) error {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking %s: %w", lockPath, err)
	}
	// Closing the file releases the flock; the explicit unlock makes
	// the release immediate rather than close-ordering dependent.
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	return fn()
}

// WriteAtomic writes data to path by writing a temporary file in the
// same directory, syncing it, and renaming it over the destination.
// The rename is atomic on POSIX filesystems: readers see either the
// old content or the new content, never a partial write.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	temp, err := os.CreateTemp(directory, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	// Remove the temp file on any failure path before rename.
	cleanup := func(cause error) error {
		temp.Close()
		os.Remove(tempPath)
		return cause
	}

	if _, err := temp.Write(data); err != nil {
		return cleanup(fmt.Errorf("writing %s: %w", tempPath, err))
	}
	if err := temp.Chmod(perm); err != nil {
		return cleanup(fmt.Errorf("setting mode on %s: %w", tempPath, err))
	}
	if err := temp.Sync(); err != nil {
		return cleanup(fmt.Errorf("syncing %s: %w", tempPath, err))
	}
	if err := temp.Close(); err != nil {
		return cleanup(fmt.Errorf("closing %s: %w", tempPath, err))
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming %s to %s: %w", tempPath, path, err)
	}
	return nil
}
