// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package util provides small shared helpers for the fleet supervisor.
package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// SecureWriteOptions configures the secure write operation.
type SecureWriteOptions struct {
	// CreateBackup creates a .bak file before overwriting an existing file
	CreateBackup bool
	// Permissions sets the file permissions (default: 0644)
	Permissions os.FileMode
}

// DefaultSecureWriteOptions returns the default options for SecureWrite.
func DefaultSecureWriteOptions() *SecureWriteOptions {
	return &SecureWriteOptions{
		CreateBackup: false,
		Permissions:  0644,
	}
}

// SecureWrite atomically writes data to a file using the rename-swap pattern.
// It writes to a temporary file first, calls fsync(), then atomically renames
// to the target path, so a crash mid-write never corrupts the target.
//
// Job definitions and baseline documents are rewritten through this path;
// with CreateBackup set, the previous content survives as a .bak sibling.
func SecureWrite(path string, data []byte, opts *SecureWriteOptions) error {
	if opts == nil {
		opts = DefaultSecureWriteOptions()
	}
	if opts.Permissions == 0 {
		opts.Permissions = 0644
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%s", path, uuid.New().String())

	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, opts.Permissions)
	if err != nil {
		return fmt.Errorf("failed to create temp file %s: %w", tempPath, err)
	}

	cleanupTemp := true
	defer func() {
		if cleanupTemp {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	// Sync to disk before rename to ensure durability
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if opts.CreateBackup {
		if _, err := os.Stat(path); err == nil {
			backupPath := path + ".bak"
			if err := copyFile(path, backupPath, opts.Permissions); err != nil {
				// Backup failure should not prevent the write operation
				fmt.Fprintf(os.Stderr, "warning: failed to create backup %s: %v\n", backupPath, err)
			}
		}
	}

	// Atomic rename - this is the critical operation
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to target: %w", err)
	}
	cleanupTemp = false

	if err := syncDir(dir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to sync directory %s: %v\n", dir, err)
	}

	return nil
}

// copyFile copies a file from src to dst with the specified permissions.
func copyFile(src, dst string, perm os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	if err := dstFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync destination file: %w", err)
	}

	return nil
}

// syncDir syncs a directory to ensure metadata changes are persisted.
// Best effort; not all platforms support directory fsync.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// SecureWriteJSON marshals v to indented JSON and writes it atomically.
func SecureWriteJSON(path string, v interface{}, opts *SecureWriteOptions) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	data = append(data, '\n')
	return SecureWrite(path, data, opts)
}
