// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureWriteCreatesFileAndParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.txt")

	require.NoError(t, SecureWrite(path, []byte("hello"), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSecureWriteBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	opts := DefaultSecureWriteOptions()
	opts.CreateBackup = true
	require.NoError(t, SecureWrite(path, []byte("new"), opts))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	backup, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, "old", string(backup))
}

func TestSecureWriteNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	require.NoError(t, SecureWrite(path, []byte("data"), nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.txt", entries[0].Name())
}

func TestSecureWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	payload := map[string]interface{}{"source": "fillmore", "events": 42}

	require.NoError(t, SecureWriteJSON(path, payload, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "fillmore", got["source"])
	assert.Equal(t, float64(42), got["events"])
}
