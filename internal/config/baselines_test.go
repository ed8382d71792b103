// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baselineYAML = `
venues:
  fillmore:
    typical_event_count_min: 30
    typical_event_count_max: 80
    typical_horizon_months: 3
    has_pagination: true
  chapel:
    typical_event_count_min: 10
    typical_event_count_max: 40
    times_available: false
`

func writeBaselines(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "venue_baselines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(baselineYAML), 0o644))
	return path
}

func TestLoadBaselines(t *testing.T) {
	b, err := LoadBaselines(writeBaselines(t))
	require.NoError(t, err)

	fillmore, ok := b.Get("fillmore")
	require.True(t, ok)
	assert.Equal(t, 30, fillmore.TypicalEventCountMin)
	assert.Equal(t, 80, fillmore.TypicalEventCountMax)
	assert.Equal(t, 3, fillmore.TypicalHorizonMonths)
	assert.True(t, fillmore.HasPagination)
	assert.True(t, fillmore.TimesKnownAvailable())

	chapel, ok := b.Get("chapel")
	require.True(t, ok)
	assert.False(t, chapel.TimesKnownAvailable())

	_, ok = b.Get("unknown")
	assert.False(t, ok)
}

func TestLoadBaselinesMissingFile(t *testing.T) {
	b, err := LoadBaselines(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	_, ok := b.Get("anything")
	assert.False(t, ok)
}

func TestMarkTimesUnavailable(t *testing.T) {
	path := writeBaselines(t)
	b, err := LoadBaselines(path)
	require.NoError(t, err)

	marked, err := b.MarkTimesUnavailable("fillmore")
	require.NoError(t, err)
	assert.True(t, marked)

	// Change is persisted
	reloaded, err := LoadBaselines(path)
	require.NoError(t, err)
	fillmore, ok := reloaded.Get("fillmore")
	require.True(t, ok)
	assert.False(t, fillmore.TimesKnownAvailable())

	// A backup of the previous baselines exists
	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err)

	// Already marked: no-op
	marked, err = b.MarkTimesUnavailable("fillmore")
	require.NoError(t, err)
	assert.False(t, marked)

	// Unknown source: no-op
	marked, err = b.MarkTimesUnavailable("unknown")
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "node", cfg.Runtime)
	assert.NotEmpty(t, cfg.StorePath)
	assert.NotEmpty(t, cfg.ScrapersDir)
	assert.Greater(t, cfg.RunTimeout.Seconds(), 0.0)
	assert.Greater(t, cfg.ProbeTimeout.Seconds(), 0.0)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_path: /tmp/test.db
max_retries: 5
run_timeout: 2m
runtime: bun
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.StorePath)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 2*60.0, cfg.RunTimeout.Seconds())
	assert.Equal(t, "bun", cfg.Runtime)
	// Unset fields keep defaults
	assert.Equal(t, DefaultConfig().ScrapersDir, cfg.ScrapersDir)
}
