// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package runner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAll(t *testing.T) {
	f := newRunnerFixture(t, "")
	f.addJob(t, "fillmore")
	f.addJob(t, "chapel")
	f.seedHealthyRun(t, "fillmore", 30, futureEvent)
	f.seedHealthyRun(t, "chapel", 25, futureEvent)

	r := f.newRunner(WithExec(func(ctx context.Context, scriptPath string) (bool, string, string) {
		if filepath.Base(scriptPath) == "chapel.js" {
			return false, "Access denied by origin server", ""
		}
		return true, "Saved events to database", ""
	}))

	report := r.RunAll(context.Background(), []string{"fillmore", "chapel", "ghost"})

	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Success)
	assert.Equal(t, 2, report.Summary.Failed)
	assert.Equal(t, 0, report.Summary.Skipped)
	assert.Equal(t, 30, report.Summary.TotalEvents)
	assert.True(t, report.HasFailures())

	require.Contains(t, report.Sources, "fillmore")
	assert.True(t, report.Sources["fillmore"].Success)
	assert.True(t, report.Sources["chapel"].Escalated)
	assert.Contains(t, report.Sources["ghost"].ErrorMessage, "Scraper not found")

	matches, err := filepath.Glob(filepath.Join(f.cfg.OutputDir, "self_healing_run_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestLatestReportRoundtrip(t *testing.T) {
	f := newRunnerFixture(t, "")
	f.addJob(t, "fillmore")
	f.seedHealthyRun(t, "fillmore", 30, futureEvent)

	r := f.newRunner(WithExec(func(ctx context.Context, scriptPath string) (bool, string, string) {
		return true, "Saved events to database", ""
	}))
	r.RunAll(context.Background(), []string{"fillmore", "ghost"})

	startedAt, statuses, err := LatestReport(f.cfg.OutputDir)
	require.NoError(t, err)
	assert.False(t, startedAt.IsZero())

	require.Len(t, statuses, 2)
	// Readback is sorted by source
	assert.Equal(t, "fillmore", statuses[0].Source)
	assert.True(t, statuses[0].Success)
	assert.Equal(t, 30, statuses[0].EventsCount)
	assert.Equal(t, "ghost", statuses[1].Source)
	assert.False(t, statuses[1].Success)

	assert.Equal(t, []string{"ghost"}, FailedSources(statuses))
}

func TestLatestReportNoReports(t *testing.T) {
	startedAt, statuses, err := LatestReport(t.TempDir())
	require.NoError(t, err)
	assert.True(t, startedAt.IsZero())
	assert.Nil(t, statuses)
}
