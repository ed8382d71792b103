// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestLatestRunEmpty(t *testing.T) {
	st := openTestStore(t)

	run, err := st.LatestRun(context.Background(), "fillmore")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestInsertAndQueryRuns(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	runs := []*ScrapeRun{
		{Source: "fillmore", StartedAt: base, Status: StatusCompleted, EventsScraped: 40},
		{Source: "fillmore", StartedAt: base.Add(24 * time.Hour), Status: StatusFailed, EventsScraped: 0},
		{Source: "fillmore", StartedAt: base.Add(48 * time.Hour), Status: StatusCompleted, EventsScraped: 55},
		{Source: "warfield", StartedAt: base, Status: StatusCompleted, EventsScraped: 12},
	}
	for _, r := range runs {
		require.NoError(t, st.InsertRun(ctx, r))
		assert.NotZero(t, r.ID)
	}

	latest, err := st.LatestRun(ctx, "fillmore")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 55, latest.EventsScraped)

	bySource, err := st.RunsBySource(ctx, "fillmore")
	require.NoError(t, err)
	require.Len(t, bySource, 3)
	// Newest first
	assert.Equal(t, 55, bySource[0].EventsScraped)
	assert.Equal(t, 40, bySource[2].EventsScraped)

	successful, err := st.HistoricalSuccessfulRuns(ctx, "fillmore", 10)
	require.NoError(t, err)
	assert.Len(t, successful, 2)
	for _, r := range successful {
		assert.Equal(t, StatusCompleted, r.Status)
		assert.Greater(t, r.EventsScraped, 0)
	}
}

func TestInsertAndQueryEvents(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	run := &ScrapeRun{
		Source:        "fillmore",
		StartedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Status:        StatusCompleted,
		EventsScraped: 2,
	}
	require.NoError(t, st.InsertRun(ctx, run))

	events := []*RawEvent{
		{
			Source:      "fillmore",
			ScrapeRunID: run.ID,
			Title:       "The National",
			StartTime:   sql.NullTime{Time: time.Date(2026, 9, 10, 20, 0, 0, 0, time.UTC), Valid: true},
			Venue:       "The Fillmore",
			URL:         "https://example.com/national",
			ScrapedAt:   run.StartedAt,
		},
		{
			Source:      "fillmore",
			ScrapeRunID: run.ID,
			Title:       "Big Thief",
			StartTime:   sql.NullTime{Time: time.Date(2026, 9, 2, 19, 30, 0, 0, time.UTC), Valid: true},
			Venue:       "The Fillmore",
			URL:         "https://example.com/bigthief",
			ScrapedAt:   run.StartedAt,
		},
	}
	for _, ev := range events {
		require.NoError(t, st.InsertEvent(ctx, ev))
	}

	byRun, err := st.EventsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, byRun, 2)

	bySource, err := st.EventsBySource(ctx, "fillmore")
	require.NoError(t, err)
	require.Len(t, bySource, 2)
	// Ordered by start time
	assert.Equal(t, "Big Thief", bySource[0].Title)

	count, err := st.CountEventsBySource(ctx, "fillmore")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = st.CountEventsBySource(ctx, "warfield")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestOpenCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(context.Background(), filepath.Join(dir, "nested", "deeper", "events.db"))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.InsertRun(context.Background(), &ScrapeRun{
		Source:    "test",
		StartedAt: time.Now(),
		Status:    StatusRunning,
	}))
}
