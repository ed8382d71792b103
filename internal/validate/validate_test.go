// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package validate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scraperfleet/scraperfleet/internal/config"
	"github.com/scraperfleet/scraperfleet/internal/store"
)

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st        *store.Store
	baselines *config.Baselines
	validator *Validator
}

func newFixture(t *testing.T, baselineYAML string) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(context.Background(), filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	path := filepath.Join(dir, "baselines.yaml")
	if baselineYAML != "" {
		require.NoError(t, os.WriteFile(path, []byte(baselineYAML), 0o644))
	}
	baselines, err := config.LoadBaselines(path)
	require.NoError(t, err)

	return &fixture{
		st:        st,
		baselines: baselines,
		validator: NewValidator(st, baselines, WithClock(func() time.Time { return testNow })),
	}
}

// seedRun inserts a completed run with n events generated by build.
func (f *fixture) seedRun(t *testing.T, source string, startedAt time.Time, n int,
	build func(i int) *store.RawEvent) *store.ScrapeRun {
	t.Helper()
	ctx := context.Background()

	run := &store.ScrapeRun{
		Source:        source,
		StartedAt:     startedAt,
		CompletedAt:   sql.NullTime{Time: startedAt.Add(time.Minute), Valid: true},
		Status:        store.StatusCompleted,
		EventsScraped: n,
	}
	require.NoError(t, f.st.InsertRun(ctx, run))

	for i := 0; i < n; i++ {
		ev := build(i)
		ev.Source = source
		ev.ScrapeRunID = run.ID
		ev.ScrapedAt = startedAt
		require.NoError(t, f.st.InsertEvent(ctx, ev))
	}
	return run
}

func healthyEvent(i int) *store.RawEvent {
	return &store.RawEvent{
		Title:       fmt.Sprintf("Show %d", i),
		Description: "A perfectly ordinary evening of live music",
		StartTime:   sql.NullTime{Time: testNow.AddDate(0, 0, 7+i), Valid: true},
		Venue:       "The Fillmore",
		URL:         fmt.Sprintf("https://example.com/show/%d", i),
	}
}

func TestValidateNoRuns(t *testing.T) {
	f := newFixture(t, "")

	report, err := f.validator.ValidateSource(context.Background(), "fillmore")
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, report.Status)
}

func TestValidateEmptyLatestRun(t *testing.T) {
	f := newFixture(t, "")
	f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 0, nil)

	report, err := f.validator.ValidateSource(context.Background(), "fillmore")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, "No events in latest run", report.Error)
}

func TestValidateHealthyRun(t *testing.T) {
	f := newFixture(t, "")
	f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 30, healthyEvent)

	report, err := f.validator.ValidateSource(context.Background(), "fillmore")
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, report.Status)
	assert.Equal(t, 30, report.TotalEvents)
	assert.InDelta(t, 100.0, report.OverallCompleteness, 0.01)
	assert.Equal(t, CauseWithinNormalRange, report.Diagnosis.LikelyCause)
	assert.Equal(t, 0, report.DateAnalysis.PastEvents)
}

func TestValidateAllEventsInPast(t *testing.T) {
	f := newFixture(t, "")
	f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 40, func(i int) *store.RawEvent {
		ev := healthyEvent(i)
		ev.StartTime = sql.NullTime{Time: testNow.AddDate(0, 0, -40+i), Valid: true}
		return ev
	})

	report, err := f.validator.ValidateSource(context.Background(), "fillmore")
	require.NoError(t, err)

	assert.Equal(t, 40, report.DateAnalysis.PastEvents)
	assert.Equal(t, StatusWarning, report.Status)
	assert.Contains(t, report.Warnings, "WARNING: 40/40 events are in the past")
}

func TestValidateMissingURLs(t *testing.T) {
	f := newFixture(t, "")
	f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 20, func(i int) *store.RawEvent {
		ev := healthyEvent(i)
		if i < 16 {
			ev.URL = ""
		}
		return ev
	})

	report, err := f.validator.ValidateSource(context.Background(), "fillmore")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Status)
	assert.InDelta(t, 20.0, report.FieldAnalysis.Fields["url"].PercentFilled, 0.01)
	// Under half filled reads as a broken extractor, not a venue quirk
	assert.Equal(t, CauseScraperBug, report.Diagnosis.LikelyCause)
	assert.Equal(t, "high", report.Diagnosis.Confidence)
}

func TestValidateMidnightTimes(t *testing.T) {
	midnightEvent := func(i int) *store.RawEvent {
		ev := healthyEvent(i)
		d := testNow.AddDate(0, 0, 7+i)
		ev.StartTime = sql.NullTime{
			Time:  time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
			Valid: true,
		}
		return ev
	}

	t.Run("times expected", func(t *testing.T) {
		f := newFixture(t, "")
		f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 10, midnightEvent)

		report, err := f.validator.ValidateSource(context.Background(), "fillmore")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, report.Status)
		assert.InDelta(t, 100.0, report.FieldAnalysis.TimeAnalysis.MidnightPercentage, 0.01)
		assert.Equal(t, CauseScraperBug, report.Diagnosis.LikelyCause)
	})

	t.Run("known venue limitation", func(t *testing.T) {
		f := newFixture(t, `
venues:
  fillmore:
    times_available: false
`)
		f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 10, midnightEvent)

		report, err := f.validator.ValidateSource(context.Background(), "fillmore")
		require.NoError(t, err)
		assert.Equal(t, StatusWarning, report.Status)
		assert.NotEqual(t, CauseScraperBug, report.Diagnosis.LikelyCause)
	})
}

func TestValidateHistoricalDrop(t *testing.T) {
	f := newFixture(t, "")

	// Five healthy historical runs around 60 events
	for i := 0; i < 5; i++ {
		f.seedRun(t, "fillmore", testNow.AddDate(0, 0, -20+i), 60, healthyEvent)
	}
	// Latest run collapses to 12
	f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 12, healthyEvent)

	report, err := f.validator.ValidateSource(context.Background(), "fillmore")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Status)
	assert.True(t, report.HistoricalAnalysis.HasHistory)
	assert.Less(t, report.HistoricalAnalysis.VsAveragePct, -40.0)
	assert.NotEmpty(t, report.HistoricalAnalysis.Issues)
}

func TestValidateBaselineHorizonShortfall(t *testing.T) {
	f := newFixture(t, `
venues:
  fillmore:
    typical_event_count_min: 5
    typical_event_count_max: 100
    typical_horizon_months: 6
    has_pagination: true
`)
	// Events only reach one month out against a six month horizon
	f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 20, func(i int) *store.RawEvent {
		ev := healthyEvent(i)
		ev.StartTime = sql.NullTime{Time: testNow.AddDate(0, 0, 1+i), Valid: true}
		return ev
	})

	report, err := f.validator.ValidateSource(context.Background(), "fillmore")
	require.NoError(t, err)

	assert.True(t, report.DateAnalysis.HasBaselineHorizon)
	assert.False(t, report.DateAnalysis.ReachesBaseline)
	assert.Equal(t, CausePaginationOrVenue, report.Diagnosis.LikelyCause)
}

func TestValidateBaselineCountFarBelowMinimum(t *testing.T) {
	f := newFixture(t, `
venues:
  fillmore:
    typical_event_count_min: 40
    typical_event_count_max: 100
`)
	f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 10, healthyEvent)

	report, err := f.validator.ValidateSource(context.Background(), "fillmore")
	require.NoError(t, err)

	assert.False(t, report.BaselineAnalysis.WithinRange)
	assert.NotEmpty(t, report.BaselineAnalysis.Issues)
	assert.Equal(t, StatusFailed, report.Status)
}

func TestValidatePaginationCutoff(t *testing.T) {
	f := newFixture(t, "")
	// Ten events in September, one in October, one in November: a sudden
	// drop mid-range.
	f.seedRun(t, "fillmore", testNow.Add(-time.Hour), 12, func(i int) *store.RawEvent {
		ev := healthyEvent(i)
		switch {
		case i < 10:
			ev.StartTime = sql.NullTime{Time: time.Date(2026, 9, 2+i, 19, 0, 0, 0, time.UTC), Valid: true}
		case i == 10:
			ev.StartTime = sql.NullTime{Time: time.Date(2026, 10, 3, 19, 0, 0, 0, time.UTC), Valid: true}
		default:
			ev.StartTime = sql.NullTime{Time: time.Date(2026, 11, 3, 19, 0, 0, 0, time.UTC), Valid: true}
		}
		return ev
	})

	report, err := f.validator.ValidateSource(context.Background(), "fillmore")
	require.NoError(t, err)

	assert.NotEmpty(t, report.DateAnalysis.PotentialCutoffMonth)
}
