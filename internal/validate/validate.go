// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package validate cross-checks a job's claimed success against the
// evidence database. It analyzes field completeness, date coverage,
// historical trends, and baseline expectations, then distinguishes
// extraction failures from genuine venue limitations.
package validate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scraperfleet/scraperfleet/internal/config"
	"github.com/scraperfleet/scraperfleet/internal/store"
)

// Report statuses.
const (
	StatusPassed  = "PASSED"
	StatusWarning = "WARNING"
	StatusFailed  = "FAILED"
	StatusNoData  = "NO_DATA"
)

// Likely causes assigned by the combined diagnosis.
const (
	CauseScraperBug           = "scraper_bug"
	CausePaginationFailure    = "pagination_failure"
	CausePaginationOrVenue    = "pagination_or_venue_limit"
	CauseWithinNormalRange    = "within_normal_range"
	CauseNeedsInvestigation   = "needs_investigation"
	historicalComparisonRuns  = 10
	descriptionMinUsefulChars = 10
)

// FieldStat tracks completeness of one field across a run's events.
type FieldStat struct {
	Filled        int      `json:"filled"`
	Empty         int      `json:"empty"`
	PercentFilled float64  `json:"percent_filled"`
	ExamplesEmpty []string `json:"examples_empty,omitempty"`
}

// TimeAnalysis summarizes the event time distribution.
type TimeAnalysis struct {
	UniqueTimes        int      `json:"unique_times"`
	MidnightCount      int      `json:"midnight_count"`
	MidnightPercentage float64  `json:"midnight_percentage"`
	Times              []string `json:"times_list,omitempty"`
}

// FieldAnalysis is the field completeness section of a report.
type FieldAnalysis struct {
	TotalEvents  int                  `json:"total_events"`
	Fields       map[string]FieldStat `json:"fields"`
	TimeAnalysis TimeAnalysis         `json:"time_analysis"`
	Issues       []string             `json:"issues,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
}

// DateAnalysis is the date coverage section of a report.
type DateAnalysis struct {
	TotalWithDates       int            `json:"total_with_dates"`
	EarliestEvent        string         `json:"earliest_event,omitempty"`
	LatestEvent          string         `json:"latest_event,omitempty"`
	MonthsAhead          int            `json:"months_ahead"`
	EventsByMonth        map[string]int `json:"events_by_month,omitempty"`
	GapsInCoverage       []string       `json:"gaps_in_coverage,omitempty"`
	PotentialCutoffMonth string         `json:"potential_cutoff_month,omitempty"`
	BaselineHorizon      int            `json:"baseline_horizon_months,omitempty"`
	HasBaselineHorizon   bool           `json:"-"`
	ReachesBaseline      bool           `json:"reaches_baseline"`
	PastEvents           int            `json:"past_events"`
	Issues               []string       `json:"issues,omitempty"`
	Warnings             []string       `json:"warnings,omitempty"`
}

// HistoricalAnalysis compares the current run to prior successful runs.
type HistoricalAnalysis struct {
	HasHistory        bool     `json:"has_history"`
	HistoricalRuns    int      `json:"historical_runs,omitempty"`
	HistoricalAverage float64  `json:"historical_average,omitempty"`
	HistoricalMin     int      `json:"historical_min,omitempty"`
	HistoricalMax     int      `json:"historical_max,omitempty"`
	CurrentCount      int      `json:"current_count"`
	VsAveragePct      float64  `json:"vs_average_pct"`
	Issues            []string `json:"issues,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// BaselineAnalysis compares the current run to the source's baseline.
type BaselineAnalysis struct {
	HasBaseline  bool     `json:"has_baseline"`
	ExpectedMin  int      `json:"expected_min,omitempty"`
	ExpectedMax  int      `json:"expected_max,omitempty"`
	CurrentCount int      `json:"current_count"`
	WithinRange  bool     `json:"within_range"`
	Issues       []string `json:"issues,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Diagnosis is the combined verdict: scraper bug or venue limitation.
type Diagnosis struct {
	LikelyCause    string   `json:"likely_cause"`
	Confidence     string   `json:"confidence"`
	Evidence       []string `json:"evidence,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Report is the full validation result for a single source.
type Report struct {
	Source              string             `json:"source"`
	Status              string             `json:"status"`
	ScrapeRunID         int64              `json:"scrape_run_id,omitempty"`
	ScrapeTime          string             `json:"scrape_time,omitempty"`
	TotalEvents         int                `json:"total_events"`
	OverallCompleteness float64            `json:"overall_completeness"`
	FieldAnalysis       FieldAnalysis      `json:"field_analysis"`
	DateAnalysis        DateAnalysis       `json:"date_analysis"`
	HistoricalAnalysis  HistoricalAnalysis `json:"historical_analysis"`
	BaselineAnalysis    BaselineAnalysis   `json:"baseline_analysis"`
	Diagnosis           Diagnosis          `json:"diagnosis"`
	Issues              []string           `json:"issues,omitempty"`
	Warnings            []string           `json:"warnings,omitempty"`
	Error               string             `json:"error,omitempty"`
}

// Validator runs store-side validation for sources.
type Validator struct {
	store     *store.Store
	baselines *config.Baselines
	now       func() time.Time
}

// Option is a functional option for configuring the Validator.
type Option func(*Validator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a Validator over the given store and baselines.
func NewValidator(st *store.Store, baselines *config.Baselines, opts ...Option) *Validator {
	v := &Validator{
		store:     st,
		baselines: baselines,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateSource runs the full validation pipeline against the latest run
// for a source. Missing history degrades the analysis rather than failing it.
func (v *Validator) ValidateSource(ctx context.Context, source string) (*Report, error) {
	report := &Report{Source: source}

	baseline, hasBaseline := config.Baseline{}, false
	if v.baselines != nil {
		baseline, hasBaseline = v.baselines.Get(source)
	}

	latest, err := v.store.LatestRun(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", source, err)
	}
	if latest == nil {
		report.Status = StatusNoData
		report.Error = "No scrape runs found"
		return report, nil
	}

	report.ScrapeRunID = latest.ID
	if latest.CompletedAt.Valid {
		report.ScrapeTime = latest.CompletedAt.Time.Format(time.RFC3339)
	}

	events, err := v.store.EventsByRun(ctx, latest.ID)
	if err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", source, err)
	}
	if len(events) == 0 {
		report.Status = StatusFailed
		report.Error = "No events in latest run"
		return report, nil
	}
	report.TotalEvents = len(events)

	history, err := v.store.HistoricalSuccessfulRuns(ctx, source, historicalComparisonRuns)
	if err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", source, err)
	}

	report.FieldAnalysis = v.analyzeFieldCompleteness(events, baseline, hasBaseline)
	report.DateAnalysis = v.analyzeDateCoverage(events, baseline, hasBaseline)
	report.HistoricalAnalysis = analyzeHistoricalComparison(len(events), history)
	report.BaselineAnalysis = analyzeBaselineComparison(len(events), baseline, hasBaseline)
	report.Diagnosis = determineFailureReason(report, baseline, hasBaseline)

	report.Issues = concat(
		report.FieldAnalysis.Issues,
		report.DateAnalysis.Issues,
		report.HistoricalAnalysis.Issues,
		report.BaselineAnalysis.Issues,
	)
	report.Warnings = concat(
		report.FieldAnalysis.Warnings,
		report.DateAnalysis.Warnings,
		report.HistoricalAnalysis.Warnings,
		report.BaselineAnalysis.Warnings,
	)

	switch {
	case len(report.Issues) > 0:
		report.Status = StatusFailed
	case len(report.Warnings) > 0:
		report.Status = StatusWarning
	default:
		report.Status = StatusPassed
	}

	// Required fields drive the headline completeness score.
	required := []string{"title", "start_time", "url"}
	var sum float64
	for _, f := range required {
		sum += report.FieldAnalysis.Fields[f].PercentFilled
	}
	report.OverallCompleteness = round1(sum / float64(len(required)))

	return report, nil
}

// analyzeFieldCompleteness measures per-field fill rates and time quality.
func (v *Validator) analyzeFieldCompleteness(events []*store.RawEvent, baseline config.Baseline, hasBaseline bool) FieldAnalysis {
	total := len(events)
	fa := FieldAnalysis{
		TotalEvents: total,
		Fields:      make(map[string]FieldStat),
	}

	stats := map[string]*FieldStat{
		"title":       {},
		"start_time":  {},
		"venue":       {},
		"url":         {},
		"description": {},
	}

	midnightCount := 0
	timesSeen := make(map[string]struct{})

	exampleFor := func(ev *store.RawEvent) string {
		if ev.Title != "" {
			if len(ev.Title) > 50 {
				return ev.Title[:50]
			}
			return ev.Title
		}
		return fmt.Sprintf("ID %d", ev.ID)
	}

	mark := func(s *FieldStat, filled bool, example string) {
		if filled {
			s.Filled++
			return
		}
		s.Empty++
		if len(s.ExamplesEmpty) < 3 {
			s.ExamplesEmpty = append(s.ExamplesEmpty, example)
		}
	}

	for _, ev := range events {
		mark(stats["title"], strings.TrimSpace(ev.Title) != "", fmt.Sprintf("ID %d", ev.ID))

		if ev.StartTime.Valid {
			stats["start_time"].Filled++
			t := ev.StartTime.Time
			timesSeen[t.Format("15:04")] = struct{}{}
			if t.Hour() == 0 && t.Minute() == 0 {
				midnightCount++
			}
		} else {
			mark(stats["start_time"], false, exampleFor(ev))
		}

		mark(stats["venue"], strings.TrimSpace(ev.Venue) != "", exampleFor(ev))
		mark(stats["url"], strings.HasPrefix(strings.TrimSpace(ev.URL), "http"), exampleFor(ev))
		mark(stats["description"], len(strings.TrimSpace(ev.Description)) > descriptionMinUsefulChars, "")
	}

	for name, s := range stats {
		s.PercentFilled = round1(float64(s.Filled) / float64(total) * 100)
		fa.Fields[name] = *s

		switch {
		case (name == "title" || name == "url") && s.PercentFilled < 90:
			fa.Issues = append(fa.Issues, fmt.Sprintf("CRITICAL: %s only %.1f%% filled", name, s.PercentFilled))
		case name == "start_time" && s.PercentFilled < 90:
			fa.Warnings = append(fa.Warnings, fmt.Sprintf("WARNING: %s only %.1f%% filled", name, s.PercentFilled))
		case name == "venue" && s.PercentFilled < 80:
			fa.Warnings = append(fa.Warnings, fmt.Sprintf("WARNING: %s only %.1f%% filled", name, s.PercentFilled))
		}
	}

	times := make([]string, 0, len(timesSeen))
	for t := range timesSeen {
		times = append(times, t)
	}
	sort.Strings(times)
	if len(times) > 10 {
		times = times[:10]
	}
	fa.TimeAnalysis = TimeAnalysis{
		UniqueTimes:        len(timesSeen),
		MidnightCount:      midnightCount,
		MidnightPercentage: round1(float64(midnightCount) / float64(total) * 100),
		Times:              times,
	}

	timesAvailable := !hasBaseline || baseline.TimesKnownAvailable()

	switch {
	case midnightCount == total && total > 1:
		if !timesAvailable {
			// Known venue limitation, not a scraper bug.
			fa.Warnings = append(fa.Warnings, fmt.Sprintf("INFO: All %d events have midnight times - times not available for this venue (known limitation)", total))
		} else {
			fa.Issues = append(fa.Issues, fmt.Sprintf("CRITICAL: ALL %d events have midnight times - scraper not extracting times", total))
		}
	case float64(midnightCount) > float64(total)*0.5:
		if !timesAvailable {
			fa.Warnings = append(fa.Warnings, fmt.Sprintf("INFO: %d/%d events have midnight times - times not available for this venue", midnightCount, total))
		} else {
			fa.Warnings = append(fa.Warnings, fmt.Sprintf("WARNING: %d/%d events have midnight times", midnightCount, total))
		}
	}

	if len(timesSeen) == 1 && total > 5 {
		if _, onlyMidnight := timesSeen["00:00"]; onlyMidnight && timesAvailable && midnightCount != total {
			fa.Warnings = append(fa.Warnings, "WARNING: All events have midnight time - likely not extracting times")
		}
	}

	return fa
}

// analyzeDateCoverage inspects the event date distribution.
func (v *Validator) analyzeDateCoverage(events []*store.RawEvent, baseline config.Baseline, hasBaseline bool) DateAnalysis {
	da := DateAnalysis{EventsByMonth: make(map[string]int)}

	now := v.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var dates []time.Time
	for _, ev := range events {
		if ev.StartTime.Valid {
			dates = append(dates, ev.StartTime.Time)
		}
	}
	if len(dates) == 0 {
		da.Issues = append(da.Issues, "CRITICAL: No events have start_time populated")
		return da
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	earliest, latest := dates[0], dates[len(dates)-1]
	da.TotalWithDates = len(dates)
	da.EarliestEvent = earliest.Format("2006-01-02")
	da.LatestEvent = latest.Format("2006-01-02")
	da.MonthsAhead = (latest.Year()-today.Year())*12 + int(latest.Month()) - int(today.Month())

	for _, d := range dates {
		da.EventsByMonth[d.Format("2006-01")]++
	}

	// Months in range with no events at all.
	cur := time.Date(earliest.Year(), earliest.Month(), 1, 0, 0, 0, 0, earliest.Location())
	end := time.Date(latest.Year(), latest.Month(), 1, 0, 0, 0, 0, latest.Location())
	for !cur.After(end) {
		key := cur.Format("2006-01")
		if da.EventsByMonth[key] == 0 {
			da.GapsInCoverage = append(da.GapsInCoverage, key)
		}
		cur = cur.AddDate(0, 1, 0)
	}

	// A healthy month followed by a near-empty one suggests pagination
	// stopped early.
	monthKeys := make([]string, 0, len(da.EventsByMonth))
	for k := range da.EventsByMonth {
		monthKeys = append(monthKeys, k)
	}
	sort.Strings(monthKeys)
	if len(monthKeys) >= 3 {
		for i := 1; i < len(monthKeys)-1; i++ {
			prev := da.EventsByMonth[monthKeys[i-1]]
			curr := da.EventsByMonth[monthKeys[i]]
			if prev > 5 && curr <= 1 {
				da.PotentialCutoffMonth = monthKeys[i]
				break
			}
		}
	}

	if hasBaseline && baseline.TypicalHorizonMonths > 0 {
		expected := baseline.TypicalHorizonMonths
		da.BaselineHorizon = expected
		da.HasBaselineHorizon = true
		// One month of tolerance: venues post on their own schedule.
		da.ReachesBaseline = da.MonthsAhead >= expected-1
		if !da.ReachesBaseline {
			da.Warnings = append(da.Warnings, fmt.Sprintf(
				"WARNING: Events go %d months ahead, baseline expects %d months (%d months short)",
				da.MonthsAhead, expected, expected-da.MonthsAhead))
		}
	}

	if da.PotentialCutoffMonth != "" {
		da.Warnings = append(da.Warnings, fmt.Sprintf("WARNING: Possible pagination cutoff at %s - events drop off suddenly", da.PotentialCutoffMonth))
	}
	if len(da.GapsInCoverage) > 2 {
		da.Warnings = append(da.Warnings, fmt.Sprintf("WARNING: %d gaps in monthly coverage", len(da.GapsInCoverage)))
	}

	for _, d := range dates {
		if d.Before(today) {
			da.PastEvents++
		}
	}
	if float64(da.PastEvents) > float64(len(dates))*0.5 {
		da.Warnings = append(da.Warnings, fmt.Sprintf("WARNING: %d/%d events are in the past", da.PastEvents, len(dates)))
	}

	return da
}

// analyzeHistoricalComparison compares the current count to prior runs.
func analyzeHistoricalComparison(currentCount int, history []*store.ScrapeRun) HistoricalAnalysis {
	ha := HistoricalAnalysis{CurrentCount: currentCount}

	var counts []int
	for _, r := range history {
		if r.EventsScraped > 0 {
			counts = append(counts, r.EventsScraped)
		}
	}
	if len(counts) == 0 {
		return ha
	}

	ha.HasHistory = true
	ha.HistoricalRuns = len(counts)

	sum, minC, maxC := 0, counts[0], counts[0]
	for _, c := range counts {
		sum += c
		if c < minC {
			minC = c
		}
		if c > maxC {
			maxC = c
		}
	}
	avg := float64(sum) / float64(len(counts))
	ha.HistoricalAverage = round1(avg)
	ha.HistoricalMin = minC
	ha.HistoricalMax = maxC
	ha.VsAveragePct = round1(float64(currentCount)/avg*100 - 100)

	switch {
	case float64(currentCount) < avg*0.5:
		ha.Issues = append(ha.Issues, fmt.Sprintf(
			"CRITICAL: Event count (%d) is %.0f%% below historical average (%.0f)",
			currentCount, -ha.VsAveragePct, avg))
	case float64(currentCount) < avg*0.7:
		ha.Warnings = append(ha.Warnings, fmt.Sprintf(
			"WARNING: Event count (%d) is %.0f%% below historical average (%.0f)",
			currentCount, -ha.VsAveragePct, avg))
	case float64(currentCount) > float64(maxC)*1.5:
		ha.Warnings = append(ha.Warnings, fmt.Sprintf(
			"INFO: Event count (%d) is unusually high (historical max: %d)",
			currentCount, maxC))
	}

	return ha
}

// analyzeBaselineComparison checks the count against baseline expectations.
func analyzeBaselineComparison(currentCount int, baseline config.Baseline, hasBaseline bool) BaselineAnalysis {
	ba := BaselineAnalysis{CurrentCount: currentCount, WithinRange: true}
	if !hasBaseline {
		return ba
	}

	minExpected := baseline.TypicalEventCountMin
	if minExpected <= 0 {
		minExpected = 1
	}
	maxExpected := baseline.TypicalEventCountMax
	if maxExpected <= 0 {
		maxExpected = 1000
	}

	ba.HasBaseline = true
	ba.ExpectedMin = minExpected
	ba.ExpectedMax = maxExpected
	ba.WithinRange = currentCount >= minExpected && currentCount <= maxExpected

	if currentCount < minExpected {
		pctOfMin := float64(currentCount) / float64(minExpected) * 100
		if pctOfMin < 50 {
			ba.Issues = append(ba.Issues, fmt.Sprintf(
				"CRITICAL: Event count (%d) is far below expected minimum (%d)", currentCount, minExpected))
		} else {
			ba.Warnings = append(ba.Warnings, fmt.Sprintf(
				"WARNING: Event count (%d) is below expected minimum (%d)", currentCount, minExpected))
		}
	}

	return ba
}

// determineFailureReason weighs the analyses against each other to decide
// whether problems stem from the job or from the venue.
func determineFailureReason(r *Report, baseline config.Baseline, hasBaseline bool) Diagnosis {
	d := Diagnosis{LikelyCause: CauseNeedsInvestigation, Confidence: "low"}

	var found []string

	timesAvailable := !hasBaseline || baseline.TimesKnownAvailable()
	if r.FieldAnalysis.TimeAnalysis.MidnightPercentage == 100 && timesAvailable && r.TotalEvents > 0 {
		found = append(found, "time_extraction_broken")
		d.Evidence = append(d.Evidence, "All events have midnight times - time extraction is broken")
	}

	urlPct := r.FieldAnalysis.Fields["url"].PercentFilled
	if r.TotalEvents > 0 && urlPct < 50 {
		found = append(found, "url_extraction_broken")
		d.Evidence = append(d.Evidence, fmt.Sprintf("URL field only %.1f%% filled - extraction is broken", urlPct))
	}

	if r.HistoricalAnalysis.HasHistory && r.HistoricalAnalysis.VsAveragePct < -40 {
		found = append(found, "possible_pagination_failure")
		d.Evidence = append(d.Evidence, fmt.Sprintf("Event count is %.0f%% below historical average", -r.HistoricalAnalysis.VsAveragePct))
	}

	if hasBaseline && r.DateAnalysis.HasBaselineHorizon && !r.DateAnalysis.ReachesBaseline {
		expected := baseline.TypicalHorizonMonths
		if r.DateAnalysis.MonthsAhead < expected-1 {
			if baseline.HasPagination {
				found = append(found, "possible_pagination_incomplete")
				d.Evidence = append(d.Evidence, fmt.Sprintf(
					"Events only go %d months ahead (expected %d), venue has pagination",
					r.DateAnalysis.MonthsAhead, expected))
			} else {
				d.Evidence = append(d.Evidence, fmt.Sprintf(
					"Events only go %d months ahead - venue may not have posted further",
					r.DateAnalysis.MonthsAhead))
			}
		}
	}

	has := func(s string) bool {
		for _, f := range found {
			if f == s {
				return true
			}
		}
		return false
	}

	switch {
	case has("url_extraction_broken") || has("time_extraction_broken"):
		d.LikelyCause = CauseScraperBug
		d.Confidence = "high"
		d.Recommendation = "Fix the scraper extraction logic"
	case has("possible_pagination_failure") && has("possible_pagination_incomplete"):
		d.LikelyCause = CausePaginationFailure
		d.Confidence = "medium"
		d.Recommendation = "Check if pagination is working correctly"
	case has("possible_pagination_incomplete"):
		d.LikelyCause = CausePaginationOrVenue
		d.Confidence = "low"
		d.Recommendation = "Manually verify if venue has more events posted"
	case len(found) == 0:
		d.LikelyCause = CauseWithinNormalRange
		d.Confidence = "high"
		d.Recommendation = "No action needed"
	default:
		d.LikelyCause = CauseNeedsInvestigation
		d.Confidence = "low"
		d.Recommendation = "Manual investigation required"
	}

	return d
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
