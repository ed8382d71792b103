// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/scraperfleet/scraperfleet/internal/util"
)

// FleetSummary aggregates episode outcomes across a fleet run.
type FleetSummary struct {
	Total       int `json:"total"`
	Success     int `json:"success"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	TotalEvents int `json:"total_events"`
}

// FleetReport is the persisted record of one fleet run.
type FleetReport struct {
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
	Sources     map[string]*RunResult `json:"sources"`
	Summary     FleetSummary          `json:"summary"`
	HealingLog  []HealingLogEntry     `json:"healing_log"`
}

// HasFailures reports whether any episode ended in failure.
func (fr *FleetReport) HasFailures() bool {
	return fr.Summary.Failed > 0
}

// RunAll runs healing episodes for each source in order and persists the
// fleet report. Sources run sequentially; the jobs share a browser
// session quota and the store, and parallel runs have produced
// cross-contaminated diagnoses.
func (r *Runner) RunAll(ctx context.Context, sources []string) *FleetReport {
	log.Infof("Starting self-healing run for %d scrapers", len(sources))

	report := &FleetReport{
		StartedAt: r.now(),
		Sources:   make(map[string]*RunResult),
		Summary:   FleetSummary{Total: len(sources)},
	}

	for i, source := range sources {
		log.Infof("[%d/%d] Processing: %s", i+1, len(sources), source)

		result := r.RunWithHealing(ctx, source)
		report.Sources[source] = result

		switch {
		case result.Success:
			report.Summary.Success++
			report.Summary.TotalEvents += result.EventsCount
		case result.Skipped:
			report.Summary.Skipped++
		default:
			report.Summary.Failed++
		}
	}

	report.CompletedAt = r.now()
	report.HealingLog = r.healingLog

	s := report.Summary
	log.Infof("Success: %d/%d, Failed: %d/%d, Skipped: %d/%d, Total events: %d",
		s.Success, s.Total, s.Failed, s.Total, s.Skipped, s.Total, s.TotalEvents)

	r.saveFleetReport(report)
	return report
}

// saveFleetReport persists the fleet report under the output dir.
func (r *Runner) saveFleetReport(report *FleetReport) {
	filename := fmt.Sprintf("self_healing_run_%s.json", r.now().Format("20060102_150405"))
	path := filepath.Join(r.cfg.OutputDir, filename)

	if err := util.SecureWriteJSON(path, report, nil); err != nil {
		log.Warnf("Failed to save fleet report: %v", err)
		return
	}
	log.Infof("Results saved to %s", path)
}

// SourceStatus is one source's outcome as read back from a fleet report.
type SourceStatus struct {
	Source       string
	Success      bool
	Skipped      bool
	EventsCount  int
	Issues       []string
	ErrorMessage string
}

// LatestReport reads the most recent fleet report from the output dir.
// Returns nil without error when no report exists yet.
func LatestReport(outputDir string) (time.Time, []SourceStatus, error) {
	matches, err := filepath.Glob(filepath.Join(outputDir, "self_healing_run_*.json"))
	if err != nil || len(matches) == 0 {
		return time.Time{}, nil, nil
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	data, err := os.ReadFile(latest)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to read fleet report %s: %w", latest, err)
	}

	doc := string(data)
	startedAt, _ := time.Parse(time.RFC3339, gjson.Get(doc, "started_at").String())

	var statuses []SourceStatus
	gjson.Get(doc, "sources").ForEach(func(key, val gjson.Result) bool {
		st := SourceStatus{
			Source:       key.String(),
			Success:      val.Get("success").Bool(),
			Skipped:      val.Get("skipped").Bool(),
			EventsCount:  int(val.Get("events_count").Int()),
			ErrorMessage: val.Get("error_message").String(),
		}
		val.Get("issues").ForEach(func(_, issue gjson.Result) bool {
			st.Issues = append(st.Issues, issue.String())
			return true
		})
		statuses = append(statuses, st)
		return true
	})
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Source < statuses[j].Source })

	return startedAt, statuses, nil
}

// FailedSources filters a report readback down to the sources whose last
// episode failed. Skipped sources are known limitations, not failures.
func FailedSources(statuses []SourceStatus) []string {
	var failed []string
	for _, st := range statuses {
		if !st.Success && !st.Skipped {
			failed = append(failed, st.Source)
		}
	}
	return failed
}
