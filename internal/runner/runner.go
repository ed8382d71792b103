// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runner supervises job executions. Each job gets a bounded
// healing episode: run, detect issues from output, store validation, and
// session telemetry, apply cataloged remediations, retry, and escalate
// when the budget runs out.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/scraperfleet/scraperfleet/internal/config"
	"github.com/scraperfleet/scraperfleet/internal/diagnose"
	"github.com/scraperfleet/scraperfleet/internal/heal"
	"github.com/scraperfleet/scraperfleet/internal/jobs"
	"github.com/scraperfleet/scraperfleet/internal/store"
	"github.com/scraperfleet/scraperfleet/internal/telemetry"
	"github.com/scraperfleet/scraperfleet/internal/validate"
)

// RunResult is the outcome of one healing episode.
type RunResult struct {
	Source          string           `json:"source"`
	Success         bool             `json:"success"`
	Skipped         bool             `json:"skipped"`
	Escalated       bool             `json:"escalated"`
	EventsCount     int              `json:"events_count"`
	Issues          []heal.IssueType `json:"issues"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	DurationSeconds float64          `json:"duration_seconds"`
	RetryCount      int              `json:"retry_count"`
}

// HealingLogEntry records one catalog dispatch during an episode.
type HealingLogEntry struct {
	Source      string `json:"source"`
	Attempt     int    `json:"attempt"`
	Issue       string `json:"issue"`
	Action      string `json:"action"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

// ExecFunc runs a job script and reports success plus captured output.
type ExecFunc func(ctx context.Context, scriptPath string) (success bool, stdout, stderr string)

// ExploreFunc attempts exploratory recovery for a source; it returns true
// when a working pattern was found and installed.
type ExploreFunc func(ctx context.Context, source string) bool

// Runner executes jobs with self-healing.
type Runner struct {
	cfg       *config.Config
	store     *store.Store
	registry  *jobs.Registry
	baselines *config.Baselines
	validator *validate.Validator
	catalog   *heal.Catalog
	matcher   *diagnose.PatternMatcher
	telemetry *telemetry.Client

	exec    ExecFunc
	explore ExploreFunc
	now     func() time.Time
	sleep   func(time.Duration)

	healingLog []HealingLogEntry
}

// Option is a functional option for configuring the Runner.
type Option func(*Runner)

// WithExec overrides job execution, for tests.
func WithExec(fn ExecFunc) Option {
	return func(r *Runner) {
		r.exec = fn
	}
}

// WithExplore sets the exploratory recovery hook, tried once per episode
// when the catalog has nothing left to offer.
func WithExplore(fn ExploreFunc) Option {
	return func(r *Runner) {
		r.explore = fn
	}
}

// WithTelemetry sets the session telemetry client.
func WithTelemetry(tc *telemetry.Client) Option {
	return func(r *Runner) {
		r.telemetry = tc
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithSleep overrides the retry delay sleeper, for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(r *Runner) {
		r.sleep = sleep
	}
}

// NewRunner creates a self-healing runner.
func NewRunner(cfg *config.Config, st *store.Store, registry *jobs.Registry,
	baselines *config.Baselines, opts ...Option) *Runner {
	r := &Runner{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		baselines: baselines,
		validator: validate.NewValidator(st, baselines),
		catalog:   heal.NewCatalog(registry, baselines),
		matcher:   diagnose.NewPatternMatcher(),
		now:       time.Now,
		sleep:     time.Sleep,
	}
	r.exec = r.execJob
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HealingLog returns the catalog dispatches recorded so far.
func (r *Runner) HealingLog() []HealingLogEntry {
	return r.healingLog
}

// RunWithHealing runs one bounded healing episode for a source. The
// episode always terminates: success, skip, escalation, or budget
// exhaustion. Infrastructure errors become a failed result, never a
// returned error.
func (r *Runner) RunWithHealing(ctx context.Context, source string) *RunResult {
	result := &RunResult{Source: source}
	explored := false

	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		result.RetryCount = attempt

		if attempt > 0 {
			log.Infof("Retry attempt %d/%d for %s", attempt+1, r.cfg.MaxRetries, source)
			r.sleep(r.cfg.RetryDelay)
		}

		if !r.registry.Exists(source) {
			result.ErrorMessage = fmt.Sprintf("Scraper not found: %s", r.registry.Path(source))
			log.Error(result.ErrorMessage)
			return result
		}

		start := r.now()
		success, stdout, stderr := r.exec(ctx, r.registry.Path(source))
		result.DurationSeconds = r.now().Sub(start).Seconds()
		log.Infof("%s completed in %.1fs (success: %v)", source, result.DurationSeconds, success)

		issues := r.detectIssues(ctx, source, stdout, stderr)
		result.Issues = issues

		if len(issues) == 0 && success {
			result.Success = true
			result.EventsCount = r.latestEventCount(ctx, source)
			log.Infof("%s completed successfully with %d events", source, result.EventsCount)
			return result
		}
		if len(issues) == 0 {
			issues = []heal.IssueType{heal.IssueUnknown}
			result.Issues = issues
		}

		log.Warnf("Issues detected for %s: %v", source, issues)

		shouldRetry := false
		skipped := false
		for _, issue := range issues {
			healing := r.catalog.Apply(source, issue)
			r.healingLog = append(r.healingLog, HealingLogEntry{
				Source:      source,
				Attempt:     attempt + 1,
				Issue:       string(healing.Issue),
				Action:      string(healing.Action),
				Description: healing.Description,
				Timestamp:   r.now().Format(time.RFC3339),
			})

			switch healing.Action {
			case heal.ActionRetry:
				shouldRetry = true
				log.Infof("Healing: %s", healing.Description)
			case heal.ActionSkip:
				skipped = true
				log.Infof("Skipping: %s", healing.Description)
			case heal.ActionEscalate:
				log.Warnf("Escalation: %s", healing.Description)
				result.ErrorMessage = healing.Description
			}
		}

		if skipped && !shouldRetry {
			result.Skipped = true
			return result
		}

		if !shouldRetry {
			// Catalog has nothing left. One shot at exploration before
			// handing this to a human.
			if r.explore != nil && !explored {
				explored = true
				log.Infof("Catalog exhausted for %s, attempting exploration", source)
				if r.explore(ctx, source) {
					shouldRetry = true
				}
			}
			if !shouldRetry {
				result.Escalated = true
				return result
			}
		}
	}

	if len(result.Issues) > 0 && !result.Success {
		result.ErrorMessage = fmt.Sprintf("Failed after %d attempts: %v", r.cfg.MaxRetries, result.Issues)
		log.Errorf("%s failed after %d attempts", source, r.cfg.MaxRetries)
	}
	return result
}

// detectIssues merges three evidence sources: process output markers,
// store-side validation, and session telemetry.
func (r *Runner) detectIssues(ctx context.Context, source, stdout, stderr string) []heal.IssueType {
	var issues []heal.IssueType
	seen := make(map[heal.IssueType]bool)
	add := func(issue heal.IssueType) {
		if !seen[issue] {
			seen[issue] = true
			issues = append(issues, issue)
		}
	}

	combined := stdout + "\n" + stderr

	if strings.Contains(stderr, "browser has been closed") || strings.Contains(stderr, "Target page") {
		add(heal.IssueBrowserCrashed)
	}
	if strings.Contains(stdout, "No events found") || strings.Contains(strings.ToLower(stdout), "events_scraped: 0") {
		add(heal.IssueEmptyResults)
	}
	if m := r.matcher.Match(combined); m.Matched {
		switch m.Pattern.Category {
		case diagnose.CategorySiteBlocked:
			add(heal.IssueSiteBlocked)
		case diagnose.CategoryPageNotFound:
			add(heal.IssuePageNotFound)
		case diagnose.CategorySessionCrash, diagnose.CategoryNavigationTimeout:
			add(heal.IssueBrowserCrashed)
		}
	}

	report, err := r.validator.ValidateSource(ctx, source)
	if err != nil {
		log.Warnf("Validation failed for %s: %v", source, err)
		return issues
	}

	if report.Status == validate.StatusNoData {
		add(heal.IssueEmptyResults)
		return issues
	}

	da := report.DateAnalysis
	if da.TotalWithDates > 0 && da.PastEvents == da.TotalWithDates {
		add(heal.IssueStaleData)
	}
	if da.MonthsAhead < 0 {
		add(heal.IssueWrongYear)
	}
	if da.PotentialCutoffMonth != "" || (da.HasBaselineHorizon && !da.ReachesBaseline) {
		add(heal.IssuePaginationIncomplete)
	}

	if urlStat, ok := report.FieldAnalysis.Fields["url"]; ok && urlStat.PercentFilled < 90 {
		add(heal.IssueURLExtractionFailed)
	}

	if report.FieldAnalysis.TimeAnalysis.MidnightPercentage == 100 && report.TotalEvents > 0 {
		baseline, _ := r.baselines.Get(source)
		if baseline.TimesKnownAvailable() {
			add(heal.IssueTimeExtractionFailed)
		}
	}

	ba := report.BaselineAnalysis
	if ba.HasBaseline && !ba.WithinRange && ba.CurrentCount < ba.ExpectedMin/2 {
		add(heal.IssueLowEventCount)
	}

	r.mergeTelemetry(ctx, combined, add)

	return issues
}

// mergeTelemetry folds session telemetry into detection when a session id
// is recoverable from the output. Scroll-level findings are informational
// and logged only; a telemetry-confirmed crash is blocking.
func (r *Runner) mergeTelemetry(ctx context.Context, output string, add func(heal.IssueType)) {
	if r.telemetry == nil {
		return
	}
	sessionID := telemetry.ExtractSessionID(output)
	if sessionID == "" {
		return
	}

	diag, err := r.telemetry.SessionDiagnostics(ctx, sessionID)
	if err != nil {
		log.Debugf("Telemetry unavailable for session %s: %v", sessionID, err)
		return
	}
	analysis := telemetry.AnalyzeForHealing(diag)
	if analysis == nil {
		return
	}

	for _, issue := range analysis.Issues {
		switch issue.Type {
		case telemetry.IssueSessionCrash:
			add(heal.IssueBrowserCrashed)
		default:
			log.Infof("Session telemetry (informational): %s", issue.Message)
		}
	}
}

// latestEventCount reads the event count of the source's latest run.
func (r *Runner) latestEventCount(ctx context.Context, source string) int {
	run, err := r.store.LatestRun(ctx, source)
	if err != nil || run == nil {
		return 0
	}
	return run.EventsScraped
}

// execJob is the default ExecFunc: run the script with the configured
// runtime under the run timeout.
func (r *Runner) execJob(ctx context.Context, scriptPath string) (bool, string, string) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Runtime, scriptPath)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return false, stdout.String(), fmt.Sprintf("Scraper timed out after %s", r.cfg.RunTimeout)
	}
	return err == nil, stdout.String(), stderr.String()
}
