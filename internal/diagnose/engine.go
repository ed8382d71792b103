// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package diagnose

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/scraperfleet/scraperfleet/internal/jobs"
	"github.com/scraperfleet/scraperfleet/internal/store"
	"github.com/scraperfleet/scraperfleet/internal/telemetry"
	"github.com/scraperfleet/scraperfleet/internal/util"
)

// Report is the complete diagnostic output for a source.
type Report struct {
	Source      string    `json:"source"`
	GeneratedAt time.Time `json:"generated_at"`

	Category       Category `json:"failure_category"`
	FailurePattern string   `json:"failure_pattern"`

	ErrorMessages []string `json:"error_messages,omitempty"`
	Observations  []string `json:"observations,omitempty"`

	WorkingPeersPattern string `json:"working_scrapers_pattern,omitempty"`
	FailingPeersPattern string `json:"failing_scrapers_pattern,omitempty"`
	KeyDifference       string `json:"key_difference,omitempty"`

	RecommendedFixes []Fix   `json:"recommended_fixes"`
	Confidence       float64 `json:"confidence"`

	Profile *Profile `json:"-"`

	// ProfileSummary is the serialized subset of the profile worth keeping
	// in the persisted report.
	ProfileSummary map[string]interface{} `json:"profile"`
}

// Engine builds diagnostic reports.
type Engine struct {
	store     *store.Store
	registry  *jobs.Registry
	matcher   *PatternMatcher
	telemetry *telemetry.Client
	outputDir string
	now       func() time.Time
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithPatternMatcher sets a custom pattern matcher.
func WithPatternMatcher(pm *PatternMatcher) Option {
	return func(e *Engine) {
		e.matcher = pm
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithOutputDir sets the directory where reports are persisted.
// An empty dir disables persistence.
func WithOutputDir(dir string) Option {
	return func(e *Engine) {
		e.outputDir = dir
	}
}

// WithTelemetry enables session telemetry enrichment: when the error
// output carries a session id, the recorded session is fetched and folded
// into the report.
func WithTelemetry(tc *telemetry.Client) Option {
	return func(e *Engine) {
		e.telemetry = tc
	}
}

// NewEngine creates a diagnostic engine over the given store and registry.
func NewEngine(st *store.Store, registry *jobs.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		registry: registry,
		matcher:  NewPatternMatcher(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Diagnose runs a complete diagnostic pass for a source. It never fails on
// missing history; sparse evidence lowers confidence instead. The only
// errors returned are store access failures.
func (e *Engine) Diagnose(ctx context.Context, source, errorOutput string) (*Report, error) {
	log.WithField("source", source).Info("Starting diagnosis")

	profile, err := e.buildProfile(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("diagnosis failed for %s: %w", source, err)
	}

	report := &Report{
		Source:      source,
		GeneratedAt: e.now(),
		Profile:     profile,
	}

	e.analyzeFailure(report, errorOutput)
	e.compareWithPeers(ctx, report)
	e.recommend(report)
	e.enrichFromSession(ctx, report, errorOutput)
	report.ProfileSummary = profileSummary(profile)

	if e.outputDir != "" {
		e.saveReport(report)
	}

	log.WithField("source", source).Infof(
		"Diagnosis complete: %s (confidence %.2f)", report.Category, report.Confidence)

	return report, nil
}

var (
	timeoutDurationRe = regexp.MustCompile(`timeout (\d+)ms exceeded`)
	moduleNameRe      = regexp.MustCompile(`no module named ['"]?([^'"\s]+)['"]?`)
	clickCountRes     = []*regexp.Regexp{
		regexp.MustCompile(`successfully clicked[^(]+\((\d+)/`),
		regexp.MustCompile(`after (\d+) clicks?`),
		regexp.MustCompile(`total.{0,20}clicks?: (\d+)`),
	}
	interactionMarkerRe = regexp.MustCompile(`(successfully clicked|clicking|page\.act)`)
)

// analyzeFailure classifies the failure and records observations.
func (e *Engine) analyzeFailure(report *Report, errorOutput string) {
	lower := strings.ToLower(errorOutput)

	for _, line := range strings.Split(errorOutput, "\n") {
		l := strings.ToLower(line)
		if strings.Contains(l, "error") || strings.Contains(l, "failed") {
			report.ErrorMessages = append(report.ErrorMessages, line)
		}
	}

	result := e.matcher.Match(errorOutput)
	if result.Matched {
		report.Category = result.Pattern.Category
		report.FailurePattern = result.Pattern.Description
	}

	switch report.Category {
	case CategorySiteBlocked:
		report.Observations = append(report.Observations, "Site appears to be blocking automated access")

	case CategoryPageNotFound:
		report.Observations = append(report.Observations, "Configured URL no longer resolves to the events page")

	case CategorySessionCrash:
		// A crash right after clicking is a different beast than a crash
		// during idle load.
		crashIdx := strings.Index(lower, "target page, context or browser has been closed")
		interacted := false
		if crashIdx > 0 {
			interacted = interactionMarkerRe.MatchString(lower[:crashIdx])
		}
		if interacted {
			report.FailurePattern = "Browser session dies during interaction"
			report.Observations = append(report.Observations, "Browser session crashes after clicking pagination button")
		} else {
			report.Observations = append(report.Observations, "Browser session crashed before any interaction")
		}
		for _, re := range clickCountRes {
			if m := re.FindStringSubmatch(lower); m != nil {
				report.Observations = append(report.Observations, fmt.Sprintf("Session dies after %s click(s)", m[1]))
				break
			}
		}

	case CategoryNavigationTimeout:
		report.Observations = append(report.Observations, "Page took too long to load - navigation timeout")
		if m := timeoutDurationRe.FindStringSubmatch(lower); m != nil {
			var ms int
			fmt.Sscanf(m[1], "%d", &ms)
			report.Observations = append(report.Observations, fmt.Sprintf("Timeout after %gs", float64(ms)/1000))
		}

	case CategoryEmptyResults:
		report.Observations = append(report.Observations, "No events extracted from page")

	case CategoryDependencyMissing:
		if m := moduleNameRe.FindStringSubmatch(lower); m != nil {
			report.Observations = append(report.Observations, fmt.Sprintf("Missing helper module: %s", m[1]))
		}
		report.Observations = append(report.Observations, "May be using system interpreter instead of the project environment")

	case CategoryButtonNotFound:
		report.Observations = append(report.Observations, "Button selector found 0 matches - check case sensitivity")
		report.Observations = append(report.Observations, "Tip: Use case-insensitive regex selector like text=/button text/i")
	}

	// No output signature matched: fall back to evidence state.
	if report.Category == "" {
		switch {
		case report.Profile.EventsInDB == 0:
			report.Category = CategoryEmptyResults
			report.FailurePattern = "Job has produced no events"
			report.Observations = append(report.Observations, "No events extracted from page")
		case report.Profile.DataIsStale:
			report.Category = CategoryStaleData
			report.FailurePattern = "Job hasn't run successfully in a long time"
			if report.Profile.DaysSinceSuccess >= 0 {
				report.Observations = append(report.Observations,
					fmt.Sprintf("Last successful run was %d days ago", report.Profile.DaysSinceSuccess))
			}
			report.Observations = append(report.Observations,
				fmt.Sprintf("All %d events in store are in the past", report.Profile.EventsInDB))
		default:
			report.Category = CategoryUnknown
			report.FailurePattern = "Unable to determine failure pattern"
		}
	}
}

// compareWithPeers looks at sources sharing the interaction strategy to
// separate job bugs from platform-wide breakage.
func (e *Engine) compareWithPeers(ctx context.Context, report *Report) {
	profile := report.Profile

	var working, failing []string
	for peer, status := range profile.PeerStatus {
		switch status {
		case PeerWorking:
			working = append(working, peer)
		case PeerStale, PeerUnknown:
			failing = append(failing, peer)
		}
	}

	if len(working) > 0 {
		report.WorkingPeersPattern = fmt.Sprintf("Working scrapers with same pagination: %s", strings.Join(working, ", "))
	}
	if len(failing) > 0 {
		report.FailingPeersPattern = fmt.Sprintf("Other failing scrapers with same pagination: %s", strings.Join(failing, ", "))
	}

	if profile.Code.ClickBased() && len(working) == 0 {
		scrollPeers := e.workingScrollPeers(ctx)
		if len(scrollPeers) > 0 {
			methodName := "direct DOM"
			if profile.Code.Strategy == jobs.StrategyClickScripted {
				methodName = "scripted observe/act"
			}
			if len(scrollPeers) > 3 {
				scrollPeers = scrollPeers[:3]
			}
			report.KeyDifference = fmt.Sprintf(
				"CLICK-BASED PAGINATION (%s) IS FAILING. Scroll-based scrapers work: %s",
				methodName, strings.Join(scrollPeers, ", "))
			report.Observations = append(report.Observations, "Pattern: Click-based pagination fails, scroll-based works")
		}
	}
}

// enrichFromSession folds recorded browser session telemetry into the
// report when the error output names a session. Telemetry is best effort;
// a fetch failure leaves the report as-is.
func (e *Engine) enrichFromSession(ctx context.Context, report *Report, errorOutput string) {
	if e.telemetry == nil {
		return
	}
	sessionID := telemetry.ExtractSessionID(errorOutput)
	if sessionID == "" {
		return
	}
	d, err := e.telemetry.SessionDiagnostics(ctx, sessionID)
	if err != nil {
		log.WithField("source", report.Source).Warnf("Session telemetry unavailable: %v", err)
		return
	}
	EnrichWithTelemetry(report, telemetry.AnalyzeForHealing(d))
}

// saveReport persists the diagnostic report as JSON under the output dir.
func (e *Engine) saveReport(report *Report) {
	dir := filepath.Join(e.outputDir, "diagnostics")
	filename := fmt.Sprintf("diagnosis_%s_%s.json", report.Source, report.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	if err := util.SecureWriteJSON(path, report, nil); err != nil {
		log.Warnf("Failed to save diagnostic report: %v", err)
		return
	}
	log.WithField("source", report.Source).Debugf("Diagnostic report saved: %s", path)
}

// profileSummary selects the profile fields worth persisting.
func profileSummary(p *Profile) map[string]interface{} {
	return map[string]interface{}{
		"total_runs":              p.TotalRuns,
		"successful_runs":         p.SuccessfulRuns,
		"days_since_success":      p.DaysSinceSuccess,
		"avg_events_when_working": p.AvgEventsWorking,
		"events_in_db":            p.EventsInDB,
		"pagination_method":       p.Code.Strategy,
		"data_is_stale":           p.DataIsStale,
		"similar_scrapers_status": p.PeerStatus,
	}
}
