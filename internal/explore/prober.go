// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package explore discovers working interaction sequences for sources the
// healing catalog cannot fix. It probes the page with candidate actions,
// asks a vision model what else to try, and synthesizes a new job
// definition from the best pattern found.
package explore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/scraperfleet/scraperfleet/internal/jobs"
	"github.com/scraperfleet/scraperfleet/internal/util"
	"github.com/scraperfleet/scraperfleet/internal/vision"
)

// goodEnoughEvents is the count at which exploration stops early; a page
// already yielding this many events needs no further interaction.
const goodEnoughEvents = 20

// maxIndividualActions caps how many single recommended actions are tried
// after the suggested sequence fails.
const maxIndividualActions = 3

// Iteration records one probe attempt.
type Iteration struct {
	Iteration   int      `json:"iteration"`
	Actions     []string `json:"actions"`
	EventsFound int      `json:"events_found"`
}

// Pattern is an interaction sequence and the event count it produced.
type Pattern struct {
	Actions []string `json:"actions"`
	Events  int      `json:"events"`
}

// Result is the outcome of a full exploration session.
type Result struct {
	Source       string      `json:"source"`
	URL          string      `json:"url"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  time.Time   `json:"completed_at"`
	Iterations   []Iteration `json:"iterations"`
	BestPattern  *Pattern    `json:"best_pattern"`
	EventsFound  int         `json:"events_found"`
	GeneratedJob string      `json:"generated_scraper,omitempty"`
}

// ProbeRunner executes a probe script and returns its combined output.
type ProbeRunner func(ctx context.Context, scriptPath string) (string, error)

// Prober drives exploration for a single source.
type Prober struct {
	source   string
	url      string
	registry *jobs.Registry
	vision   *vision.Client

	runtime        string
	stagingDir     string
	screenshotsDir string
	outputDir      string
	probeTimeout   time.Duration

	runProbe ProbeRunner
	now      func() time.Time
}

// Option is a functional option for configuring the Prober.
type Option func(*Prober)

// WithProbeRunner overrides probe execution, for tests.
func WithProbeRunner(r ProbeRunner) Option {
	return func(p *Prober) {
		p.runProbe = r
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Prober) {
		p.now = now
	}
}

// NewProber creates a Prober for a source and its page URL.
func NewProber(source, url string, registry *jobs.Registry, vc *vision.Client,
	runtime, stagingDir, screenshotsDir, outputDir string,
	probeTimeout time.Duration, opts ...Option) *Prober {
	if runtime == "" {
		runtime = "node"
	}
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Minute
	}
	p := &Prober{
		source:         source,
		url:            url,
		registry:       registry,
		vision:         vc,
		runtime:        runtime,
		stagingDir:     stagingDir,
		screenshotsDir: screenshotsDir,
		outputDir:      outputDir,
		probeTimeout:   probeTimeout,
		now:            time.Now,
	}
	p.runProbe = p.execProbe
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Discover runs the exploration loop: a zero-action probe first, then the
// vision-suggested sequence, then the top individual recommendations. The
// best pattern is monotonic; a later worse attempt never replaces it.
func (p *Prober) Discover(ctx context.Context) (*Result, error) {
	log.WithField("source", p.source).Infof("Starting exploration of %s", p.url)

	result := &Result{
		Source:    p.source,
		URL:       p.url,
		StartedAt: p.now(),
	}

	events, _ := p.probe(ctx, nil)
	result.Iterations = append(result.Iterations, Iteration{Iteration: 0, Actions: []string{}, EventsFound: events})

	if events > 0 {
		log.Infof("Found %d events without any actions", events)
		result.BestPattern = &Pattern{Actions: []string{}, Events: events}
		result.EventsFound = events
		if events >= goodEnoughEvents {
			p.finish(result)
			return result, nil
		}
		log.Infof("Only %d events - will try to find more", events)
	}

	screenshot := p.latestInitialScreenshot()
	if screenshot == "" {
		log.Warn("No initial screenshot found, cannot analyze page")
		p.finish(result)
		return result, nil
	}

	pageContext := fmt.Sprintf("This is %s. We found %d events. What should we click?", p.source, result.EventsFound)
	analysis := p.vision.AnalyzeScreenshot(ctx, screenshot, pageContext)
	log.Infof("Vision sees %d events; suggested sequence: %v", analysis.EventsVisible, analysis.SuggestedSequence)

	suggested := vision.ValidateActions(analysis.SuggestedSequence)
	if len(suggested) > 0 {
		events, _ = p.probe(ctx, suggested)
		result.Iterations = append(result.Iterations, Iteration{Iteration: 1, Actions: suggested, EventsFound: events})
		if events > result.EventsFound {
			result.BestPattern = &Pattern{Actions: suggested, Events: events}
			result.EventsFound = events
		}
		log.Infof("Found %d events with suggested sequence", events)
	}

	if result.EventsFound == 0 {
		tried := 0
		for _, rec := range analysis.RecommendedActions {
			if tried >= maxIndividualActions {
				break
			}
			actions := vision.ValidateActions([]string{rec.Action})
			if len(actions) == 0 {
				continue
			}
			tried++

			log.Infof("Trying action: %s", actions[0])
			events, _ = p.probe(ctx, actions)
			result.Iterations = append(result.Iterations, Iteration{
				Iteration:   tried + 1,
				Actions:     actions,
				EventsFound: events,
			})
			if events > result.EventsFound {
				result.BestPattern = &Pattern{Actions: actions, Events: events}
				result.EventsFound = events
			}
			if events > 0 {
				log.Infof("Found %d events", events)
				break
			}
		}
	}

	if result.BestPattern != nil {
		log.Infof("Best pattern: %v (%d events)", result.BestPattern.Actions, result.BestPattern.Events)
		result.GeneratedJob = jobs.Synthesize(p.source, p.url, result.BestPattern.Actions)
	}

	p.finish(result)
	return result, nil
}

// Promote installs the generated job definition as the source's job,
// keeping the previous definition as a .backup sibling.
func (p *Prober) Promote(result *Result) error {
	if result.GeneratedJob == "" {
		return fmt.Errorf("no generated job to promote for %s", p.source)
	}

	jobPath := p.registry.Path(p.source)
	if existing, err := os.ReadFile(jobPath); err == nil {
		if err := os.WriteFile(jobPath+".backup", existing, 0o644); err != nil {
			return fmt.Errorf("failed to back up existing job: %w", err)
		}
	}

	if err := util.SecureWrite(jobPath, []byte(result.GeneratedJob), nil); err != nil {
		return fmt.Errorf("failed to install generated job: %w", err)
	}
	log.Infof("Installed generated job definition at %s", jobPath)
	return nil
}

var (
	explorationResultRe = regexp.MustCompile(`EXPLORATION_RESULT:\s*(\{.*\})`)
	eventsFoundRe       = regexp.MustCompile(`Events found:\s*(\d+)`)
)

// probe writes a temporary probe script, executes it under the probe
// timeout, and parses the event count from its output. Probe failures
// report zero events; exploration carries on.
func (p *Prober) probe(ctx context.Context, actions []string) (int, string) {
	script := jobs.SynthesizeProbe(p.source, p.url, actions)

	if err := os.MkdirAll(p.stagingDir, 0o755); err != nil {
		log.Warnf("Failed to create staging dir: %v", err)
		return 0, ""
	}
	scriptPath := filepath.Join(p.stagingDir, fmt.Sprintf("_explore_%s.js", p.source))
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		log.Warnf("Failed to write probe script: %v", err)
		return 0, ""
	}
	defer os.Remove(scriptPath)

	log.Debugf("Running exploration with actions: %v", actions)

	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	output, err := p.runProbe(probeCtx, scriptPath)
	if err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			return 0, "Exploration timed out"
		}
		// Probe scripts exit non-zero on page errors but still print
		// whatever they managed to extract.
		log.Debugf("Probe exited with error: %v", err)
	}

	return parseEventCount(output), output
}

// parseEventCount extracts the event count from probe output, preferring
// the structured result marker over the human-readable count line.
func parseEventCount(output string) int {
	if m := explorationResultRe.FindStringSubmatch(output); m != nil {
		if parsed := gjson.Get(m[1], "events_count"); parsed.Exists() {
			return int(parsed.Int())
		}
	}
	if m := eventsFoundRe.FindStringSubmatch(output); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// execProbe is the default ProbeRunner: run the script with the job
// runtime and return combined output.
func (p *Prober) execProbe(ctx context.Context, scriptPath string) (string, error) {
	cmd := exec.CommandContext(ctx, p.runtime, scriptPath)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// latestInitialScreenshot returns the most recent initial-state screenshot
// the probe captured, or empty when none exists.
func (p *Prober) latestInitialScreenshot() string {
	pattern := filepath.Join(p.screenshotsDir, fmt.Sprintf("%s_explore_initial*.png", p.source))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}

	latest := ""
	var latestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = m
			latestMod = info.ModTime()
		}
	}
	return latest
}

// finish stamps completion and persists the session record.
func (p *Prober) finish(result *Result) {
	result.CompletedAt = p.now()
	p.saveResult(result)
}

// saveResult writes the exploration record as JSON under the output dir.
// The document is assembled field by field so a partially failed session
// still serializes cleanly.
func (p *Prober) saveResult(result *Result) {
	doc := "{}"
	doc, _ = sjson.Set(doc, "source", result.Source)
	doc, _ = sjson.Set(doc, "url", result.URL)
	doc, _ = sjson.Set(doc, "started_at", result.StartedAt.Format(time.RFC3339))
	doc, _ = sjson.Set(doc, "completed_at", result.CompletedAt.Format(time.RFC3339))
	doc, _ = sjson.Set(doc, "events_found", result.EventsFound)
	for i, it := range result.Iterations {
		prefix := fmt.Sprintf("iterations.%d.", i)
		doc, _ = sjson.Set(doc, prefix+"iteration", it.Iteration)
		doc, _ = sjson.Set(doc, prefix+"actions", it.Actions)
		doc, _ = sjson.Set(doc, prefix+"events_found", it.EventsFound)
	}
	if result.BestPattern != nil {
		doc, _ = sjson.Set(doc, "best_pattern.actions", result.BestPattern.Actions)
		doc, _ = sjson.Set(doc, "best_pattern.events", result.BestPattern.Events)
	}
	if result.GeneratedJob != "" {
		doc, _ = sjson.Set(doc, "generated_scraper", result.GeneratedJob)
	}

	filename := fmt.Sprintf("exploration_%s_%s.json", p.source, p.now().Format("20060102_150405"))
	path := filepath.Join(p.outputDir, filename)
	if err := util.SecureWrite(path, []byte(doc), nil); err != nil {
		log.Warnf("Failed to save exploration results: %v", err)
		return
	}
	log.Infof("Exploration results saved to %s", path)
}
