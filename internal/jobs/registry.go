// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package jobs manages the catalog of job definitions: the per-source
// scraper scripts executed by the runner. It also performs static analysis
// of job code to classify interaction strategies, and synthesizes new job
// definitions from discovered interaction patterns.
package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Registry locates job definitions on disk.
type Registry struct {
	dir string
}

// NewRegistry creates a registry over the given scrapers directory.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Dir returns the scrapers directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Path returns the job definition path for a source.
func (r *Registry) Path(source string) string {
	return filepath.Join(r.dir, source+".js")
}

// Exists reports whether a job definition exists for the source.
func (r *Registry) Exists(source string) bool {
	_, err := os.Stat(r.Path(source))
	return err == nil
}

// List returns all available sources, sorted. Files whose names start with
// an underscore are scaffolding, not jobs.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scrapers directory %s: %w", r.dir, err)
	}

	var sources []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".js") || strings.HasPrefix(name, "_") {
			continue
		}
		sources = append(sources, strings.TrimSuffix(name, ".js"))
	}
	sort.Strings(sources)
	return sources, nil
}

// Read returns the content of a source's job definition.
func (r *Registry) Read(source string) (string, error) {
	data, err := os.ReadFile(r.Path(source))
	if err != nil {
		return "", fmt.Errorf("failed to read job definition for %s: %w", source, err)
	}
	return string(data), nil
}

// Interaction strategies detected in job code.
const (
	StrategyScroll        = "scroll"
	StrategyClickScripted = "click_scripted"
	StrategyClickDirect   = "click_direct"
	StrategyNone          = "none"
)

// CodeProfile summarizes the static characteristics of a job definition.
type CodeProfile struct {
	// Strategy is the pagination approach the job uses.
	Strategy string

	// UsesAIInteraction is true when the job drives the page through
	// observe/act calls rather than fixed selectors.
	UsesAIInteraction bool

	// UsesClickUntilGone is true for jobs built on the scripted
	// click-until-gone pagination helper.
	UsesClickUntilGone bool

	// HasTimeExtraction is true when the job attempts to extract event times.
	HasTimeExtraction bool

	// InstructionLength is the length of the extraction instruction string,
	// a rough complexity indicator.
	InstructionLength int

	// PageURL is the navigation target extracted from the job, if found.
	PageURL string
}

var (
	instructionRe = regexp.MustCompile("(?s)extractEventsFromPage\\([^,]+,\\s*[`\"'](.+?)[`\"'],")
	gotoURLRe     = regexp.MustCompile(`page\.goto\(["']([^"']+)["']`)
)

// AnalyzeSource builds a CodeProfile from job definition content.
func AnalyzeSource(content string) CodeProfile {
	p := CodeProfile{}

	if strings.Contains(content, "page.observe") || strings.Contains(content, "page.act") {
		p.UsesAIInteraction = true
	}
	p.UsesClickUntilGone = strings.Contains(content, "clickButtonUntilGone")

	lower := strings.ToLower(content)
	hasAIClick := p.UsesAIInteraction && strings.Contains(lower, "click")
	hasDirectClick := p.UsesClickUntilGone ||
		(strings.Contains(content, ".click()") && strings.Contains(lower, "more"))

	switch {
	case hasAIClick:
		p.Strategy = StrategyClickScripted
	case hasDirectClick:
		p.Strategy = StrategyClickDirect
	case strings.Contains(content, "scrollToBottom"):
		p.Strategy = StrategyScroll
	default:
		p.Strategy = StrategyNone
	}

	if strings.Contains(content, "extractEventTimes") || strings.Contains(content, "eventTime") {
		p.HasTimeExtraction = true
	}

	if m := instructionRe.FindStringSubmatch(content); m != nil {
		p.InstructionLength = len(m[1])
	}

	if m := gotoURLRe.FindStringSubmatch(content); m != nil {
		p.PageURL = m[1]
	}

	return p
}

// ClickBased reports whether the profile uses a click pagination strategy.
func (p CodeProfile) ClickBased() bool {
	return p.Strategy == StrategyClickScripted || p.Strategy == StrategyClickDirect
}

// DetectURL extracts the navigation target from a source's job definition.
func (r *Registry) DetectURL(source string) (string, error) {
	content, err := r.Read(source)
	if err != nil {
		return "", err
	}
	if m := gotoURLRe.FindStringSubmatch(content); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("no navigation URL found in job definition for %s", source)
}
