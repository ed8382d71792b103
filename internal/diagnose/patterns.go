// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package diagnose builds evidence-based failure diagnoses for extraction
// jobs. It profiles a source's history, classifies the failure from run
// output, compares against peer jobs, and produces ranked fix
// recommendations.
package diagnose

import (
	"regexp"
	"strings"
)

// Category classifies a job failure.
type Category string

// Failure categories, from most externally-caused to least.
const (
	CategorySiteBlocked       Category = "site_blocked"
	CategoryPageNotFound      Category = "page_not_found"
	CategorySessionCrash      Category = "session_crash"
	CategoryNavigationTimeout Category = "navigation_timeout"
	CategoryEmptyResults      Category = "empty_results"
	CategoryDependencyMissing Category = "dependency_missing"
	CategoryButtonNotFound    Category = "button_not_found"
	CategoryStaleData         Category = "stale_data"
	CategoryUnknown           Category = "unknown"
)

// FailurePattern defines a recognizable failure signature in job output.
type FailurePattern struct {
	// Name is a unique identifier for this pattern.
	Name string

	// Regex is matched against lowercased job output.
	Regex *regexp.Regexp

	// Category is the failure classification this pattern implies.
	Category Category

	// Priority determines matching order when multiple patterns match
	// (higher = checked first).
	Priority int

	// Description provides human-readable context about what this
	// pattern detects.
	Description string
}

// DefaultPatterns contains the built-in failure signatures, ordered by
// priority (highest first) for deterministic matching. External causes
// outrank extraction-level symptoms: a blocked site also produces empty
// results, and the block is the diagnosis.
var DefaultPatterns = []*FailurePattern{
	{
		Name:        "site_blocked",
		Regex:       regexp.MustCompile(`(access denied|request blocked|captcha|are you a robot|cloudflare|403 forbidden)`),
		Category:    CategorySiteBlocked,
		Priority:    100,
		Description: "Site is actively blocking automated access",
	},
	{
		Name:        "page_not_found",
		Regex:       regexp.MustCompile(`(404 not found|page not found|err_name_not_resolved)`),
		Category:    CategoryPageNotFound,
		Priority:    95,
		Description: "Target page no longer exists at the configured URL",
	},
	{
		Name:        "session_closed",
		Regex:       regexp.MustCompile(`target page, context or browser has been closed`),
		Category:    CategorySessionCrash,
		Priority:    90,
		Description: "Browser session died mid-run",
	},
	{
		Name:        "navigation_timeout",
		Regex:       regexp.MustCompile(`(?s)timeout \d+ms exceeded.*goto|goto.*timeout \d+ms exceeded`),
		Category:    CategoryNavigationTimeout,
		Priority:    80,
		Description: "Page navigation timed out",
	},
	{
		Name:        "empty_results_marker",
		Regex:       regexp.MustCompile(`(no events found|events_scraped: 0)`),
		Category:    CategoryEmptyResults,
		Priority:    70,
		Description: "Job reported zero extracted events",
	},
	{
		Name:        "dependency_missing",
		Regex:       regexp.MustCompile(`(modulenotfounderror|no module named|cannot find module)`),
		Category:    CategoryDependencyMissing,
		Priority:    65,
		Description: "Helper dependency not installed or wrong interpreter",
	},
	{
		Name:        "pagination_button_missing",
		Regex:       regexp.MustCompile(`no more .{0,60} button found after 0 clicks`),
		Category:    CategoryButtonNotFound,
		Priority:    60,
		Description: "Pagination selector matched nothing - possible case sensitivity issue",
	},
}

// PatternMatcher provides pattern-based failure classification.
type PatternMatcher struct {
	patterns []*FailurePattern
}

// NewPatternMatcher creates a PatternMatcher with the default patterns.
func NewPatternMatcher() *PatternMatcher {
	return NewPatternMatcherWithPatterns(DefaultPatterns)
}

// NewPatternMatcherWithPatterns creates a PatternMatcher with custom
// patterns, sorted by priority (highest first).
func NewPatternMatcherWithPatterns(patterns []*FailurePattern) *PatternMatcher {
	sorted := make([]*FailurePattern, len(patterns))
	copy(sorted, patterns)
	sortPatternsByPriority(sorted)
	return &PatternMatcher{patterns: sorted}
}

// sortPatternsByPriority sorts patterns in descending order by priority.
func sortPatternsByPriority(patterns []*FailurePattern) {
	// Simple insertion sort (patterns list is small)
	for i := 1; i < len(patterns); i++ {
		key := patterns[i]
		j := i - 1
		for j >= 0 && patterns[j].Priority < key.Priority {
			patterns[j+1] = patterns[j]
			j--
		}
		patterns[j+1] = key
	}
}

// MatchResult contains the result of pattern matching.
type MatchResult struct {
	// Matched indicates whether any pattern was matched.
	Matched bool

	// Pattern is the matched pattern (nil if no match).
	Pattern *FailurePattern

	// MatchedText is the text that matched the pattern.
	MatchedText string
}

// Match analyzes job output and returns the highest-priority matching
// pattern. If no pattern matches, returns a result with Matched=false.
func (pm *PatternMatcher) Match(output string) *MatchResult {
	normalized := strings.ToLower(output)

	for _, pattern := range pm.patterns {
		if match := pattern.Regex.FindString(normalized); match != "" {
			return &MatchResult{
				Matched:     true,
				Pattern:     pattern,
				MatchedText: match,
			}
		}
	}

	return &MatchResult{Matched: false}
}

// AddPattern adds a custom pattern to the matcher.
// The pattern list is re-sorted after addition.
func (pm *PatternMatcher) AddPattern(pattern *FailurePattern) {
	pm.patterns = append(pm.patterns, pattern)
	sortPatternsByPriority(pm.patterns)
}
