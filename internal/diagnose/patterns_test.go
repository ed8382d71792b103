// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package diagnose

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatching(t *testing.T) {
	pm := NewPatternMatcher()

	tests := []struct {
		name   string
		output string
		want   Category
	}{
		{
			name:   "access denied",
			output: "Error: Access Denied - you have been blocked",
			want:   CategorySiteBlocked,
		},
		{
			name:   "cloudflare challenge",
			output: "Checking your browser... Cloudflare",
			want:   CategorySiteBlocked,
		},
		{
			name:   "missing page",
			output: "HTTP 404 Not Found",
			want:   CategoryPageNotFound,
		},
		{
			name:   "dns failure",
			output: "net::ERR_NAME_NOT_RESOLVED at https://gone.example.com",
			want:   CategoryPageNotFound,
		},
		{
			name:   "session closed",
			output: "Error: Target page, context or browser has been closed",
			want:   CategorySessionCrash,
		},
		{
			name:   "navigation timeout",
			output: `TimeoutError: Timeout 30000ms exceeded.\n  at page.goto("https://example.com")`,
			want:   CategoryNavigationTimeout,
		},
		{
			name:   "zero events marker",
			output: "Extraction complete. No events found on page",
			want:   CategoryEmptyResults,
		},
		{
			name:   "missing dependency",
			output: `Error: Cannot find module '../lib/scraper-utils.js'`,
			want:   CategoryDependencyMissing,
		},
		{
			name:   "button never found",
			output: `No more "Load More" button found after 0 clicks`,
			want:   CategoryButtonNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := pm.Match(tt.output)
			require.True(t, result.Matched, "expected a match for %q", tt.output)
			assert.Equal(t, tt.want, result.Pattern.Category)
		})
	}
}

func TestPatternMatchingNoMatch(t *testing.T) {
	pm := NewPatternMatcher()
	result := pm.Match("Scraped 42 events successfully")
	assert.False(t, result.Matched)
	assert.Nil(t, result.Pattern)
}

func TestPatternPrecedence(t *testing.T) {
	pm := NewPatternMatcher()

	// A blocked site also reports zero events; the block outranks the
	// empty-results symptom.
	result := pm.Match("Access denied by origin server. No events found.")
	require.True(t, result.Matched)
	assert.Equal(t, CategorySiteBlocked, result.Pattern.Category)

	// A session crash during a run that also logged zero events is a
	// crash first.
	result = pm.Match("No events found\nTarget page, context or browser has been closed")
	require.True(t, result.Matched)
	assert.Equal(t, CategorySessionCrash, result.Pattern.Category)
}

func TestPatternsSortedByPriority(t *testing.T) {
	pm := NewPatternMatcher()
	for i := 1; i < len(pm.patterns); i++ {
		assert.GreaterOrEqual(t, pm.patterns[i-1].Priority, pm.patterns[i].Priority)
	}
}

func TestAddPatternResorts(t *testing.T) {
	pm := NewPatternMatcher()
	pm.AddPattern(&FailurePattern{
		Name:     "rate_limited",
		Regex:    regexp.MustCompile(`429 too many requests`),
		Category: CategorySiteBlocked,
		Priority: 110,
	})

	assert.Equal(t, "rate_limited", pm.patterns[0].Name)

	result := pm.Match("HTTP 429 Too Many Requests")
	require.True(t, result.Matched)
	assert.Equal(t, CategorySiteBlocked, result.Pattern.Category)
}
