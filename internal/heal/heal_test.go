// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scraperfleet/scraperfleet/internal/config"
	"github.com/scraperfleet/scraperfleet/internal/jobs"
)

func newTestCatalog(t *testing.T, jobContent string) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()

	scrapersDir := filepath.Join(dir, "scrapers")
	require.NoError(t, os.MkdirAll(scrapersDir, 0o755))
	jobPath := filepath.Join(scrapersDir, "fillmore.js")
	require.NoError(t, os.WriteFile(jobPath, []byte(jobContent), 0o644))

	baselinesPath := filepath.Join(dir, "baselines.yaml")
	require.NoError(t, os.WriteFile(baselinesPath, []byte(`
venues:
  fillmore:
    typical_event_count_min: 30
    typical_event_count_max: 80
`), 0o644))
	baselines, err := config.LoadBaselines(baselinesPath)
	require.NoError(t, err)

	return NewCatalog(jobs.NewRegistry(scrapersDir), baselines), jobPath
}

func TestApplyRetryableIssues(t *testing.T) {
	c, _ := newTestCatalog(t, "const x = 1;")

	for _, issue := range []IssueType{IssueEmptyResults, IssueStaleData, IssueLowEventCount} {
		t.Run(string(issue), func(t *testing.T) {
			action := c.Apply("fillmore", issue)
			assert.Equal(t, ActionRetry, action.Action)
			assert.Equal(t, issue, action.Issue)
			assert.False(t, action.Applied)
		})
	}
}

func TestApplyBrowserCrashedHardensJob(t *testing.T) {
	c, jobPath := newTestCatalog(t, `
  await page.goto("https://example.com");
  await clickButtonUntilGone(page, 'text=/more/i', 10);
`)

	action := c.Apply("fillmore", IssueBrowserCrashed)
	assert.Equal(t, ActionRetry, action.Action)
	assert.True(t, action.Applied)

	patched, err := os.ReadFile(jobPath)
	require.NoError(t, err)
	assert.Contains(t, string(patched), "try {")
}

func TestApplyBrowserCrashedNothingToHarden(t *testing.T) {
	c, _ := newTestCatalog(t, "const x = 1;")

	action := c.Apply("fillmore", IssueBrowserCrashed)
	assert.Equal(t, ActionRetry, action.Action)
	assert.False(t, action.Applied)
}

func TestApplyWrongYear(t *testing.T) {
	staleYear := time.Now().Year() - 1
	content := fmt.Sprintf(
		"const result = await extractEventsFromPage(page, `dates like 'January 5 %d'`, schema);", staleYear)
	c, jobPath := newTestCatalog(t, content)

	action := c.Apply("fillmore", IssueWrongYear)
	assert.Equal(t, ActionRetry, action.Action)
	assert.True(t, action.Applied)

	patched, err := os.ReadFile(jobPath)
	require.NoError(t, err)
	assert.NotContains(t, string(patched), fmt.Sprintf("%d", staleYear))
	assert.Contains(t, string(patched), "${currentYear}")
	assert.Contains(t, string(patched), "const currentYear = new Date().getFullYear();")
}

func TestApplyWrongYearNotFixable(t *testing.T) {
	c, _ := newTestCatalog(t, "const x = 1;")

	action := c.Apply("fillmore", IssueWrongYear)
	assert.Equal(t, ActionEscalate, action.Action)
	assert.False(t, action.Applied)
}

func TestApplyTimeExtractionFailedSkipsAndMarksBaseline(t *testing.T) {
	c, _ := newTestCatalog(t, "const x = 1;")

	action := c.Apply("fillmore", IssueTimeExtractionFailed)
	assert.Equal(t, ActionSkip, action.Action)
	assert.True(t, action.Applied)

	b, ok := c.baselines.Get("fillmore")
	require.True(t, ok)
	assert.False(t, b.TimesKnownAvailable())

	// Second time: still skip, nothing new to record
	action = c.Apply("fillmore", IssueTimeExtractionFailed)
	assert.Equal(t, ActionSkip, action.Action)
	assert.False(t, action.Applied)
}

func TestApplyPaginationIncomplete(t *testing.T) {
	c, jobPath := newTestCatalog(t, `await clickButtonUntilGone(page, 'text=/more/i', 10);`)

	action := c.Apply("fillmore", IssuePaginationIncomplete)
	assert.Equal(t, ActionRetry, action.Action)
	assert.True(t, action.Applied)

	patched, err := os.ReadFile(jobPath)
	require.NoError(t, err)
	assert.Contains(t, string(patched), "15)")
}

func TestApplyEscalatingIssues(t *testing.T) {
	c, _ := newTestCatalog(t, "const x = 1;")

	for _, issue := range []IssueType{IssueURLExtractionFailed, IssueSiteBlocked, IssuePageNotFound, IssueUnknown} {
		t.Run(string(issue), func(t *testing.T) {
			action := c.Apply("fillmore", issue)
			assert.Equal(t, ActionEscalate, action.Action)
			assert.NotEmpty(t, action.Description)
		})
	}
}
