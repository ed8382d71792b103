// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJob(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".js"), []byte(content), 0o644))
}

func TestRegistryListSkipsUnderscoreFiles(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "fillmore", "// job")
	writeJob(t, dir, "warfield", "// job")
	writeJob(t, dir, "_explore_fillmore", "// probe")
	writeJob(t, dir, "_shared_helpers", "// lib")

	r := NewRegistry(dir)
	sources, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"fillmore", "warfield"}, sources)
}

func TestRegistryExistsAndRead(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "fillmore", "const x = 1;")

	r := NewRegistry(dir)
	assert.True(t, r.Exists("fillmore"))
	assert.False(t, r.Exists("nope"))

	content, err := r.Read("fillmore")
	require.NoError(t, err)
	assert.Equal(t, "const x = 1;", content)

	_, err = r.Read("nope")
	assert.Error(t, err)
}

func TestDetectURL(t *testing.T) {
	dir := t.TempDir()
	writeJob(t, dir, "fillmore", `
async function run() {
  await page.goto("https://www.fillmore.com/events", { waitUntil: "domcontentloaded" });
}
`)
	r := NewRegistry(dir)
	url, err := r.DetectURL("fillmore")
	require.NoError(t, err)
	assert.Equal(t, "https://www.fillmore.com/events", url)
}

func TestAnalyzeSource(t *testing.T) {
	tests := []struct {
		name             string
		content          string
		wantStrategy     string
		wantClickBased   bool
		wantAIInteract   bool
		wantClickUntil   bool
		wantTimeExtract  bool
	}{
		{
			name: "scripted click pagination",
			content: `
await page.observe("find the load more button");
await page.act("click the Load More button");
await extractEventTimes(page);
`,
			wantStrategy:    StrategyClickScripted,
			wantClickBased:  true,
			wantAIInteract:  true,
			wantTimeExtract: true,
		},
		{
			name: "direct dom click loop",
			content: `
await clickButtonUntilGone(page, 'text="Show More"', 10);
`,
			wantStrategy:   StrategyClickDirect,
			wantClickBased: true,
			wantClickUntil: true,
		},
		{
			name: "scroll based",
			content: `
await scrollToBottom(page);
`,
			wantStrategy: StrategyScroll,
		},
		{
			name:         "no interaction",
			content:      `const events = await extractEventsFromPage(page);`,
			wantStrategy: StrategyNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := AnalyzeSource(tt.content)
			assert.Equal(t, tt.wantStrategy, p.Strategy)
			assert.Equal(t, tt.wantClickBased, p.ClickBased())
			assert.Equal(t, tt.wantAIInteract, p.UsesAIInteraction)
			assert.Equal(t, tt.wantClickUntil, p.UsesClickUntilGone)
			assert.Equal(t, tt.wantTimeExtract, p.HasTimeExtraction)
		})
	}
}

func TestSynthesizeProbeContainsMarkerAndActions(t *testing.T) {
	script := SynthesizeProbe("fillmore", "https://www.fillmore.com/events", []string{
		"click LIST button on top right",
		"wait 2000",
		"scroll",
	})

	assert.Contains(t, script, "EXPLORATION_RESULT:")
	assert.Contains(t, script, "https://www.fillmore.com/events")
	assert.Contains(t, script, "fillmore_explore_initial")
	assert.Contains(t, script, "click LIST button on top right")
	assert.Contains(t, script, "2000")
}

func TestSynthesizeJobDefinition(t *testing.T) {
	job := Synthesize("great-american", "https://example.com/calendar", []string{
		"click LIST view button",
	})

	assert.Contains(t, job, "https://example.com/calendar")
	assert.Contains(t, job, "click LIST view button")
	assert.Contains(t, job, "extractEventsFromPage")
}
