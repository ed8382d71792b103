// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package jobs

import (
	"fmt"
	"regexp"
	"strings"
)

var waitMsRe = regexp.MustCompile(`\d+`)

// titleCase converts a snake_case source name into a display name,
// e.g. "kings_theatre" -> "Kings Theatre".
func titleCase(source string) string {
	words := strings.Split(source, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// funcName converts a source name into a scraper function name,
// e.g. "kings_theatre" -> "scrapeKingsTheatre".
func funcName(source string) string {
	return "scrape" + strings.ReplaceAll(titleCase(source), " ", "")
}

// renderProbeActions converts a discovered action sequence into probe
// script statements. Only the closed action vocabulary is rendered: click
// actions go through the AI interaction layer, waits pause the page, and
// anything else has been filtered out upstream.
func renderProbeActions(source string, actions []string) string {
	var sb strings.Builder
	for i, action := range actions {
		lower := strings.ToLower(action)
		switch {
		case strings.HasPrefix(lower, "click "):
			fmt.Fprintf(&sb, `
    // Action %d: %s
    console.log("Trying action: %s");
    try {
      await page.act("%s");
      await page.waitForTimeout(2000);
      const shot%d = await page.screenshot();
      fs.writeFileSync('screenshots/explore_%s_action%d.png', shot%d);
      console.log("Action %d completed, screenshot saved");
    } catch (e) {
      console.log("Action %d failed:", e.message);
    }
`, i+1, action, action, action, i, source, i, i, i+1, i+1)
		case strings.HasPrefix(lower, "wait "):
			waitMs := 2000
			if m := waitMsRe.FindString(action); m != "" {
				fmt.Sscanf(m, "%d", &waitMs)
			}
			fmt.Fprintf(&sb, `
    // Action %d: %s
    await page.waitForTimeout(%d);
`, i+1, action, waitMs)
		case strings.HasPrefix(lower, "scroll"):
			fmt.Fprintf(&sb, `
    // Action %d: %s
    await scrollToBottom(page);
    await page.waitForTimeout(2000);
`, i+1, action)
		}
	}
	return sb.String()
}

// SynthesizeProbe generates a throwaway exploration script that navigates
// to url, performs the given actions with screenshots around each, then
// attempts extraction and prints an EXPLORATION_RESULT marker.
func SynthesizeProbe(source, url string, actions []string) string {
	return fmt.Sprintf(`
import { initStagehand, createStandardSchema, scrollToBottom, capturePageScreenshot } from '../lib/scraper-utils.js';
import { extractEventsFromPage } from '../lib/scraper-actions.js';
import fs from 'fs';

const StandardEventSchema = createStandardSchema({ eventLocationDefault: '%s' });

async function explore() {
  const stagehand = await initStagehand({ env: 'BROWSERBASE' });
  const page = stagehand.page;

  try {
    console.log("Starting exploration for %s");
    console.log("Session:", stagehand.browserbaseSessionID);

    await page.goto("%s", { waitUntil: 'domcontentloaded', timeout: 60000 });
    await page.waitForTimeout(5000);

    await capturePageScreenshot(page, '%s_explore_initial');
    console.log("Initial screenshot captured");
%s
    await capturePageScreenshot(page, '%s_explore_final');

    console.log("Attempting extraction...");
    const result = await extractEventsFromPage(
      page,
      "Extract all visible events with their names, dates, times, and URLs",
      StandardEventSchema,
      { sourceName: '%s_explore' }
    );

    console.log("Events found:", result.events.length);
    console.log("EXPLORATION_RESULT:", JSON.stringify({
      events_count: result.events.length,
      sample_events: result.events.slice(0, 3)
    }));

    return result;
  } catch (error) {
    console.error("Exploration error:", error.message);
  } finally {
    await stagehand.close();
  }
}

explore();
`, source, source, url, source, renderProbeActions(source, actions), source, source)
}

// renderJobActions converts a discovered action sequence into permanent
// job definition statements. Failed actions log and continue; a partial
// interaction sequence still yields partial data.
func renderJobActions(actions []string) string {
	var sb strings.Builder
	for _, action := range actions {
		if !strings.HasPrefix(strings.ToLower(action), "click ") {
			continue
		}
		fmt.Fprintf(&sb, `
    // %s
    console.log("%s...");
    try {
      await page.act("%s");
      await page.waitForTimeout(2000);
    } catch (e) {
      console.log("Action failed (continuing):", e.message);
    }`, action, action, action)
	}
	return sb.String()
}

// Synthesize generates a complete job definition for source built around a
// discovered interaction pattern. The result follows the same structure as
// hand-written jobs: navigate, interact, scroll, screenshot, extract,
// persist.
func Synthesize(source, url string, actions []string) string {
	display := titleCase(source)
	fn := funcName(source)

	return fmt.Sprintf(`
// Scraper for %s
// Generated from a discovered interaction pattern

import { initStagehand, openBrowserbaseSession, createStandardSchema, scrollToBottom, capturePageScreenshot } from '../lib/scraper-utils.js';
import { extractEventsFromPage } from '../lib/scraper-actions.js';
import { logScrapingResults, saveEventsToDatabase, handleScraperError } from '../lib/scraper-persistence.js';

const StandardEventSchema = createStandardSchema({ eventLocationDefault: '%s' });

export async function %s() {
  const stagehand = await initStagehand({ env: 'BROWSERBASE' });
  const page = stagehand.page;

  try {
    console.log("Stagehand Session Started");
    console.log("Watch live:", stagehand.browserbaseSessionID);
    openBrowserbaseSession(stagehand.browserbaseSessionID);

    await page.goto("%s", {
      waitUntil: 'domcontentloaded',
      timeout: 60000
    });
    await page.waitForTimeout(3000);

    // Discovered interaction pattern:
%s

    await scrollToBottom(page);
    await page.waitForTimeout(2000);

    await capturePageScreenshot(page, '%s');

    const result = await extractEventsFromPage(
      page,
      "Extract all visible events with their names, dates, times (if shown), descriptions, and URLs",
      StandardEventSchema,
      { sourceName: '%s' }
    );

    const events = result.events.map(e => ({
      ...e,
      eventLocation: "%s"
    }));

    logScrapingResults(events, '%s');

    if (events.length > 0) {
      await saveEventsToDatabase(events, '%s');
    }

    return { events };

  } catch (error) {
    await handleScraperError(error, page, '%s');
  } finally {
    await stagehand.close();
  }
}

if (import.meta.url === `+"`file://${process.argv[1]}`"+`) {
  %s();
}

export default %s;
`, display, display, fn, url, renderJobActions(actions), source, source, display, display, source, display, fn, fn)
}
