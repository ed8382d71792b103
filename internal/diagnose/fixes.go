// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package diagnose

import (
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/scraperfleet/scraperfleet/internal/jobs"
	"github.com/scraperfleet/scraperfleet/internal/telemetry"
)

// Fix is a single recommended remediation, ranked by confidence.
type Fix struct {
	Priority    int     `json:"priority"`
	Action      string  `json:"action"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale,omitempty"`
}

// recommend fills in RecommendedFixes and the overall Confidence based on
// the classified category and the source's code profile. Fixes are always
// ordered by descending confidence.
func (e *Engine) recommend(report *Report) {
	switch report.Category {
	case CategoryDependencyMissing:
		report.Confidence = 0.9
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "fix_runtime_path",
				Description: "Run the job with the project runtime instead of the system one",
				Confidence:  0.9,
			},
			{
				Priority:    2,
				Action:      "install_dependency",
				Description: "Install the missing helper module into the runtime environment",
				Confidence:  0.7,
			},
		}

	case CategoryButtonNotFound:
		report.Confidence = 0.85
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "fix_button_selector_case",
				Description: "Switch the button selector to a case-insensitive regex (text=/.../i)",
				Confidence:  0.85,
			},
			{
				Priority:    2,
				Action:      "take_screenshot_and_inspect",
				Description: "Capture a screenshot to verify the button text and placement",
				Confidence:  0.7,
			},
		}

	case CategoryNavigationTimeout:
		report.Confidence = 0.9
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "increase_navigation_timeout",
				Description: "Raise the goto timeout to 60s and wait for domcontentloaded only",
				Confidence:  0.9,
			},
			{
				Priority:    2,
				Action:      "add_retry_on_timeout",
				Description: "Retry the navigation up to 3 times before giving up",
				Confidence:  0.7,
			},
		}

	case CategorySessionCrash:
		e.recommendForSessionCrash(report)

	case CategoryEmptyResults:
		report.Confidence = 0.5
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "increase_wait_times",
				Description: "Wait longer after navigation and interaction before extracting",
				Confidence:  0.6,
			},
			{
				Priority:    2,
				Action:      "check_page_structure",
				Description: "Inspect the page - the layout or selectors may have changed",
				Confidence:  0.5,
			},
		}

	case CategoryStaleData:
		report.Confidence = 0.4
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "rerun_scraper",
				Description: "Re-run the job to refresh its events",
				Confidence:  0.4,
			},
		}

	case CategorySiteBlocked:
		report.Confidence = 0.5
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "wait_and_retry_later",
				Description: "Back off and retry after the block window passes",
				Confidence:  0.5,
			},
			{
				Priority:    2,
				Action:      "manual_review_blocking",
				Description: "Review the blocking mechanism manually - may need a different approach",
				Confidence:  0.3,
			},
		}

	case CategoryPageNotFound:
		report.Confidence = 0.7
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "verify_page_url",
				Description: "Check whether the events page moved and update the configured URL",
				Confidence:  0.7,
			},
		}

	default:
		report.Confidence = 0.2
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "manual_investigation",
				Description: "No known signature matched - needs a human look",
				Confidence:  0.2,
			},
		}
	}

	sortFixes(report.RecommendedFixes)
}

// recommendForSessionCrash tailors the crash remediation to the
// interaction strategy. Scripted observe/act clicks are the most fragile;
// direct DOM clicks less so.
func (e *Engine) recommendForSessionCrash(report *Report) {
	switch report.Profile.Code.Strategy {
	case jobs.StrategyClickScripted:
		report.Confidence = 0.7
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "use_direct_dom_click",
				Description: "Replace observe/act clicking with a direct DOM click helper",
				Confidence:  0.7,
				Rationale:   "Scripted AI clicks are the least stable interaction path",
			},
			{
				Priority:    2,
				Action:      "extract_before_pagination",
				Description: "Extract visible events before paginating so a crash loses nothing",
				Confidence:  0.7,
			},
			{
				Priority:    3,
				Action:      "switch_to_scroll",
				Description: "Switch pagination to scroll-based loading if the site supports it",
				Confidence:  0.6,
			},
		}
	case jobs.StrategyClickDirect:
		report.Confidence = 0.7
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "extract_before_pagination",
				Description: "Extract visible events before paginating so a crash loses nothing",
				Confidence:  0.8,
			},
			{
				Priority:    2,
				Action:      "add_session_recovery",
				Description: "Re-open the page and resume after a mid-run session loss",
				Confidence:  0.6,
			},
			{
				Priority:    3,
				Action:      "switch_to_scroll",
				Description: "Switch pagination to scroll-based loading if the site supports it",
				Confidence:  0.5,
			},
		}
	default:
		report.Confidence = 0.4
		report.RecommendedFixes = []Fix{
			{
				Priority:    1,
				Action:      "investigate_session_crash",
				Description: "Session died without interaction - inspect the session timeline",
				Confidence:  0.4,
			},
		}
	}
}

// EnrichWithTelemetry folds browser session telemetry into an existing
// report. Hard evidence from the session outranks output heuristics: a
// click-strategy job whose session never scrolled or clicked gets a
// high-confidence interaction fix pushed to the top.
func EnrichWithTelemetry(report *Report, analysis *telemetry.Analysis) {
	if analysis == nil || len(analysis.Issues) == 0 {
		return
	}

	for _, issue := range analysis.Issues {
		report.Observations = append(report.Observations, "Session telemetry: "+issue.Message)

		if issue.Type == telemetry.IssueNoScroll && report.Profile != nil &&
			report.Profile.Code.Strategy == jobs.StrategyScroll {
			report.RecommendedFixes = append(report.RecommendedFixes, Fix{
				Priority:    1,
				Action:      "fix_scroll",
				Description: "Session never scrolled - the scroll helper is not firing",
				Confidence:  0.9,
				Rationale:   "Telemetry shows zero scroll actions for a scroll-strategy job",
			})
			if report.Confidence < 0.9 {
				report.Confidence = 0.9
			}
		}
	}

	sortFixes(report.RecommendedFixes)
	log.Debugf("Telemetry enrichment added %d session issue(s)", len(analysis.Issues))
}

// sortFixes orders fixes by descending confidence, keeping the original
// order for ties, then renumbers priorities.
func sortFixes(fixes []Fix) {
	sort.SliceStable(fixes, func(i, j int) bool {
		return fixes[i].Confidence > fixes[j].Confidence
	})
	for i := range fixes {
		fixes[i].Priority = i + 1
	}
}
