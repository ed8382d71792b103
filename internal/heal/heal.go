// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package heal maps detected issues to remediation actions. The catalog is
// a pure dispatch table: side-effecting entries apply a named source
// transformation and report whether the file actually changed, and an
// inapplicable fix degrades to escalation rather than erroring.
package heal

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/scraperfleet/scraperfleet/internal/config"
	"github.com/scraperfleet/scraperfleet/internal/jobs"
	"github.com/scraperfleet/scraperfleet/internal/patch"
)

// IssueType tags a detected problem with a job run.
type IssueType string

// Known issue types, from the output markers, store validation, and
// session telemetry that detect them.
const (
	IssueStaleData            IssueType = "stale_data"
	IssueWrongYear            IssueType = "wrong_year"
	IssueEmptyResults         IssueType = "empty_results"
	IssueURLExtractionFailed  IssueType = "url_extraction_failed"
	IssueTimeExtractionFailed IssueType = "time_extraction_failed"
	IssuePaginationIncomplete IssueType = "pagination_incomplete"
	IssueBrowserCrashed       IssueType = "browser_session_crashed"
	IssueLowEventCount        IssueType = "low_event_count"
	IssueSiteBlocked          IssueType = "site_blocked"
	IssuePageNotFound         IssueType = "page_not_found"
	IssueUnknown              IssueType = "unknown"
)

// FixActionType is what the runner should do after a healing attempt.
type FixActionType string

const (
	// ActionRetry re-runs the job after a short delay.
	ActionRetry FixActionType = "retry"
	// ActionSkip ends the episode as a known limitation, not a failure.
	ActionSkip FixActionType = "skip"
	// ActionEscalate hands the job to a human (possibly via exploration).
	ActionEscalate FixActionType = "escalate"
	// ActionFixed records that a patch landed and no re-run is needed.
	ActionFixed FixActionType = "fixed"
)

// HealingAction is the outcome of one catalog dispatch.
type HealingAction struct {
	Issue       IssueType     `json:"issue"`
	Action      FixActionType `json:"action"`
	Description string        `json:"description"`
	Applied     bool          `json:"applied"`
}

// Catalog dispatches issues to remediations. It never returns an error;
// a remediation that cannot be applied degrades to escalate.
type Catalog struct {
	registry  *jobs.Registry
	baselines *config.Baselines
}

// NewCatalog creates a healing catalog over the given job registry and
// baseline config.
func NewCatalog(registry *jobs.Registry, baselines *config.Baselines) *Catalog {
	return &Catalog{registry: registry, baselines: baselines}
}

// Apply selects and executes the remediation for an issue.
func (c *Catalog) Apply(source string, issue IssueType) HealingAction {
	switch issue {
	case IssueBrowserCrashed:
		// Crashes are transient until proven otherwise, but hardening the
		// job first makes the retry count.
		desc := "Browser crashed - will retry"
		applied := c.applyPatch(source, patch.ExtractBeforePaginate{}) ||
			c.applyPatch(source, patch.NavigationHardening{})
		if applied {
			desc = "Hardened navigation and pagination - will retry"
		}
		return HealingAction{Issue: issue, Action: ActionRetry, Description: desc, Applied: applied}

	case IssueEmptyResults:
		return HealingAction{
			Issue:       issue,
			Action:      ActionRetry,
			Description: "Empty results - will retry with fresh session",
		}

	case IssueWrongYear:
		if c.applyPatch(source, patch.NewYearRollover()) {
			return HealingAction{
				Issue:       issue,
				Action:      ActionRetry,
				Description: fmt.Sprintf("Auto-fixed hardcoded year in %s", c.registry.Path(source)),
				Applied:     true,
			}
		}
		return HealingAction{
			Issue:       issue,
			Action:      ActionEscalate,
			Description: "Year extraction issue - could not auto-fix, manual intervention needed",
		}

	case IssueStaleData:
		return HealingAction{
			Issue:       issue,
			Action:      ActionRetry,
			Description: "Stale data detected - will re-scrape",
		}

	case IssueURLExtractionFailed:
		return HealingAction{
			Issue:       issue,
			Action:      ActionEscalate,
			Description: "URL extraction failing - fixes require manual code changes",
		}

	case IssueTimeExtractionFailed:
		marked, err := c.baselines.MarkTimesUnavailable(source)
		desc := "Time extraction not available - could not update baselines"
		if err == nil {
			if marked {
				desc = fmt.Sprintf("Time extraction not available - marked %s as times_available: false in baselines", source)
			} else {
				desc = "Time extraction not available - already recorded as a known limitation"
			}
		} else {
			log.Warnf("Failed to update baselines for %s: %v", source, err)
		}
		return HealingAction{Issue: issue, Action: ActionSkip, Description: desc, Applied: marked}

	case IssuePaginationIncomplete:
		if c.applyPatch(source, patch.PaginationLimit{}) {
			return HealingAction{
				Issue:       issue,
				Action:      ActionRetry,
				Description: fmt.Sprintf("Increased pagination clicks in %s", c.registry.Path(source)),
				Applied:     true,
			}
		}
		return HealingAction{
			Issue:       issue,
			Action:      ActionEscalate,
			Description: "Pagination issue - could not find pagination settings to modify",
		}

	case IssueLowEventCount:
		return HealingAction{
			Issue:       issue,
			Action:      ActionRetry,
			Description: "Low event count - will retry",
		}

	case IssueSiteBlocked:
		return HealingAction{
			Issue:       issue,
			Action:      ActionEscalate,
			Description: "Site is blocking automated access - needs manual review",
		}

	case IssuePageNotFound:
		return HealingAction{
			Issue:       issue,
			Action:      ActionEscalate,
			Description: "Target page no longer exists - URL needs updating",
		}

	default:
		return HealingAction{
			Issue:       issue,
			Action:      ActionEscalate,
			Description: "Unknown issue - needs manual review",
		}
	}
}

// applyPatch runs a transformation against the job file, logging but
// swallowing failures. Healing is best effort.
func (c *Catalog) applyPatch(source string, t patch.Transformation) bool {
	changed, err := patch.ApplyToFile(c.registry.Path(source), t)
	if err != nil {
		log.Warnf("Patch %s failed for %s: %v", t.Name(), source, err)
		return false
	}
	return changed
}
