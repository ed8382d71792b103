// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SelectorCaseInsensitive rewrites exact-text button selectors into
// case-insensitive regex selectors. Sites routinely change "Load More" to
// "Load more" and break exact matches.
type SelectorCaseInsensitive struct{}

var (
	textSelectorRe   = regexp.MustCompile(`text=["']([^"']+)["']`)
	buttonSelectorRe = regexp.MustCompile(`(?i)\b(more|load|show|next|view)\b`)
)

func (SelectorCaseInsensitive) Name() string { return "selector_case_insensitive" }

func (SelectorCaseInsensitive) Applies(content string) bool {
	for _, m := range textSelectorRe.FindAllStringSubmatch(content, -1) {
		if buttonSelectorRe.MatchString(m[1]) {
			return true
		}
	}
	return false
}

func (SelectorCaseInsensitive) Apply(content string) (string, bool) {
	changed := false
	out := textSelectorRe.ReplaceAllStringFunc(content, func(sel string) string {
		m := textSelectorRe.FindStringSubmatch(sel)
		if !buttonSelectorRe.MatchString(m[1]) {
			return sel
		}
		changed = true
		return fmt.Sprintf("text=/%s/i", strings.ToLower(regexp.QuoteMeta(m[1])))
	})
	return out, changed
}

// NavigationHardening makes page navigation tolerant of slow sites: the
// goto timeout is raised to 60s and the wait condition relaxed to
// domcontentloaded, which fires long before idle on ad-heavy pages.
type NavigationHardening struct{}

var (
	bareGotoRe    = regexp.MustCompile(`page\.goto\((\s*[^,)]+)\)`)
	gotoTimeoutRe = regexp.MustCompile(`(page\.goto\([^)]*timeout:\s*)(\d+)`)
	networkIdleRe = regexp.MustCompile(`(page\.goto\([^)]*waitUntil:\s*)["']networkidle["']`)
)

const hardenedTimeoutMs = 60000

func (NavigationHardening) Name() string { return "navigation_hardening" }

func (NavigationHardening) Applies(content string) bool {
	if bareGotoRe.MatchString(content) || networkIdleRe.MatchString(content) {
		return true
	}
	for _, m := range gotoTimeoutRe.FindAllStringSubmatch(content, -1) {
		if ms, err := strconv.Atoi(m[2]); err == nil && ms < hardenedTimeoutMs {
			return true
		}
	}
	return false
}

func (NavigationHardening) Apply(content string) (string, bool) {
	changed := false

	out := bareGotoRe.ReplaceAllStringFunc(content, func(call string) string {
		m := bareGotoRe.FindStringSubmatch(call)
		changed = true
		return fmt.Sprintf(`page.goto(%s, { waitUntil: "domcontentloaded", timeout: %d })`,
			strings.TrimSpace(m[1]), hardenedTimeoutMs)
	})

	out = gotoTimeoutRe.ReplaceAllStringFunc(out, func(call string) string {
		m := gotoTimeoutRe.FindStringSubmatch(call)
		ms, err := strconv.Atoi(m[2])
		if err != nil || ms >= hardenedTimeoutMs {
			return call
		}
		changed = true
		return m[1] + strconv.Itoa(hardenedTimeoutMs)
	})

	out = networkIdleRe.ReplaceAllStringFunc(out, func(call string) string {
		m := networkIdleRe.FindStringSubmatch(call)
		changed = true
		return m[1] + `"domcontentloaded"`
	})

	return out, changed
}

// ExtractBeforePaginate wraps the pagination loop in a try/catch so that a
// session crash mid-pagination still leaves the already-loaded events
// available to the extraction step that follows.
type ExtractBeforePaginate struct{}

var paginationCallRe = regexp.MustCompile(`(?m)^([ \t]*)((?:const\s+\w+\s*=\s*)?await clickButtonUntilGone\([^;]*;)`)

const paginationGuardMarker = "Pagination failed, extracting what loaded"

func (ExtractBeforePaginate) Name() string { return "extract_before_paginate" }

func (ExtractBeforePaginate) Applies(content string) bool {
	return paginationCallRe.MatchString(content) &&
		!strings.Contains(content, paginationGuardMarker)
}

func (ExtractBeforePaginate) Apply(content string) (string, bool) {
	if strings.Contains(content, paginationGuardMarker) {
		return content, false
	}
	changed := false
	out := paginationCallRe.ReplaceAllStringFunc(content, func(stmt string) string {
		m := paginationCallRe.FindStringSubmatch(stmt)
		indent, call := m[1], m[2]
		changed = true
		return fmt.Sprintf("%stry {\n%s  %s\n%s} catch (err) {\n%s  console.log(\"%s:\", err.message);\n%s}",
			indent, indent, call, indent, indent, paginationGuardMarker, indent)
	})
	return out, changed
}

// LongerWaits bumps fixed post-interaction waits by two seconds, capped at
// ten. Helps pages whose content lands late without rewriting the job's
// structure.
type LongerWaits struct{}

var waitTimeoutRe = regexp.MustCompile(`(waitForTimeout\()(\d+)(\))`)

const (
	waitBumpMs = 2000
	waitCapMs  = 10000
)

func (LongerWaits) Name() string { return "longer_waits" }

func (LongerWaits) Applies(content string) bool {
	for _, m := range waitTimeoutRe.FindAllStringSubmatch(content, -1) {
		if ms, err := strconv.Atoi(m[2]); err == nil && ms < waitCapMs {
			return true
		}
	}
	return false
}

func (LongerWaits) Apply(content string) (string, bool) {
	changed := false
	out := waitTimeoutRe.ReplaceAllStringFunc(content, func(call string) string {
		m := waitTimeoutRe.FindStringSubmatch(call)
		ms, err := strconv.Atoi(m[2])
		if err != nil || ms >= waitCapMs {
			return call
		}
		ms += waitBumpMs
		if ms > waitCapMs {
			ms = waitCapMs
		}
		changed = true
		return m[1] + strconv.Itoa(ms) + m[3]
	})
	return out, changed
}

// PaginationLimit raises pagination click/page caps by five. Sources grow;
// a limit tuned last season silently truncates this season's listings.
type PaginationLimit struct{}

var (
	paginationVarRe     = regexp.MustCompile(`((?:maxClicks|maxPages|max_clicks|max_pages)\s*[:=]\s*)(\d+)`)
	clickUntilGoneArgRe = regexp.MustCompile(`(clickButtonUntilGone\([^)]*?)(\d+)(\s*\))`)
)

const paginationBump = 5

func (PaginationLimit) Name() string { return "pagination_limit" }

func (PaginationLimit) Applies(content string) bool {
	return paginationVarRe.MatchString(content) || clickUntilGoneArgRe.MatchString(content)
}

func (PaginationLimit) Apply(content string) (string, bool) {
	changed := false
	bump := func(prefix, num, suffix string) string {
		n, err := strconv.Atoi(num)
		if err != nil {
			return prefix + num + suffix
		}
		changed = true
		return prefix + strconv.Itoa(n+paginationBump) + suffix
	}

	out := paginationVarRe.ReplaceAllStringFunc(content, func(call string) string {
		m := paginationVarRe.FindStringSubmatch(call)
		return bump(m[1], m[2], "")
	})
	out = clickUntilGoneArgRe.ReplaceAllStringFunc(out, func(call string) string {
		m := clickUntilGoneArgRe.FindStringSubmatch(call)
		return bump(m[1], m[2], m[3])
	})
	return out, changed
}

// YearRollover replaces stale hardcoded years in date handling with a
// runtime-computed year: stale literals become ${currentYear} placeholders
// and a currentYear declaration is injected ahead of the extraction call.
// Jobs written in December with a literal year start producing past-dated
// events in January; after this patch they never go stale again.
type YearRollover struct {
	now func() time.Time
}

// NewYearRollover creates a YearRollover using the wall clock.
func NewYearRollover() YearRollover {
	return YearRollover{now: time.Now}
}

// NewYearRolloverAt creates a YearRollover with a fixed time source.
func NewYearRolloverAt(now func() time.Time) YearRollover {
	return YearRollover{now: now}
}

var (
	yearLiteralRe   = regexp.MustCompile(`\b(20\d{2})\b`)
	dateContextRe   = regexp.MustCompile(`(?i)(date|year|january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec)`)
	extractAnchorRe = regexp.MustCompile(`(?m)^([ \t]*)((?:const|let|var)\s+\w+\s*=\s*await extractEventsFromPage\()`)
)

const dynamicYearDecl = "const currentYear = new Date().getFullYear();"

func (YearRollover) Name() string { return "year_rollover" }

func (t YearRollover) Applies(content string) bool {
	if strings.Contains(content, "getFullYear()") {
		// Already computes the year at runtime
		return false
	}
	if !extractAnchorRe.MatchString(content) {
		// Nowhere to scope the declaration; leave the job alone
		return false
	}
	_, changed := t.rewriteStaleYears(content)
	return changed
}

func (t YearRollover) Apply(content string) (string, bool) {
	if strings.Contains(content, "getFullYear()") {
		return content, false
	}

	out, changed := t.rewriteStaleYears(content)
	if !changed {
		return content, false
	}

	injected := false
	out = extractAnchorRe.ReplaceAllStringFunc(out, func(stmt string) string {
		if injected {
			return stmt
		}
		injected = true
		m := extractAnchorRe.FindStringSubmatch(stmt)
		return m[1] + dynamicYearDecl + "\n" + m[1] + m[2]
	})
	if !injected {
		return content, false
	}
	return out, true
}

// rewriteStaleYears swaps recent-but-stale year literals on date-context
// lines for the ${currentYear} placeholder.
func (t YearRollover) rewriteStaleYears(content string) (string, bool) {
	currentYear := t.now().Year()
	changed := false

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !dateContextRe.MatchString(line) {
			continue
		}
		lines[i] = yearLiteralRe.ReplaceAllStringFunc(line, func(y string) string {
			n, err := strconv.Atoi(y)
			if err != nil || n >= currentYear || n < currentYear-2 {
				// Years far in the past are likely copyright notices or
				// IDs, not rollover bugs.
				return y
			}
			changed = true
			return "${currentYear}"
		})
	}

	if !changed {
		return content, false
	}
	return strings.Join(lines, "\n"), true
}
