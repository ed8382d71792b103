// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry retrieves and analyzes remote browser session logs.
// The session provider records every scroll, click, navigation, and error
// during a job run; this package turns that record into healing signals.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// SessionDiagnostics summarizes a remote browser session.
type SessionDiagnostics struct {
	SessionID       string
	TotalEvents     int
	HasScrolled     bool
	ScrollCount     int
	ClickCount      int
	ErrorCount      int
	SessionDuration float64 // seconds
	Navigations     []string
	Recommendations []Recommendation
}

// Issue is a telemetry-derived finding about a session.
type Issue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Recommendation is a telemetry-derived suggestion.
type Recommendation struct {
	Action      string `json:"action"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// Issue types reported by session analysis.
const (
	IssueNoScroll           = "NO_SCROLL"
	IssueInsufficientScroll = "INSUFFICIENT_SCROLL"
	IssueClickFailure       = "CLICK_FAILURE"
	IssueSessionCrash       = "SESSION_CRASH"
	IssueSessionErrors      = "SESSION_ERRORS"
)

// Client fetches session diagnostics from the session provider API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a telemetry client for the given endpoint.
func NewClient(endpoint, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionDiagnostics fetches the recorded diagnostics for a session.
// Returns nil without error for an empty session ID; telemetry is a
// best-effort signal and its absence never fails a healing episode.
func (c *Client) SessionDiagnostics(ctx context.Context, sessionID string) (*SessionDiagnostics, error) {
	if sessionID == "" {
		return nil, nil
	}
	if c.endpoint == "" {
		return nil, fmt.Errorf("telemetry endpoint not configured")
	}

	url := fmt.Sprintf("%s/sessions/%s/diagnostics", c.endpoint, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("session API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parseDiagnostics(sessionID, string(body)), nil
}

// parseDiagnostics extracts the diagnostics summary from a response body.
// The payload nests the interesting counters under analysis.summary.
func parseDiagnostics(sessionID, body string) *SessionDiagnostics {
	d := &SessionDiagnostics{SessionID: sessionID}

	analysis := gjson.Get(body, "analysis")
	summary := analysis.Get("summary")

	d.TotalEvents = int(analysis.Get("totalEvents").Int())
	d.HasScrolled = summary.Get("hasScrolled").Bool()
	d.ScrollCount = int(summary.Get("scrollCount").Int())
	d.ClickCount = int(summary.Get("clickCount").Int())
	d.ErrorCount = int(summary.Get("errorCount").Int())
	d.SessionDuration = summary.Get("sessionDuration").Float()

	analysis.Get("navigations").ForEach(func(_, nav gjson.Result) bool {
		if url := nav.Get("url").String(); url != "" {
			d.Navigations = append(d.Navigations, url)
		}
		return true
	})

	gjson.Get(body, "recommendations").ForEach(func(_, rec gjson.Result) bool {
		r := Recommendation{
			Action:      rec.Get("action").String(),
			Description: rec.Get("description").String(),
			Priority:    int(rec.Get("priority").Int()),
		}
		if r.Action == "" {
			r.Action = "unknown"
		}
		if r.Priority == 0 {
			r.Priority = 3
		}
		d.Recommendations = append(d.Recommendations, r)
		return true
	})

	return d
}

var sessionIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`browserbase\.com/sessions/([a-zA-Z0-9-]+)`),
	regexp.MustCompile(`browserbaseSessionID["\s:]+([a-zA-Z0-9-]+)`),
	regexp.MustCompile(`Session ID: ([a-zA-Z0-9-]+)`),
}

// ExtractSessionID scans job output for a remote session identifier.
// Returns an empty string when none is present; not every job surfaces one.
func ExtractSessionID(output string) string {
	for _, re := range sessionIDPatterns {
		if m := re.FindStringSubmatch(output); m != nil {
			return m[1]
		}
	}
	return ""
}

// Analysis is the healing-oriented view of a session.
type Analysis struct {
	SessionID       string
	Duration        float64
	ScrollCount     int
	ClickCount      int
	ErrorCount      int
	Issues          []Issue
	Recommendations []Recommendation
}

// AnalyzeForHealing converts session diagnostics into issues and
// prioritized recommendations. Nil diagnostics yields nil.
func AnalyzeForHealing(d *SessionDiagnostics) *Analysis {
	if d == nil {
		return nil
	}

	a := &Analysis{
		SessionID:   d.SessionID,
		Duration:    d.SessionDuration,
		ScrollCount: d.ScrollCount,
		ClickCount:  d.ClickCount,
		ErrorCount:  d.ErrorCount,
	}

	if !d.HasScrolled {
		a.Issues = append(a.Issues, Issue{
			Type:     IssueNoScroll,
			Severity: "high",
			Message:  "No scroll events detected - page content may not have loaded",
		})
		a.Recommendations = append(a.Recommendations, Recommendation{
			Action:      "verify_scroll",
			Description: "Add scroll verification and logging",
			Priority:    1,
		})
	} else if d.ScrollCount < 3 {
		a.Issues = append(a.Issues, Issue{
			Type:     IssueInsufficientScroll,
			Severity: "medium",
			Message:  fmt.Sprintf("Only %d scroll events - may need more scrolling", d.ScrollCount),
		})
	}

	// Zero clicks is normal for scroll-based jobs; a handful of clicks
	// alongside errors is not.
	if d.ClickCount > 0 && d.ClickCount < 3 && d.ErrorCount > 0 {
		a.Issues = append(a.Issues, Issue{
			Type:     IssueClickFailure,
			Severity: "high",
			Message:  fmt.Sprintf("Only %d clicks with %d errors", d.ClickCount, d.ErrorCount),
		})
	}

	if d.SessionDuration < 5 && d.ErrorCount > 0 {
		a.Issues = append(a.Issues, Issue{
			Type:     IssueSessionCrash,
			Severity: "critical",
			Message:  fmt.Sprintf("Session crashed after %.1fs with %d errors", d.SessionDuration, d.ErrorCount),
		})
	}

	if d.ErrorCount > 0 {
		a.Issues = append(a.Issues, Issue{
			Type:     IssueSessionErrors,
			Severity: "medium",
			Message:  fmt.Sprintf("%d errors occurred during session", d.ErrorCount),
		})
	}

	a.Recommendations = append(a.Recommendations, d.Recommendations...)
	sort.SliceStable(a.Recommendations, func(i, j int) bool {
		return a.Recommendations[i].Priority < a.Recommendations[j].Priority
	})

	if len(a.Issues) > 0 {
		log.WithField("session", d.SessionID).Debugf("Telemetry found %d session issues", len(a.Issues))
	}

	return a
}
