// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSessionID(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			name:   "dashboard url",
			output: "Watch live: https://browserbase.com/sessions/abc-123-def",
			want:   "abc-123-def",
		},
		{
			name:   "session field",
			output: `browserbaseSessionID: "f00dcafe-1234"`,
			want:   "f00dcafe-1234",
		},
		{
			name:   "plain label",
			output: "Session ID: 9876-aaaa",
			want:   "9876-aaaa",
		},
		{
			name:   "no session",
			output: "Scraped 40 events",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSessionID(tt.output))
		})
	}
}

func TestSessionDiagnosticsFetch(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		fmt.Fprint(w, `{
			"analysis": {
				"totalEvents": 120,
				"summary": {
					"hasScrolled": true,
					"scrollCount": 8,
					"clickCount": 2,
					"errorCount": 1,
					"sessionDuration": 42.5
				},
				"navigations": [{"url": "https://example.com/events"}]
			},
			"recommendations": [
				{"action": "verify_clicks", "description": "Click count low", "priority": 2}
			]
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	d, err := c.SessionDiagnostics(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/sessions/sess-1/diagnostics", gotPath)
	assert.Equal(t, 120, d.TotalEvents)
	assert.True(t, d.HasScrolled)
	assert.Equal(t, 8, d.ScrollCount)
	assert.Equal(t, 2, d.ClickCount)
	assert.Equal(t, 1, d.ErrorCount)
	assert.InDelta(t, 42.5, d.SessionDuration, 0.001)
	assert.Equal(t, []string{"https://example.com/events"}, d.Navigations)
	require.Len(t, d.Recommendations, 1)
	assert.Equal(t, "verify_clicks", d.Recommendations[0].Action)
}

func TestSessionDiagnosticsEmptyID(t *testing.T) {
	c := NewClient("http://localhost:1", "", time.Second)
	d, err := c.SessionDiagnostics(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestSessionDiagnosticsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.SessionDiagnostics(context.Background(), "sess-1")
	assert.Error(t, err)
}

func TestAnalyzeForHealing(t *testing.T) {
	tests := []struct {
		name       string
		diag       *SessionDiagnostics
		wantIssues []string
	}{
		{
			name: "no scroll",
			diag: &SessionDiagnostics{SessionID: "s", HasScrolled: false, SessionDuration: 30},
			wantIssues: []string{IssueNoScroll},
		},
		{
			name: "insufficient scroll",
			diag: &SessionDiagnostics{SessionID: "s", HasScrolled: true, ScrollCount: 2, SessionDuration: 30},
			wantIssues: []string{IssueInsufficientScroll},
		},
		{
			name: "click failure with errors",
			diag: &SessionDiagnostics{SessionID: "s", HasScrolled: true, ScrollCount: 5, ClickCount: 1, ErrorCount: 2, SessionDuration: 30},
			wantIssues: []string{IssueClickFailure, IssueSessionErrors},
		},
		{
			name: "early crash",
			diag: &SessionDiagnostics{SessionID: "s", HasScrolled: true, ScrollCount: 4, ErrorCount: 1, SessionDuration: 3},
			wantIssues: []string{IssueSessionCrash, IssueSessionErrors},
		},
		{
			name:       "healthy session",
			diag:       &SessionDiagnostics{SessionID: "s", HasScrolled: true, ScrollCount: 10, SessionDuration: 60},
			wantIssues: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AnalyzeForHealing(tt.diag)
			require.NotNil(t, a)
			var got []string
			for _, issue := range a.Issues {
				got = append(got, issue.Type)
			}
			assert.Equal(t, tt.wantIssues, got)
		})
	}
}

func TestAnalyzeForHealingNilDiagnostics(t *testing.T) {
	assert.Nil(t, AnalyzeForHealing(nil))
}

func TestAnalyzeForHealingRecommendationsSorted(t *testing.T) {
	d := &SessionDiagnostics{
		SessionID:       "s",
		HasScrolled:     false,
		SessionDuration: 30,
		Recommendations: []Recommendation{
			{Action: "late", Priority: 3},
			{Action: "early", Priority: 2},
		},
	}
	a := AnalyzeForHealing(d)
	require.NotNil(t, a)
	require.GreaterOrEqual(t, len(a.Recommendations), 3)
	for i := 1; i < len(a.Recommendations); i++ {
		assert.LessOrEqual(t, a.Recommendations[i-1].Priority, a.Recommendations[i].Priority)
	}
	// The no-scroll verification comes first
	assert.Equal(t, "verify_scroll", a.Recommendations[0].Action)
}
