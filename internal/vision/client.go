// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package vision analyzes page screenshots through a vision-capable model.
// The exploratory prober uses it to understand what a page shows and which
// interactions might reveal more events.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// InteractiveElement is a clickable element the model identified.
type InteractiveElement struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Location string `json:"location"`
	Purpose  string `json:"purpose"`
}

// RecommendedAction is a single suggested interaction.
type RecommendedAction struct {
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	Priority int    `json:"priority"`
}

// PageAnalysis is the structured result of screenshot analysis.
type PageAnalysis struct {
	CurrentView         string               `json:"current_view"`
	EventsVisible       int                  `json:"events_visible"`
	InteractiveElements []InteractiveElement `json:"interactive_elements"`
	RecommendedActions  []RecommendedAction  `json:"recommended_actions"`
	SuggestedSequence   []string             `json:"suggested_sequence"`
	RawAnalysis         string               `json:"raw_analysis,omitempty"`
}

// Client calls an OpenAI-compatible chat completions endpoint with
// screenshot attachments.
type Client struct {
	endpoint   string
	model      string
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

// NewClient creates a vision client.
func NewClient(endpoint, model, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if model == "" {
		model = "gpt-4o"
	}
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chatRequest is an OpenAI-compatible chat completion request with
// multimodal content parts.
type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// AnalyzeScreenshot sends a screenshot to the vision model and parses the
// structured page analysis out of the reply. Any failure degrades to an
// empty analysis; exploration continues without vision guidance rather
// than aborting.
func (c *Client) AnalyzeScreenshot(ctx context.Context, screenshotPath, pageContext string) *PageAnalysis {
	imageData, err := os.ReadFile(screenshotPath)
	if err != nil {
		log.Warnf("Failed to read screenshot %s: %v", screenshotPath, err)
		return &PageAnalysis{}
	}

	encoded := base64.StdEncoding.EncodeToString(imageData)
	prompt := buildAnalysisPrompt(pageContext)

	response, err := c.callModel(ctx, encoded, prompt)
	if err != nil {
		log.Warnf("Vision analysis failed: %v", err)
		return &PageAnalysis{}
	}

	return parseAnalysis(response)
}

// buildAnalysisPrompt creates the screenshot analysis prompt.
func buildAnalysisPrompt(pageContext string) string {
	if pageContext == "" {
		pageContext = "Looking for events to scrape"
	}
	return fmt.Sprintf(`Analyze this screenshot of an events/calendar page.

Context: %s

Please identify:

1. **Current Page State**: What view is shown? (calendar grid, list view, etc.)

2. **Interactive Elements**: List ALL clickable elements you see:
   - Buttons (especially "List", "Grid", "Calendar", "Load More", "Show More")
   - Navigation arrows (left/right, prev/next month)
   - Tabs or view switchers
   - Date pickers or filters

3. **Events Visible**: How many events can you see on the page right now?

4. **Recommended Actions**: What should we click to:
   a) Switch to a better view for scraping (e.g., list view)
   b) Load more events (pagination, arrows)
   c) Navigate to see future events

5. **Suggested Click Sequence**: Give a specific sequence of actions to get all events.
   Format each action as: "click [description of element]"

Return your analysis as JSON:
{
  "current_view": "description of current view",
  "events_visible": number,
  "interactive_elements": [
    {"type": "button/link/tab", "text": "visible text", "location": "top-right/bottom/etc", "purpose": "what it does"}
  ],
  "recommended_actions": [
    {"action": "click [element]", "reason": "why this helps", "priority": 1-3}
  ],
  "suggested_sequence": [
    "click LIST button on top right",
    "click right arrow to go to next month",
    "repeat arrow clicks for more months"
  ]
}`, pageContext)
}

// callModel posts the screenshot and prompt to the chat completions API.
func (c *Client) callModel(ctx context.Context, imageBase64, prompt string) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("vision endpoint not configured")
	}

	reqBody := chatRequest{
		Model:     c.model,
		MaxTokens: 2000,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{
						Type: "image_url",
						ImageURL: &imageURL{
							URL: "data:image/png;base64," + imageBase64,
						},
					},
					{
						Type: "text",
						Text: prompt,
					},
				},
			},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// parseAnalysis extracts a PageAnalysis from free-text model output. When
// no parseable JSON object is present, the raw text is preserved and the
// structured fields stay empty.
func parseAnalysis(response string) *PageAnalysis {
	jsonStr := extractJSON(response)

	if !gjson.Valid(jsonStr) {
		return &PageAnalysis{RawAnalysis: response}
	}

	a := &PageAnalysis{
		CurrentView:   gjson.Get(jsonStr, "current_view").String(),
		EventsVisible: int(gjson.Get(jsonStr, "events_visible").Int()),
	}

	gjson.Get(jsonStr, "interactive_elements").ForEach(func(_, el gjson.Result) bool {
		a.InteractiveElements = append(a.InteractiveElements, InteractiveElement{
			Type:     el.Get("type").String(),
			Text:     el.Get("text").String(),
			Location: el.Get("location").String(),
			Purpose:  el.Get("purpose").String(),
		})
		return true
	})

	gjson.Get(jsonStr, "recommended_actions").ForEach(func(_, rec gjson.Result) bool {
		a.RecommendedActions = append(a.RecommendedActions, RecommendedAction{
			Action:   rec.Get("action").String(),
			Reason:   rec.Get("reason").String(),
			Priority: int(rec.Get("priority").Int()),
		})
		return true
	})

	gjson.Get(jsonStr, "suggested_sequence").ForEach(func(_, s gjson.Result) bool {
		a.SuggestedSequence = append(a.SuggestedSequence, s.String())
		return true
	})

	return a
}

// extractJSON attempts to extract a JSON object from a string that may
// contain extra text.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

var waitActionRe = regexp.MustCompile(`^wait \d+$`)

// ValidateActions filters a suggested action list down to the closed
// vocabulary the probe generator understands: "click <description>",
// "wait <ms>", and "scroll". Anything else the model invents is dropped.
func ValidateActions(actions []string) []string {
	var valid []string
	for _, action := range actions {
		a := strings.TrimSpace(action)
		lower := strings.ToLower(a)
		switch {
		case strings.HasPrefix(lower, "click ") && len(a) > len("click "):
			valid = append(valid, a)
		case waitActionRe.MatchString(lower):
			valid = append(valid, lower)
		case lower == "scroll":
			valid = append(valid, lower)
		default:
			log.Debugf("Dropping unsupported exploration action: %q", action)
		}
	}
	return valid
}
