// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	jsonschema "github.com/swaggest/jsonschema-go"
)

// =============================================================================
// Constants
// =============================================================================

const (
	webSearchToolName = "web_search"

	webSearchDescription = `Search the web for current information.

Use this when you need up-to-date information about:
- Current events, news, weather
- Sports scores and schedules
- Stock prices
- Real-time data

Returns a formatted list of result titles, snippets, and URLs.`

	// Result caps keep one tool result from dominating the prompt.
	webSearchMaxResults   = 5
	webSearchSnippetLimit = 300

	defaultSearchURL = "https://html.duckduckgo.com/html/"
)

// =============================================================================
// Struct Definition
// =============================================================================

// WebSearchInput is the model-decided argument payload for web_search.
type WebSearchInput struct {
	Query string `json:"query" required:"true" description:"The search query"`
}

// WebSearchTool answers queries against DuckDuckGo's HTML endpoint, which
// needs no API key and returns parseable markup.
type WebSearchTool struct {
	httpClient *http.Client
	searchURL  string
	maxResults int
	schema     *jsonschema.Schema
}

// =============================================================================
// Constructor
// =============================================================================

// NewWebSearchTool creates a web search tool with default limits.
func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		searchURL:  defaultSearchURL,
		maxResults: webSearchMaxResults,
		schema:     mustSchema(WebSearchInput{}),
	}
}

// =============================================================================
// Methods
// =============================================================================

func (t *WebSearchTool) GetName() string {
	return webSearchToolName
}

func (t *WebSearchTool) GetDescription() string {
	return webSearchDescription
}

func (t *WebSearchTool) GetParameters() *jsonschema.Schema {
	return t.schema
}

// Execute runs the search and formats the top results for the model.
func (t *WebSearchTool) Execute(ctx context.Context, rc RunContext, args json.RawMessage) (string, error) {
	var input WebSearchInput
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.searchURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "aleutian-agent/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse search results: %w", err)
	}

	results := t.parseResults(doc)
	if len(results) == 0 {
		return fmt.Sprintf("No results found for '%s'.", query), nil
	}

	var sb strings.Builder
	sb.WriteString("Sources:\n")
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, r.title))
		if r.snippet != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", truncate(r.snippet, webSearchSnippetLimit)))
		}
		if r.url != "" {
			sb.WriteString(fmt.Sprintf("   URL: %s\n", r.url))
		}
	}
	return sb.String(), nil
}

// =============================================================================
// Helper Functions
// =============================================================================

type searchResult struct {
	title   string
	snippet string
	url     string
}

func (t *WebSearchTool) parseResults(doc *goquery.Document) []searchResult {
	var results []searchResult
	doc.Find("div.result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		snippet := strings.TrimSpace(sel.Find(".result__snippet").First().Text())
		href, _ := link.Attr("href")

		results = append(results, searchResult{
			title:   title,
			snippet: snippet,
			url:     resolveResultURL(href),
		})
		return len(results) < t.maxResults
	})
	return results
}

// resolveResultURL unwraps DuckDuckGo's redirect links, which carry the
// destination in a uddg query parameter, into the target URL.
func resolveResultURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Tool = (*WebSearchTool)(nil)
