// Package search wraps the Brave web search API.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lunabot/luna/internal/errors"
)

const (
	defaultBaseURL    = "https://api.search.brave.com/res/v1/web/search"
	defaultMaxResults = 5
	maxResultsHardCap = 10
	defaultTimeout    = 10 * time.Second
)

type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type braveResponse struct {
	Web struct {
		Results []Result `json:"results"`
	} `json:"web"`
}

type Client struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	maxResults int
}

func NewClient(apiKey string, maxResults int) *Client {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxResultsHardCap {
		maxResults = maxResultsHardCap
	}
	return &Client{
		client:     &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		maxResults: maxResults,
	}
}

// Enabled reports whether a key is configured; without one the bot
// hides the search command.
func (c *Client) Enabled() bool { return c.apiKey != "" }

func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.InvalidInput("empty search query")
	}
	if !c.Enabled() {
		return nil, errors.InvalidInput("search is not configured")
	}

	endpoint := fmt.Sprintf("%s?q=%s&count=%d", c.baseURL, url.QueryEscape(query), c.maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "search request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapTransient(fmt.Errorf("status %s", resp.Status), "search request")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}

	var payload braveResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := payload.Web.Results
	if len(results) > c.maxResults {
		results = results[:c.maxResults]
	}
	return results, nil
}

// Format renders results for chat output.
func Format(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results for %q.", query)
	}

	lines := []string{fmt.Sprintf("🔍 Results for %q:", query)}
	for i, r := range results {
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, r.Title, r.URL))
		if r.Description != "" {
			lines = append(lines, "   "+r.Description)
		}
	}
	return strings.Join(lines, "\n")
}
