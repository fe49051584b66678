package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultBaseURL    = "https://api.tavily.com"
	defaultTimeout    = 30 * time.Second
	defaultMaxResults = 5
)

// ErrEmptyQuery is returned when Search is called with a blank query.
var ErrEmptyQuery = errors.New("search query must not be empty")

// Client calls a web search API and aggregates results into plain text.
type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// NewClient creates a search client with the given API key.
// maxResults <= 0 defaults to 5.
func NewClient(apiKey string, maxResults int) *Client {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		maxResults: maxResults,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey string, maxResults int, baseURL string) *Client {
	c := NewClient(apiKey, maxResults)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// searchRequest is the JSON body for POST /search.
type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// searchResponse mirrors the JSON returned by POST /search.
type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Search runs the query and returns the aggregated text of up to maxResults
// results, each rendered as a Title/Content/URL block. An empty query fails
// with ErrEmptyQuery before any network call.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}

	body, err := json.Marshal(searchRequest{
		APIKey:     c.apiKey,
		Query:      query,
		MaxResults: c.maxResults,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("search: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding search response: %w", err)
	}

	return aggregate(result.Results), nil
}

// aggregate renders results as Title/Content/URL blocks separated by "---".
func aggregate(results []searchResult) string {
	if len(results) == 0 {
		return "No results found."
	}

	blocks := make([]string, len(results))
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "N/A"
		}
		content := stripHTML(r.Content)
		if content == "" {
			content = "N/A"
		}
		url := r.URL
		if url == "" {
			url = "N/A"
		}
		blocks[i] = fmt.Sprintf("Title: %s\nContent: %s\nURL: %s", title, content, url)
	}
	return strings.Join(blocks, "\n---\n")
}

// stripHTML removes markup from result snippets; some providers return HTML
// fragments in content fields.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return strings.TrimSpace(s)
	}

	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			sb.Write(tokenizer.Text())
		}
	}
	return strings.TrimSpace(sb.String())
}
