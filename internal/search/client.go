// Package search implements the client for the external search/agent API
// (You.com-compatible). It serves three callers: the entity enricher (RAG
// answers), the metadata provider (summaries), and the recommendations
// endpoint (web search).
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	appErrors "tabgraph-backend/pkg/errors"
)

// Result is a single web search hit.
type Result struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Snippet      string `json:"snippet"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Response is the parsed search response.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Client talks to the search/agent API. All calls go through a shared
// circuit breaker: when the upstream is down, callers fail fast instead of
// stacking up 60-second timeouts.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient builds a search client with a fixed request timeout.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "search-api",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Search runs a web search and returns up to numResults hits.
func (c *Client) Search(ctx context.Context, query string, numResults int) (*Response, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("num_web_results", strconv.Itoa(numResults))

	body, err := c.get(ctx, "/search", params)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Hits []struct {
			Title        string `json:"title"`
			URL          string `json:"url"`
			Description  string `json:"description"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, appErrors.NewExternal("malformed search response", err)
	}

	resp := &Response{Query: query}
	for _, hit := range raw.Hits {
		resp.Results = append(resp.Results, Result{
			Title:        hit.Title,
			URL:          hit.URL,
			Snippet:      hit.Description,
			ThumbnailURL: hit.ThumbnailURL,
		})
	}
	return resp, nil
}

// Answer runs a retrieval-augmented query and returns the generated answer
// text. This is the "agent" call used for enrichment and summaries.
func (c *Client) Answer(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("num_web_results", "5")

	body, err := c.get(ctx, "/rag", params)
	if err != nil {
		return "", err
	}

	var raw struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", appErrors.NewExternal("malformed agent response", err)
	}
	return raw.Answer, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("search API returned %d", resp.StatusCode)
		}

		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return buf, nil
	})
	if err != nil {
		return nil, appErrors.NewExternal("search API call failed", err)
	}
	return result.([]byte), nil
}
