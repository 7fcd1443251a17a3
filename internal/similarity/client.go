// Package similarity is the client of the external semantic similarity service.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"helpdesk/backend/internal/config"

	"github.com/go-resty/resty/v2"
)

// Reference is one candidate text the query is compared against.
type Reference struct {
	ID       uint   `json:"id"`
	Text     string `json:"text"`
	Priority int    `json:"priority"`
}

// Match is a reference that scored at or above the threshold.
type Match struct {
	ID    uint    `json:"id"`
	Score float64 `json:"score"`
}

type SimilarityRequest struct {
	Query      string      `json:"query"`
	References []Reference `json:"references"`
	Threshold  float64     `json:"threshold"`
}

type SimilarityResponse struct {
	Matches      []Match `json:"matches"`
	TotalChecked int     `json:"total_checked"`
	Threshold    float64 `json:"threshold"`
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// ErrNotConfigured is returned by a client without a base URL.
var ErrNotConfigured = errors.New("similarity service is not configured")

// Client calls the scorer's /health, /embed and /similarity endpoints.
type Client struct {
	baseURL    string
	httpClient *resty.Client
}

// NewClient returns a client for baseURL. Per-call timeouts come from the request context.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "helpdesk-autoreply/1.0")

	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// IsEnabled reports whether the client has somewhere to call.
func (c *Client) IsEnabled() bool {
	return c != nil && c.baseURL != ""
}

// Health probes the service.
func (c *Client) Health(ctx context.Context) error {
	if !c.IsEnabled() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, config.ScorerHealthTimeout)
	defer cancel()

	resp, err := c.httpClient.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("similarity health request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("similarity health error (%d)", resp.StatusCode())
	}
	return nil
}

// Embed returns one vector per text, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if !c.IsEnabled() {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, config.ScorerEmbedTimeout)
	defer cancel()

	var out embedResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(embedRequest{Texts: texts}).
		SetResult(&out).
		Post("/embed")
	if err != nil {
		return nil, fmt.Errorf("similarity embed request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("similarity embed error (%d): %s", resp.StatusCode(), resp.String())
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("similarity embed returned %d vectors for %d texts", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

// Similarity scores query against refs.
func (c *Client) Similarity(ctx context.Context, req SimilarityRequest) (*SimilarityResponse, error) {
	if !c.IsEnabled() {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, config.ScorerSimilarityTimeout)
	defer cancel()

	var out SimilarityResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/similarity")
	if err != nil {
		return nil, fmt.Errorf("similarity request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("similarity error (%d): %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}
