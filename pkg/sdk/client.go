// Package sdk is a thin HTTP client for the kbpipe service.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a running kbpipe server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithAPIKey sets the Bearer token for authenticated servers.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Ingest requests embed whole documents server-side.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Document is one unit of content to ingest.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DocumentFailure is one document the pipeline skipped.
type DocumentFailure struct {
	DocumentID string `json:"document_id"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
}

// FailedBatch is one store write that permanently failed.
type FailedBatch struct {
	RecordIDs []string `json:"record_ids"`
	Error     string   `json:"error"`
}

// RunReport is the outcome of one ingestion run.
type RunReport struct {
	RunID           string            `json:"run_id"`
	Documents       int               `json:"documents"`
	DocumentsFailed int               `json:"documents_failed"`
	Chunks          int               `json:"chunks"`
	RecordsUpserted int               `json:"records_upserted"`
	RecordsFailed   int               `json:"records_failed"`
	FailedDocuments []DocumentFailure `json:"failed_documents,omitempty"`
	FailedBatches   []FailedBatch     `json:"failed_batches,omitempty"`
}

// Match is a single search hit.
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// Ingest submits documents and returns the pipeline run report.
func (c *Client) Ingest(ctx context.Context, docs []Document) (RunReport, error) {
	var report RunReport
	err := c.post(ctx, "/v1/ingest", map[string]any{"documents": docs}, &report)
	return report, err
}

// Search runs a hybrid query. topK <= 0 uses the server default.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	var resp struct {
		Matches []Match `json:"matches"`
	}
	body := map[string]any{"query": query}
	if topK > 0 {
		body["top_k"] = topK
	}
	if err := c.post(ctx, "/v1/search", body, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// Health reports the server's component health.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Checks, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Health deliberately answers 503 with a parseable body.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kbpipe: server returned %d: %s", e.Status, e.Body)
}
