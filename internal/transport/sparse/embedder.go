package sparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/kbpipe/internal/domain"
	"github.com/kailas-cloud/kbpipe/internal/metrics"
)

const providerName = "sparse"

// Embedder is a sparse embedding provider speaking the Pinecone-style
// inference API. It implements domain.SparseEmbedder.
type Embedder struct {
	httpClient   *http.Client
	url          string
	apiKey       string
	model        string
	maxBatchSize int
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// Config holds the sparse provider settings.
type Config struct {
	URL               string
	APIKey            string
	Model             string
	MaxBatchSize      int
	RequestsPerMinute int
	Timeout           time.Duration
	Logger            *zap.Logger
}

// NewEmbedder creates a sparse embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 96
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Embedder{
		httpClient:   &http.Client{Timeout: timeout},
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		maxBatchSize: maxBatch,
		limiter:      limiter,
		logger:       logger,
	}
}

// MaxBatchSize implements domain.SparseEmbedder.
func (e *Embedder) MaxBatchSize() int {
	return e.maxBatchSize
}

type embedRequest struct {
	Model      string            `json:"model"`
	Inputs     []embedInput      `json:"inputs"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type embedInput struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Data []struct {
		SparseIndices []uint32  `json:"sparse_indices"`
		SparseValues  []float32 `json:"sparse_values"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Detail string `json:"detail"`
}

// EmbedSparse implements domain.SparseEmbedder. Results come back in input
// order with indices sorted ascending.
func (e *Embedder) EmbedSparse(ctx context.Context, texts []string, task domain.TaskType) ([]domain.SparseVector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > e.maxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds provider cap %d: %w",
			len(texts), e.maxBatchSize, domain.ErrInvalidRequest)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	inputType := "passage"
	if task == domain.TaskQuery {
		inputType = "query"
	}

	reqBody := embedRequest{
		Model:      e.model,
		Parameters: map[string]string{"input_type": inputType},
	}
	for _, t := range texts {
		reqBody.Inputs = append(reqBody.Inputs, embedInput{Text: t})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal sparse request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build sparse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, "sparse", "error").Inc()
		return nil, fmt.Errorf("sparse embedding request failed: %v: %w", err, domain.ErrProviderUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, "sparse", "error").Inc()
		return nil, fmt.Errorf("read sparse response: %v: %w", err, domain.ErrProviderUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, "sparse", "error").Inc()
		return nil, fmt.Errorf("sparse embedding API error %d: %s: %w",
			resp.StatusCode, errorDetail(body), classifyStatus(resp.StatusCode))
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, "sparse", "error").Inc()
		return nil, fmt.Errorf("decode sparse response: %v: %w", err, domain.ErrProviderUnavailable)
	}

	if len(parsed.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, "sparse", "error").Inc()
		return nil, fmt.Errorf("sparse response has %d vectors for %d inputs: %w",
			len(parsed.Data), len(texts), domain.ErrProviderUnavailable)
	}

	out := make([]domain.SparseVector, len(parsed.Data))
	for i, d := range parsed.Data {
		v := domain.SparseVector{Indices: d.SparseIndices, Values: d.SparseValues}
		if err := validateVector(v); err != nil {
			return nil, fmt.Errorf("sparse vector %d: %w", i, err)
		}
		out[i] = v
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, "sparse", "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, "sparse").Observe(duration.Seconds())

	e.logger.Debug("sparse embedding batch",
		zap.Int("texts", len(texts)),
		zap.String("task", string(task)),
		zap.Duration("duration", duration),
	)

	return out, nil
}

// HealthCheck probes the inference endpoint with a single short input.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	_, err := e.EmbedSparse(ctx, []string{"ping"}, domain.TaskQuery)
	return err
}

// validateVector enforces the index/value pairing contract: equal lengths,
// strictly ascending unique indices.
func validateVector(v domain.SparseVector) error {
	if len(v.Indices) != len(v.Values) {
		return fmt.Errorf("%d indices for %d values: %w",
			len(v.Indices), len(v.Values), domain.ErrProviderUnavailable)
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i] <= v.Indices[i-1] {
			return fmt.Errorf("indices not strictly ascending at %d: %w",
				i, domain.ErrProviderUnavailable)
		}
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrUnauthorized
	case status == http.StatusRequestEntityTooLarge:
		return domain.ErrPayloadTooLarge
	case status >= 500:
		return domain.ErrProviderUnavailable
	default:
		return domain.ErrInvalidRequest
	}
}

func errorDetail(body []byte) string {
	var parsed errorResponse
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Detail != "" {
			return parsed.Detail
		}
	}
	return string(body)
}
