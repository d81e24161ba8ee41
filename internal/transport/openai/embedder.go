package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/kbpipe/internal/domain"
	"github.com/kailas-cloud/kbpipe/internal/metrics"
)

const providerName = "openai"

// Embedder is a dense embedding provider using the OpenAI-compatible API.
// It implements domain.DenseEmbedder for batched calls.
type Embedder struct {
	client       *openai.Client
	model        openai.EmbeddingModel
	dimensions   int
	maxBatchSize int
	docPrefix    string
	queryPrefix  string
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// Config holds the dense provider settings.
type Config struct {
	APIKey              string
	BaseURL             string
	Model               string
	Dimensions          int
	MaxBatchSize        int
	RequestsPerMinute   int
	DocumentInstruction string
	QueryInstruction    string
	Logger              *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible dense embedding provider.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 100
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
		client:       openai.NewClientWithConfig(clientCfg),
		model:        openai.EmbeddingModel(cfg.Model),
		dimensions:   cfg.Dimensions,
		maxBatchSize: maxBatch,
		docPrefix:    cfg.DocumentInstruction,
		queryPrefix:  cfg.QueryInstruction,
		limiter:      limiter,
		logger:       logger,
	}
}

// MaxBatchSize implements domain.DenseEmbedder.
func (e *Embedder) MaxBatchSize() int {
	return e.maxBatchSize
}

// EmbedDense implements domain.DenseEmbedder. The caller is responsible for
// keeping len(texts) within MaxBatchSize; results come back in input order.
func (e *Embedder) EmbedDense(ctx context.Context, texts []string, task domain.TaskType) ([][]float32, error) {
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

	input := texts
	if prefix := e.prefixFor(task); prefix != "" {
		input = make([]string, len(texts))
		for i, t := range texts {
			input[i] = prefix + t
		}
	}

	req := openai.EmbeddingRequest{
		Input:          input,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, "dense", "error").Inc()
		return nil, parseAPIError(err)
	}

	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, "dense", "error").Inc()
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs: %w",
			len(resp.Data), len(texts), domain.ErrProviderUnavailable)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(providerName, "dense", "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(providerName, "dense").Observe(duration.Seconds())

	// The API is allowed to reorder data entries; restore input order by Index.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range: %w",
				d.Index, domain.ErrProviderUnavailable)
		}
		out[d.Index] = d.Embedding
	}

	if e.dimensions > 0 {
		for i, v := range out {
			if len(v) != e.dimensions {
				return nil, fmt.Errorf("vector %d has %d dims, expected %d: %w",
					i, len(v), e.dimensions, domain.ErrVectorDimMismatch)
			}
		}
	}

	e.logger.Debug("dense embedding batch",
		zap.Int("texts", len(texts)),
		zap.String("task", string(task)),
		zap.Duration("duration", duration),
	)

	return out, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func (e *Embedder) prefixFor(task domain.TaskType) string {
	if task == domain.TaskQuery {
		return e.queryPrefix
	}
	return e.docPrefix
}

// parseAPIError maps provider failures onto domain sentinels so the retry
// layer can tell transient from permanent.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("embedding API error %d: %s: %w",
			reqErr.HTTPStatusCode, detail, classifyStatus(reqErr.HTTPStatusCode))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, classifyStatus(apiErr.HTTPStatusCode))
	}

	// Network-level failures (connection reset, DNS, timeout) are worth retrying.
	return fmt.Errorf("embedding request failed: %v: %w", err, domain.ErrProviderUnavailable)
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

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
