package search

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kbpipe/internal/domain"
	"github.com/kailas-cloud/kbpipe/internal/metrics"
	"github.com/kailas-cloud/kbpipe/internal/normalize"
	"github.com/kailas-cloud/kbpipe/internal/retry"
)

// Service embeds a query with both providers and runs the hybrid search.
type Service struct {
	dense         domain.DenseEmbedder
	sparse        domain.SparseEmbedder
	store         Querier
	policy        retry.Policy
	maxQueryChars int
	defaultTopK   int
	logger        *zap.Logger
}

// Config holds query-path settings.
type Config struct {
	Retry         retry.Policy
	MaxQueryChars int
	DefaultTopK   int
	Logger        *zap.Logger
}

// New creates a search service.
func New(dense domain.DenseEmbedder, sparse domain.SparseEmbedder, store Querier, cfg Config) *Service {
	maxChars := cfg.MaxQueryChars
	if maxChars <= 0 {
		maxChars = 8192
	}
	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dense:         dense,
		sparse:        sparse,
		store:         store,
		policy:        cfg.Retry,
		maxQueryChars: maxChars,
		defaultTopK:   topK,
		logger:        logger,
	}
}

// Search embeds the query text and returns the topK best matches.
// Over-long queries are truncated rather than rejected.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]domain.Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is empty: %w", domain.ErrInvalidRequest)
	}
	if topK <= 0 {
		topK = s.defaultTopK
	}
	if len(query) > s.maxQueryChars {
		query = truncate(query, s.maxQueryChars)
		s.logger.Debug("query truncated", zap.Int("max_chars", s.maxQueryChars))
	}

	denseVec, err := s.embedDense(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	sparseVec, err := s.embedSparse(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	denseVec, _ = normalize.Dense(denseVec)
	sparseVec, _ = normalize.Sparse(sparseVec)

	matches, err := s.store.Query(ctx, denseVec, sparseVec, topK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return matches, nil
}

func (s *Service) embedDense(ctx context.Context, query string) ([]float32, error) {
	policy := s.policy
	policy.OnRetry = s.retryHook("embed_dense")

	var vecs [][]float32
	err := retry.Do(ctx, policy, domain.IsTransient, func(ctx context.Context) error {
		var err error
		vecs, err = s.dense.EmbedDense(ctx, []string{query}, domain.TaskQuery)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("dense provider returned %d vectors for 1 query: %w",
			len(vecs), domain.ErrProviderUnavailable)
	}
	return vecs[0], nil
}

func (s *Service) embedSparse(ctx context.Context, query string) (domain.SparseVector, error) {
	policy := s.policy
	policy.OnRetry = s.retryHook("embed_sparse")

	var vecs []domain.SparseVector
	err := retry.Do(ctx, policy, domain.IsTransient, func(ctx context.Context) error {
		var err error
		vecs, err = s.sparse.EmbedSparse(ctx, []string{query}, domain.TaskQuery)
		return err
	})
	if err != nil {
		return domain.SparseVector{}, err
	}
	if len(vecs) != 1 {
		return domain.SparseVector{}, fmt.Errorf("sparse provider returned %d vectors for 1 query: %w",
			len(vecs), domain.ErrProviderUnavailable)
	}
	return vecs[0], nil
}

func (s *Service) retryHook(operation string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		metrics.RetriesTotal.WithLabelValues(operation).Inc()
		s.logger.Warn("retrying query embedding",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
