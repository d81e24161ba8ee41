package search

import (
	"context"

	"github.com/kailas-cloud/kbpipe/internal/domain"
)

// Querier runs hybrid queries against the vector index.
type Querier interface {
	Query(ctx context.Context, dense []float32, sparse domain.SparseVector, topK int) ([]domain.Match, error)
}
