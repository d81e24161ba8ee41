package upsert

import (
	"context"

	"github.com/kailas-cloud/kbpipe/internal/domain"
)

// Store writes pre-sized record batches to the vector index.
type Store interface {
	Upsert(ctx context.Context, records []domain.IndexRecord) error
}
