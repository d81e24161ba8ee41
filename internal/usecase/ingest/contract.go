package ingest

import (
	"context"

	"github.com/kailas-cloud/kbpipe/internal/domain"
)

// RecordWriter persists index records, reporting partial failure instead of
// raising it.
type RecordWriter interface {
	Write(ctx context.Context, records []domain.IndexRecord) domain.UpsertReport
}
