package domain

import (
	"context"
	"fmt"
)

// IndexRecord is the unit written to the vector store: a chunk's hybrid
// embedding plus its retrieval metadata.
type IndexRecord struct {
	ID       string            `json:"id"`
	Dense    []float32         `json:"dense"`
	Sparse   SparseVector      `json:"sparse"`
	Metadata map[string]string `json:"metadata"`
}

// RecordID derives the store ID for a chunk. Deterministic in
// (documentID, seq) so re-ingesting a document overwrites its previous
// records instead of duplicating them.
func RecordID(documentID string, seq int) string {
	return fmt.Sprintf("%s#%05d", documentID, seq)
}

// Match is a single query hit from the vector store.
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// VectorStore is the external index consumed by the pipeline. Upsert writes
// one pre-sized batch; the caller enforces the store's record-count and byte
// limits. Query vectors must be normalized identically to index-time vectors.
type VectorStore interface {
	Upsert(ctx context.Context, records []IndexRecord) error
	Query(ctx context.Context, dense []float32, sparse SparseVector, topK int) ([]Match, error)
}
