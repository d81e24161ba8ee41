package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/kbpipe/internal/chunk"
	"github.com/kailas-cloud/kbpipe/internal/domain"
	"github.com/kailas-cloud/kbpipe/internal/metrics"
	"github.com/kailas-cloud/kbpipe/internal/retry"
)

func init() {
	metrics.RegisterPipelineMetrics()
}

type mockDense struct {
	mu      sync.Mutex
	cap     int
	batches [][]string
	embed   func(texts []string) ([][]float32, error)
}

func (m *mockDense) EmbedDense(_ context.Context, texts []string, _ domain.TaskType) ([][]float32, error) {
	m.mu.Lock()
	m.batches = append(m.batches, texts)
	m.mu.Unlock()
	if m.embed != nil {
		return m.embed(texts)
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{3, 4}
	}
	return out, nil
}

func (m *mockDense) MaxBatchSize() int { return m.cap }

type mockSparse struct {
	mu      sync.Mutex
	cap     int
	batches [][]string
	embed   func(texts []string) ([]domain.SparseVector, error)
}

func (m *mockSparse) EmbedSparse(_ context.Context, texts []string, _ domain.TaskType) ([]domain.SparseVector, error) {
	m.mu.Lock()
	m.batches = append(m.batches, texts)
	m.mu.Unlock()
	if m.embed != nil {
		return m.embed(texts)
	}
	out := make([]domain.SparseVector, len(texts))
	for i := range out {
		out[i] = domain.SparseVector{Indices: []uint32{1}, Values: []float32{2}}
	}
	return out, nil
}

func (m *mockSparse) MaxBatchSize() int { return m.cap }

type mockWriter struct {
	mu      sync.Mutex
	records []domain.IndexRecord
	write   func(records []domain.IndexRecord) domain.UpsertReport
}

func (m *mockWriter) Write(_ context.Context, records []domain.IndexRecord) domain.UpsertReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	if m.write != nil {
		return m.write(records)
	}
	return domain.UpsertReport{Attempted: len(records), Succeeded: len(records)}
}

func newTestService(dense *mockDense, sparse *mockSparse, writer *mockWriter) *Service {
	return New(dense, sparse, writer, Config{
		Chunking: chunk.DefaultConfig(),
		Retry:    retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Workers:  1, // deterministic batch order
	})
}

// sectionsDoc builds a markdown document that chunks into exactly n chunks,
// one per top-level section.
func sectionsDoc(id string, n int) domain.Document {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "# Section %d\nbody %d\n", i, i)
	}
	return domain.Document{ID: id, Text: b.String()}
}

func TestRun_DenseBatchesRespectProviderCap(t *testing.T) {
	dense := &mockDense{cap: 100}
	sparse := &mockSparse{cap: 96}
	writer := &mockWriter{}
	svc := newTestService(dense, sparse, writer)

	report, err := svc.Run(context.Background(), []domain.Document{sectionsDoc("doc-1", 250)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Chunks != 250 {
		t.Fatalf("expected 250 chunks, got %d", report.Chunks)
	}

	if len(dense.batches) != 3 {
		t.Fatalf("expected 3 dense calls, got %d", len(dense.batches))
	}
	sizes := []int{len(dense.batches[0]), len(dense.batches[1]), len(dense.batches[2])}
	if sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 50 {
		t.Fatalf("dense batch sizes = %v, want [100 100 50]", sizes)
	}
	// Batches must cover the chunks in order.
	if !strings.Contains(dense.batches[1][0], "Section 100") {
		t.Fatalf("second batch starts with %q, want chunk 100", dense.batches[1][0])
	}

	if len(sparse.batches) != 3 {
		t.Fatalf("expected 3 sparse calls (cap 96), got %d", len(sparse.batches))
	}
	if len(sparse.batches[0]) != 96 || len(sparse.batches[2]) != 58 {
		t.Fatalf("sparse batch sizes = [%d %d %d], want [96 96 58]",
			len(sparse.batches[0]), len(sparse.batches[1]), len(sparse.batches[2]))
	}

	if len(writer.records) != 250 {
		t.Fatalf("expected 250 records, got %d", len(writer.records))
	}
	if writer.records[0].ID != domain.RecordID("doc-1", 0) {
		t.Fatalf("first record ID = %s", writer.records[0].ID)
	}
	if report.RecordsUpserted != 250 {
		t.Fatalf("report = %+v", report)
	}
}

func TestRun_RecordsAreNormalized(t *testing.T) {
	dense := &mockDense{cap: 10}
	sparse := &mockSparse{cap: 10}
	writer := &mockWriter{}
	svc := newTestService(dense, sparse, writer)

	_, err := svc.Run(context.Background(), []domain.Document{{ID: "doc-1", Text: "# H\nhello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(writer.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(writer.records))
	}
	rec := writer.records[0]
	// [3,4] normalizes to [0.6,0.8].
	if rec.Dense[0] != 0.6 || rec.Dense[1] != 0.8 {
		t.Fatalf("dense not normalized: %v", rec.Dense)
	}
	// [2] normalizes to [1].
	if rec.Sparse.Values[0] != 1 {
		t.Fatalf("sparse not normalized: %v", rec.Sparse.Values)
	}
}

func TestRun_RecordMetadata(t *testing.T) {
	dense := &mockDense{cap: 10}
	sparse := &mockSparse{cap: 10}
	writer := &mockWriter{}
	svc := newTestService(dense, sparse, writer)

	doc := domain.Document{
		ID:       "guide",
		Text:     "# Getting Started\n## Install\nrun the installer",
		Metadata: map[string]string{"source": "docs/guide.md"},
	}
	if _, err := svc.Run(context.Background(), []domain.Document{doc}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := writer.records[len(writer.records)-1]
	meta := last.Metadata
	if meta["document_id"] != "guide" || meta["source"] != "docs/guide.md" {
		t.Fatalf("metadata missing document fields: %v", meta)
	}
	if meta["headers"] != "Getting Started > Install" {
		t.Fatalf("headers = %q", meta["headers"])
	}
	if meta["text"] == "" || meta["start"] == "" || meta["end"] == "" {
		t.Fatalf("positional metadata missing: %v", meta)
	}
}

func TestRun_ZeroVectorIndexedUnchanged(t *testing.T) {
	dense := &mockDense{cap: 10, embed: func(texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{0, 0}
		}
		return out, nil
	}}
	sparse := &mockSparse{cap: 10}
	writer := &mockWriter{}
	svc := newTestService(dense, sparse, writer)

	report, err := svc.Run(context.Background(), []domain.Document{{ID: "doc-1", Text: "# H\nhello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.RecordsUpserted != 1 {
		t.Fatalf("zero vector record must still be indexed, report = %+v", report)
	}
	if writer.records[0].Dense[0] != 0 || writer.records[0].Dense[1] != 0 {
		t.Fatalf("zero vector must stay unchanged: %v", writer.records[0].Dense)
	}
}

func TestRun_FailedDocumentSkipped(t *testing.T) {
	dense := &mockDense{cap: 10, embed: func(texts []string) ([][]float32, error) {
		if strings.Contains(texts[0], "bad") {
			return nil, fmt.Errorf("rejected: %w", domain.ErrInvalidRequest)
		}
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{3, 4}
		}
		return out, nil
	}}
	sparse := &mockSparse{cap: 10}
	writer := &mockWriter{}
	svc := newTestService(dense, sparse, writer)

	docs := []domain.Document{
		{ID: "good-doc", Text: "# H\ngood content"},
		{ID: "bad-doc", Text: "# H\nbad content"},
	}
	report, err := svc.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("per-document failure must not abort the run: %v", err)
	}
	if report.DocumentsFailed != 1 {
		t.Fatalf("report = %+v, want 1 failed document", report)
	}
	if len(report.FailedDocuments) != 1 || report.FailedDocuments[0].DocumentID != "bad-doc" {
		t.Fatalf("failed documents = %+v", report.FailedDocuments)
	}
	if report.FailedDocuments[0].Stage != "embed" {
		t.Fatalf("stage = %q, want embed", report.FailedDocuments[0].Stage)
	}
	if len(writer.records) != 1 || writer.records[0].Metadata["document_id"] != "good-doc" {
		t.Fatalf("good document must still be indexed: %+v", writer.records)
	}
}

func TestRun_FirstDocumentPermanentErrorAbortsRun(t *testing.T) {
	dense := &mockDense{cap: 10, embed: func([]string) ([][]float32, error) {
		return nil, fmt.Errorf("rejected: %w", domain.ErrInvalidRequest)
	}}
	sparse := &mockSparse{cap: 10}
	writer := &mockWriter{}
	svc := newTestService(dense, sparse, writer)

	docs := []domain.Document{
		{ID: "a", Text: "# H\none"},
		{ID: "b", Text: "# H\ntwo"},
	}
	report, err := svc.Run(context.Background(), docs)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("a permanent rejection on the first document must abort, got %v", err)
	}
	if report.DocumentsFailed != 1 {
		t.Fatalf("report = %+v, want 1 failed document", report)
	}
	if len(writer.records) != 0 {
		t.Fatal("no records should be written after the abort")
	}
}

func TestRun_UnauthorizedAbortsRun(t *testing.T) {
	dense := &mockDense{cap: 10, embed: func([]string) ([][]float32, error) {
		return nil, fmt.Errorf("bad key: %w", domain.ErrUnauthorized)
	}}
	sparse := &mockSparse{cap: 10}
	writer := &mockWriter{}
	svc := newTestService(dense, sparse, writer)

	docs := []domain.Document{
		{ID: "a", Text: "# H\none"},
		{ID: "b", Text: "# H\ntwo"},
	}
	_, err := svc.Run(context.Background(), docs)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected run abort with ErrUnauthorized, got %v", err)
	}
	if len(writer.records) != 0 {
		t.Fatal("no records should be written after credential failure")
	}
}

func TestRun_TransientEmbedErrorRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex
	dense := &mockDense{cap: 10, embed: func(texts []string) ([][]float32, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, fmt.Errorf("throttled: %w", domain.ErrRateLimited)
		}
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{3, 4}
		}
		return out, nil
	}}
	sparse := &mockSparse{cap: 10}
	writer := &mockWriter{}
	svc := newTestService(dense, sparse, writer)

	report, err := svc.Run(context.Background(), []domain.Document{{ID: "doc-1", Text: "# H\nhello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.RecordsUpserted != 1 {
		t.Fatalf("report = %+v", report)
	}
	if calls != 2 {
		t.Fatalf("expected 2 dense calls (1 retry), got %d", calls)
	}
}

func TestRun_EmptyDocumentProducesNothing(t *testing.T) {
	dense := &mockDense{cap: 10}
	sparse := &mockSparse{cap: 10}
	writer := &mockWriter{}
	svc := newTestService(dense, sparse, writer)

	report, err := svc.Run(context.Background(), []domain.Document{{ID: "empty", Text: "   \n\n"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Chunks != 0 || report.DocumentsFailed != 0 || len(writer.records) != 0 {
		t.Fatalf("empty document must be a clean no-op, report = %+v", report)
	}
}
