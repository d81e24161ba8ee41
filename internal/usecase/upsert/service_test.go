package upsert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/kbpipe/internal/domain"
	"github.com/kailas-cloud/kbpipe/internal/metrics"
	"github.com/kailas-cloud/kbpipe/internal/retry"
)

func init() {
	metrics.RegisterPipelineMetrics()
}

type mockStore struct {
	mu      sync.Mutex
	batches [][]domain.IndexRecord
	fail    func(call int, records []domain.IndexRecord) error
}

func (m *mockStore) Upsert(_ context.Context, records []domain.IndexRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := len(m.batches)
	m.batches = append(m.batches, records)
	if m.fail != nil {
		return m.fail(call, records)
	}
	return nil
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func makeRecords(n int) []domain.IndexRecord {
	records := make([]domain.IndexRecord, n)
	for i := range records {
		records[i] = domain.IndexRecord{
			ID:       domain.RecordID("doc-1", i),
			Dense:    []float32{1, 2, 3},
			Metadata: map[string]string{"document_id": "doc-1"},
		}
	}
	return records
}

func TestWrite_PartitionsByCount(t *testing.T) {
	store := &mockStore{}
	svc := New(store, Config{MaxBatchCount: 50, Retry: fastRetry(1)})

	report := svc.Write(context.Background(), makeRecords(120))

	if len(store.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(store.batches))
	}
	sizes := []int{len(store.batches[0]), len(store.batches[1]), len(store.batches[2])}
	if sizes[0] != 50 || sizes[1] != 50 || sizes[2] != 20 {
		t.Fatalf("batch sizes = %v, want [50 50 20]", sizes)
	}
	if report.Attempted != 120 || report.Succeeded != 120 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	// Order must be preserved across batches.
	if store.batches[1][0].ID != domain.RecordID("doc-1", 50) {
		t.Fatalf("second batch starts with %s", store.batches[1][0].ID)
	}
}

func TestWrite_PartitionsByBytes(t *testing.T) {
	big := strings.Repeat("x", 400)
	records := make([]domain.IndexRecord, 10)
	for i := range records {
		records[i] = domain.IndexRecord{
			ID:       domain.RecordID("doc-1", i),
			Metadata: map[string]string{"text": big},
		}
	}

	store := &mockStore{}
	svc := New(store, Config{MaxBatchCount: 100, MaxBatchBytes: 1000, Retry: fastRetry(1)})

	report := svc.Write(context.Background(), records)

	if report.Succeeded != 10 {
		t.Fatalf("report = %+v", report)
	}
	if len(store.batches) < 5 {
		t.Fatalf("byte limit should force several batches, got %d", len(store.batches))
	}
	for i, b := range store.batches {
		if len(b) > 2 {
			t.Fatalf("batch %d has %d records, each ~500 bytes against a 1000 byte cap", i, len(b))
		}
	}
}

func TestWrite_FailedBatchIsolated(t *testing.T) {
	store := &mockStore{
		fail: func(call int, _ []domain.IndexRecord) error {
			if call == 1 {
				return fmt.Errorf("bad payload: %w", domain.ErrInvalidRequest)
			}
			return nil
		},
	}
	svc := New(store, Config{MaxBatchCount: 50, Retry: fastRetry(3)})

	report := svc.Write(context.Background(), makeRecords(120))

	if report.Succeeded != 70 || report.Failed != 50 {
		t.Fatalf("report = %+v, want 70 succeeded / 50 failed", report)
	}
	if len(report.FailedBatches) != 1 {
		t.Fatalf("expected 1 failed batch, got %d", len(report.FailedBatches))
	}
	fb := report.FailedBatches[0]
	if len(fb.RecordIDs) != 50 || fb.RecordIDs[0] != domain.RecordID("doc-1", 50) {
		t.Fatalf("failed batch IDs wrong: %d ids, first %s", len(fb.RecordIDs), fb.RecordIDs[0])
	}
	// Permanent error: batch must not have been retried.
	if len(store.batches) != 3 {
		t.Fatalf("expected 3 store calls, got %d", len(store.batches))
	}
}

func TestWrite_TransientErrorRetried(t *testing.T) {
	store := &mockStore{
		fail: func(call int, _ []domain.IndexRecord) error {
			if call == 0 {
				return fmt.Errorf("flaky: %w", domain.ErrProviderUnavailable)
			}
			return nil
		},
	}
	svc := New(store, Config{MaxBatchCount: 50, Retry: fastRetry(3)})

	report := svc.Write(context.Background(), makeRecords(10))

	if report.Succeeded != 10 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(store.batches) != 2 {
		t.Fatalf("expected retry to produce 2 store calls, got %d", len(store.batches))
	}
}

func TestWrite_OversizeRecordFailsAlone(t *testing.T) {
	records := makeRecords(3)
	records[1].Metadata["text"] = strings.Repeat("x", 5000)

	store := &mockStore{}
	svc := New(store, Config{MaxBatchCount: 50, MaxBatchBytes: 1000, Retry: fastRetry(1)})

	report := svc.Write(context.Background(), records)

	if report.Succeeded != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want 2 succeeded / 1 failed", report)
	}
	if len(report.FailedBatches) != 1 || report.FailedBatches[0].RecordIDs[0] != records[1].ID {
		t.Fatalf("oversize record not isolated: %+v", report.FailedBatches)
	}
	// The store must never see the oversize record.
	for _, b := range store.batches {
		for _, r := range b {
			if r.ID == records[1].ID {
				t.Fatal("oversize record reached the store")
			}
		}
	}
}

func TestWrite_Empty(t *testing.T) {
	store := &mockStore{}
	svc := New(store, Config{Retry: fastRetry(1)})

	report := svc.Write(context.Background(), nil)
	if report.Attempted != 0 || len(store.batches) != 0 {
		t.Fatalf("empty input must be a no-op, report = %+v", report)
	}
}
