package upsert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kbpipe/internal/domain"
	"github.com/kailas-cloud/kbpipe/internal/metrics"
	"github.com/kailas-cloud/kbpipe/internal/retry"
)

// Service partitions records into store-sized batches and writes them with
// retry. A failed batch never aborts the remaining batches.
type Service struct {
	store         Store
	policy        retry.Policy
	maxBatchCount int
	maxBatchBytes int
	logger        *zap.Logger
}

// Config holds batch limits and the retry policy.
type Config struct {
	MaxBatchCount int
	MaxBatchBytes int
	Retry         retry.Policy
	Logger        *zap.Logger
}

// New creates an upsert service.
func New(store Store, cfg Config) *Service {
	maxCount := cfg.MaxBatchCount
	if maxCount <= 0 {
		maxCount = 50
	}
	maxBytes := cfg.MaxBatchBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := cfg.Retry
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.RetriesTotal.WithLabelValues("upsert").Inc()
		logger.Warn("retrying upsert batch",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if userHook != nil {
			userHook(attempt, delay, err)
		}
	}

	return &Service{
		store:         store,
		policy:        policy,
		maxBatchCount: maxCount,
		maxBatchBytes: maxBytes,
		logger:        logger,
	}
}

// Write partitions records and upserts each batch. The report accounts for
// every input record exactly once; batch failures are collected, not raised.
func (s *Service) Write(ctx context.Context, records []domain.IndexRecord) domain.UpsertReport {
	report := domain.UpsertReport{Attempted: len(records)}

	for _, batch := range s.partition(records) {
		if batch.err != nil {
			s.recordFailure(&report, batch.records, batch.err)
			continue
		}

		start := time.Now()
		err := retry.Do(ctx, s.policy, domain.IsTransient, func(ctx context.Context) error {
			return s.store.Upsert(ctx, batch.records)
		})
		metrics.UpsertBatchDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			s.recordFailure(&report, batch.records, err)
			continue
		}

		report.Succeeded += len(batch.records)
		metrics.UpsertBatchesTotal.WithLabelValues("ok").Inc()
		metrics.UpsertRecordsTotal.WithLabelValues("ok").Add(float64(len(batch.records)))
	}

	return report
}

func (s *Service) recordFailure(report *domain.UpsertReport, records []domain.IndexRecord, err error) {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	report.Failed += len(records)
	report.FailedBatches = append(report.FailedBatches, domain.FailedBatch{
		RecordIDs: ids,
		Error:     err.Error(),
	})
	metrics.UpsertBatchesTotal.WithLabelValues("failed").Inc()
	metrics.UpsertRecordsTotal.WithLabelValues("failed").Add(float64(len(records)))

	s.logger.Error("upsert batch failed",
		zap.Int("records", len(records)),
		zap.Error(err),
	)
}

type batch struct {
	records []domain.IndexRecord
	bytes   int
	err     error // set when the batch can never be written (oversize record)
}

// partition splits records into batches that respect both the record-count
// and the serialized-byte limit, preserving input order. A single record
// larger than the byte limit becomes its own pre-failed batch so the rest
// of the stream is unaffected.
func (s *Service) partition(records []domain.IndexRecord) []batch {
	var out []batch
	var cur batch

	flush := func() {
		if len(cur.records) > 0 {
			out = append(out, cur)
			cur = batch{}
		}
	}

	for i := range records {
		size := recordSize(&records[i])

		if size > s.maxBatchBytes {
			flush()
			out = append(out, batch{
				records: records[i : i+1],
				bytes:   size,
				err: fmt.Errorf("record %s serializes to %d bytes, limit %d: %w",
					records[i].ID, size, s.maxBatchBytes, domain.ErrPayloadTooLarge),
			})
			continue
		}

		if len(cur.records) >= s.maxBatchCount || cur.bytes+size > s.maxBatchBytes {
			flush()
		}
		cur.records = append(cur.records, records[i])
		cur.bytes += size
	}
	flush()

	return out
}

func recordSize(r *domain.IndexRecord) int {
	data, err := json.Marshal(r)
	if err != nil {
		// Records are plain structs; marshal cannot realistically fail.
		return len(r.ID) + len(r.Dense)*4
	}
	return len(data)
}
