package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kbpipe/internal/chunk"
	"github.com/kailas-cloud/kbpipe/internal/domain"
	"github.com/kailas-cloud/kbpipe/internal/metrics"
	"github.com/kailas-cloud/kbpipe/internal/normalize"
	"github.com/kailas-cloud/kbpipe/internal/retry"
)

// Service drives a document set through the full pipeline: chunking, dual
// embedding, normalization and batched upsert. Documents fail independently;
// the run itself aborts only on errors that would doom every remaining
// document anyway.
type Service struct {
	dense    domain.DenseEmbedder
	sparse   domain.SparseEmbedder
	writer   RecordWriter
	chunkCfg chunk.Config
	policy   retry.Policy
	workers  int
	logger   *zap.Logger
}

// Config holds orchestrator settings.
type Config struct {
	Chunking chunk.Config
	Retry    retry.Policy
	Workers  int
	Logger   *zap.Logger
}

// New creates the ingestion orchestrator.
func New(dense domain.DenseEmbedder, sparse domain.SparseEmbedder, writer RecordWriter, cfg Config) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		dense:    dense,
		sparse:   sparse,
		writer:   writer,
		chunkCfg: cfg.Chunking,
		policy:   cfg.Retry,
		workers:  workers,
		logger:   log,
	}
}

// Run processes all documents and returns the aggregated report. The error
// is non-nil only when the run aborted early; partial per-document failures
// are reported, not raised.
func (s *Service) Run(ctx context.Context, docs []domain.Document) (domain.RunReport, error) {
	report := domain.RunReport{RunID: uuid.NewString(), Documents: len(docs)}
	log := s.logger.With(zap.String("run_id", report.RunID))

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return report, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	start := time.Now()
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := s.runDocument(ctx, pool, &docs[i], &report, log); err != nil {
			report.DocumentsFailed++
			metrics.DocumentsTotal.WithLabelValues("failed").Inc()
			// Credential and configuration failures doom every remaining
			// document, as does a permanent provider rejection before
			// anything has succeeded; stop instead of burning quota on
			// the same failure per document.
			if abortsRun(err, i == 0) {
				return report, err
			}
			log.Warn("document skipped",
				zap.String("document_id", docs[i].ID),
				zap.Error(err),
			)
			continue
		}
		metrics.DocumentsTotal.WithLabelValues("ok").Inc()
	}

	log.Info("ingestion run complete",
		zap.Int("documents", report.Documents),
		zap.Int("documents_failed", report.DocumentsFailed),
		zap.Int("chunks", report.Chunks),
		zap.Int("records_upserted", report.RecordsUpserted),
		zap.Int("records_failed", report.RecordsFailed),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (s *Service) runDocument(
	ctx context.Context, pool *ants.Pool, doc *domain.Document,
	report *domain.RunReport, log *zap.Logger,
) error {
	chunks, err := chunk.Split(*doc, s.chunkCfg)
	if err != nil {
		s.noteFailure(report, doc.ID, "chunk", err)
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	report.Chunks += len(chunks)
	metrics.ChunksTotal.Add(float64(len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	dense, sparse, err := s.embedAll(ctx, pool, texts)
	if err != nil {
		s.noteFailure(report, doc.ID, "embed", err)
		return err
	}

	records := s.buildRecords(doc, chunks, dense, sparse, log)

	upsertReport := s.writer.Write(ctx, records)
	report.RecordsUpserted += upsertReport.Succeeded
	report.RecordsFailed += upsertReport.Failed
	report.FailedBatches = append(report.FailedBatches, upsertReport.FailedBatches...)

	if upsertReport.Succeeded == 0 && upsertReport.Failed > 0 {
		err := fmt.Errorf("all %d records failed to upsert", upsertReport.Failed)
		report.FailedDocuments = append(report.FailedDocuments, domain.DocumentFailure{
			DocumentID: doc.ID,
			Stage:      "upsert",
			Error:      err.Error(),
		})
		return err
	}
	return nil
}

// abortsRun reports whether a document failure should stop the whole run.
// Credential and configuration errors always do. A permanent provider
// rejection aborts only when it hits the first document, before anything
// has worked.
func abortsRun(err error, firstDocument bool) bool {
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrInvalidConfig) {
		return true
	}
	if !firstDocument {
		return false
	}
	return errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrPayloadTooLarge) ||
		errors.Is(err, domain.ErrVectorDimMismatch)
}

func (s *Service) noteFailure(report *domain.RunReport, docID, stage string, err error) {
	report.FailedDocuments = append(report.FailedDocuments, domain.DocumentFailure{
		DocumentID: docID,
		Stage:      stage,
		Error:      err.Error(),
	})
}

// embedAll runs the dense and sparse providers over the texts, partitioned
// by each provider's batch cap and executed on the shared pool. Results are
// merged back into input order.
func (s *Service) embedAll(ctx context.Context, pool *ants.Pool, texts []string) ([][]float32, []domain.SparseVector, error) {
	denseOut := make([][]float32, len(texts))
	sparseOut := make([]domain.SparseVector, len(texts))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	submit := func(job func()) {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			job()
		}); err != nil {
			wg.Done()
			fail(fmt.Errorf("submit embedding job: %w", err))
		}
	}

	for _, r := range domain.Batches(len(texts), s.dense.MaxBatchSize()) {
		start, end := r[0], r[1]
		submit(func() {
			vecs, err := s.embedDenseBatch(ctx, texts[start:end])
			if err != nil {
				fail(err)
				return
			}
			copy(denseOut[start:end], vecs)
		})
	}

	for _, r := range domain.Batches(len(texts), s.sparse.MaxBatchSize()) {
		start, end := r[0], r[1]
		submit(func() {
			vecs, err := s.embedSparseBatch(ctx, texts[start:end])
			if err != nil {
				fail(err)
				return
			}
			copy(sparseOut[start:end], vecs)
		})
	}

	wg.Wait()
	if firstErr != nil {
		return nil, nil, firstErr
	}
	return denseOut, sparseOut, nil
}

func (s *Service) embedDenseBatch(ctx context.Context, texts []string) ([][]float32, error) {
	policy := s.policy
	policy.OnRetry = s.retryHook("embed_dense")

	var vecs [][]float32
	err := retry.Do(ctx, policy, domain.IsTransient, func(ctx context.Context) error {
		var err error
		vecs, err = s.dense.EmbedDense(ctx, texts, domain.TaskDocument)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dense embedding: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("dense provider returned %d vectors for %d texts: %w",
			len(vecs), len(texts), domain.ErrProviderUnavailable)
	}
	return vecs, nil
}

func (s *Service) embedSparseBatch(ctx context.Context, texts []string) ([]domain.SparseVector, error) {
	policy := s.policy
	policy.OnRetry = s.retryHook("embed_sparse")

	var vecs []domain.SparseVector
	err := retry.Do(ctx, policy, domain.IsTransient, func(ctx context.Context) error {
		var err error
		vecs, err = s.sparse.EmbedSparse(ctx, texts, domain.TaskDocument)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sparse embedding: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("sparse provider returned %d vectors for %d texts: %w",
			len(vecs), len(texts), domain.ErrProviderUnavailable)
	}
	return vecs, nil
}

func (s *Service) retryHook(operation string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		metrics.RetriesTotal.WithLabelValues(operation).Inc()
		s.logger.Warn("retrying embedding batch",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}

// buildRecords normalizes vectors and assembles index records. Zero vectors
// are logged and indexed unchanged.
func (s *Service) buildRecords(
	doc *domain.Document, chunks []domain.Chunk,
	dense [][]float32, sparse []domain.SparseVector, log *zap.Logger,
) []domain.IndexRecord {
	records := make([]domain.IndexRecord, len(chunks))
	for i, c := range chunks {
		dv, ok := normalize.Dense(dense[i])
		if !ok {
			metrics.ZeroVectorsTotal.WithLabelValues("dense").Inc()
			log.Warn("zero dense vector",
				zap.String("document_id", doc.ID),
				zap.Int("seq", c.Seq),
			)
		}
		sv, ok := normalize.Sparse(sparse[i])
		if !ok {
			metrics.ZeroVectorsTotal.WithLabelValues("sparse").Inc()
		}

		meta := map[string]string{
			"document_id": doc.ID,
			"seq":         strconv.Itoa(c.Seq),
			"text":        c.Text,
			"start":       strconv.Itoa(c.Start),
			"end":         strconv.Itoa(c.End),
		}
		if len(c.HeaderPath) > 0 {
			meta["headers"] = strings.Join(c.HeaderPath, " > ")
		}
		for k, v := range doc.Metadata {
			meta[k] = v
		}

		records[i] = domain.IndexRecord{
			ID:       domain.RecordID(doc.ID, c.Seq),
			Dense:    dv,
			Sparse:   sv,
			Metadata: meta,
		}
	}
	return records
}
