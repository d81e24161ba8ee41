package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kbpipe/internal/domain"
)

// Upsert writes records in a single DoMulti round-trip. Records are stored
// as hashes keyed by record ID, so re-ingesting a document overwrites its
// previous records in place.
func (s *Store) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, 0, len(records))
	for i := range records {
		cmd, err := s.upsertCmd(&records[i])
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}

	results := s.client.DoMulti(ctx, cmds...)
	for i, res := range results {
		if err := res.Error(); err != nil {
			return wrapErr(fmt.Sprintf("upsert %s", records[i].ID), err)
		}
	}

	s.logger.Debug("records upserted", zap.Int("count", len(records)))
	return nil
}

func (s *Store) upsertCmd(rec *domain.IndexRecord) (rueidis.Completed, error) {
	if rec.ID == "" {
		return rueidis.Completed{}, fmt.Errorf("record ID is required: %w", domain.ErrInvalidRequest)
	}
	if s.dims > 0 && len(rec.Dense) != s.dims {
		return rueidis.Completed{}, fmt.Errorf("record %s has %d dims, index expects %d: %w",
			rec.ID, len(rec.Dense), s.dims, domain.ErrVectorDimMismatch)
	}

	sparseJSON, err := json.Marshal(rec.Sparse)
	if err != nil {
		return rueidis.Completed{}, fmt.Errorf("marshal sparse vector for %s: %w", rec.ID, err)
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return rueidis.Completed{}, fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
	}

	cmd := s.client.B().Hset().Key(s.recordKey(rec.ID)).FieldValue().
		FieldValue("dense", vectorToBytes(rec.Dense)).
		FieldValue("sparse", string(sparseJSON)).
		FieldValue("meta", string(metaJSON)).
		FieldValue("doc_id", rec.Metadata["document_id"]).
		Build()

	return cmd, nil
}

// Delete removes records by ID.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	cmd := s.client.B().Del().Key(keys...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return wrapErr("delete", err)
	}
	return nil
}
