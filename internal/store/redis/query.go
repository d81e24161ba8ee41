package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/kbpipe/internal/domain"
)

// Candidates to pull from the dense index per requested result. The sparse
// component can only reorder what the KNN stage surfaces, so over-fetch.
const overFetchFactor = 4

// Query runs a hybrid search: dense KNN candidate retrieval via FT.SEARCH
// followed by client-side rescoring with the sparse component.
func (s *Store) Query(ctx context.Context, dense []float32, sparse domain.SparseVector, topK int) ([]domain.Match, error) {
	if len(dense) == 0 {
		return nil, fmt.Errorf("dense query vector is required: %w", domain.ErrInvalidRequest)
	}
	if s.dims > 0 && len(dense) != s.dims {
		return nil, fmt.Errorf("query vector has %d dims, index expects %d: %w",
			len(dense), s.dims, domain.ErrVectorDimMismatch)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive: %w", domain.ErrInvalidRequest)
	}

	k := topK * overFetchFactor
	queryStr := fmt.Sprintf("*=>[KNN %d @vector $BLOB]", k)

	args := []string{
		s.indexName, queryStr,
		"RETURN", "3", "dense", "sparse", "meta",
		"LIMIT", "0", strconv.Itoa(k),
		"PARAMS", "2", "BLOB", vectorToBytes(dense),
		"DIALECT", "2",
	}

	cmd := s.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, wrapErr("search", err)
	}

	matches, err := s.parseAndRescore(raw, dense, sparse)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// parseAndRescore walks the RESP2 result array ([total, key1, fields1, ...])
// and computes the hybrid score for each candidate.
func (s *Store) parseAndRescore(raw []rueidis.RedisMessage, dense []float32, sparse domain.SparseVector) ([]domain.Match, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	matches := make([]domain.Match, 0, total)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fieldArr, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		fields := parseFieldPairs(fieldArr)

		recDense, err := bytesToVector(fields["dense"])
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", key, err)
		}

		var recSparse domain.SparseVector
		if raw := fields["sparse"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &recSparse); err != nil {
				return nil, fmt.Errorf("record %s sparse: %w", key, err)
			}
		}

		var meta map[string]string
		if raw := fields["meta"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return nil, fmt.Errorf("record %s meta: %w", key, err)
			}
		}

		score := dot(dense, recDense) + sparse.Dot(recSparse)

		matches = append(matches, domain.Match{
			ID:       strings.TrimPrefix(key, s.recordKey("")),
			Score:    score,
			Metadata: meta,
		})
	}

	return matches, nil
}

func parseFieldPairs(arr []rueidis.RedisMessage) map[string]string {
	fields := make(map[string]string, len(arr)/2)
	for i := 0; i+1 < len(arr); i += 2 {
		k, err := arr[i].ToString()
		if err != nil {
			continue
		}
		v, err := arr[i+1].ToString()
		if err != nil {
			continue
		}
		fields[k] = v
	}
	return fields
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
