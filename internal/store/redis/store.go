package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kbpipe/internal/domain"
)

// Compile-time check: Store implements domain.VectorStore.
var _ domain.VectorStore = (*Store)(nil)

// Config holds connection and index parameters for the Redis vector store.
type Config struct {
	Addrs           []string
	Username        string
	Password        string
	DB              int
	KeyPrefix       string
	IndexName       string
	Dimensions      int
	HNSWM           int
	HNSWEFConstruct int
	Logger          *zap.Logger
}

// Store is a hybrid dense+sparse vector store on Redis 8+ via rueidis.
// Dense vectors live in an HNSW FT index; sparse vectors ride along as
// JSON fields and are rescored client-side.
type Store struct {
	client    rueidis.Client
	keyPrefix string
	indexName string
	dims      int
	hnswM     int
	hnswEF    int
	logger    *zap.Logger
}

// NewStore creates a Redis vector store.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return newStore(client, cfg), nil
}

// NewStoreForTest wraps an existing (mock) client.
func NewStoreForTest(client rueidis.Client, cfg Config) *Store {
	return newStore(client, cfg)
}

func newStore(client rueidis.Client, cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "kbpipe:"
	}
	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "kbpipe_records"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:    client,
		keyPrefix: prefix,
		indexName: indexName,
		dims:      cfg.Dimensions,
		hnswM:     cfg.HNSWM,
		hnswEF:    cfg.HNSWEFConstruct,
		logger:    logger,
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for vector store: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// EnsureIndex creates the HNSW FT index if it does not exist yet. Dense
// vectors are L2-normalized before writing, so inner product equals cosine.
func (s *Store) EnsureIndex(ctx context.Context) error {
	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.dims),
		"DISTANCE_METRIC", "IP",
	}
	if s.hnswM > 0 {
		attrs = append(attrs, "M", strconv.Itoa(s.hnswM))
	}
	if s.hnswEF > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(s.hnswEF))
	}

	args := []string{
		s.indexName,
		"ON", "HASH",
		"PREFIX", "1", s.recordKey(""),
		"SCHEMA",
		"dense", "AS", "vector", "VECTOR", "HNSW", strconv.Itoa(len(attrs)),
	}
	args = append(args, attrs...)
	args = append(args, "doc_id", "AS", "doc_id", "TAG")

	cmd := s.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return wrapErr("create index", err)
	}

	s.logger.Info("vector index created",
		zap.String("index", s.indexName),
		zap.Int("dimensions", s.dims),
	)
	return nil
}

func (s *Store) recordKey(id string) string {
	return s.keyPrefix + "rec:" + id
}

// wrapErr maps store failures onto domain sentinels: server-side command
// errors are permanent, everything else (network, timeout) is transient.
func wrapErr(op string, err error) error {
	if _, ok := rueidis.IsRedisErr(err); ok {
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrInvalidRequest)
	}
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrProviderUnavailable)
}

// isRedisErr checks if err is a Redis server error containing substr (case-insensitive).
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return containsIgnoreCase(re.Error(), substr)
}

func containsIgnoreCase(s, substr string) bool {
	ls := len(s)
	lsub := len(substr)
	if lsub > ls {
		return false
	}
	for i := 0; i <= ls-lsub; i++ {
		match := true
		for j := 0; j < lsub; j++ {
			sc := s[i+j]
			tc := substr[j]
			if sc >= 'A' && sc <= 'Z' {
				sc += 'a' - 'A'
			}
			if tc >= 'A' && tc <= 'Z' {
				tc += 'a' - 'A'
			}
			if sc != tc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
