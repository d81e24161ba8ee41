package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the kbpipe service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Upsert    UpsertConfig    `yaml:"upsert"`
	Retry     RetryConfig     `yaml:"retry"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StoreConfig holds vector store connection and index settings.
type StoreConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
}

// ChunkingConfig holds markdown chunker parameters.
type ChunkingConfig struct {
	HeaderLevels []int `yaml:"header_levels"`
	MaxChars     int   `yaml:"max_chars"`
	OverlapChars int   `yaml:"overlap_chars"`
}

// EmbeddingConfig holds the dense and sparse provider settings.
type EmbeddingConfig struct {
	Dense  DenseProviderConfig  `yaml:"dense"`
	Sparse SparseProviderConfig `yaml:"sparse"`
}

// DenseProviderConfig configures the OpenAI-compatible dense embedding provider.
type DenseProviderConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	MaxBatchSize        int    `yaml:"max_batch_size"`
	RequestsPerMinute   int    `yaml:"requests_per_minute"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
	MaxQueryChars       int    `yaml:"max_query_chars"`
}

// SparseProviderConfig configures the sparse inference provider.
type SparseProviderConfig struct {
	APIKey            string `yaml:"api_key"`
	URL               string `yaml:"url"`
	Model             string `yaml:"model"`
	MaxBatchSize      int    `yaml:"max_batch_size"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// UpsertConfig holds vector store write limits.
type UpsertConfig struct {
	MaxBatchCount int `yaml:"max_batch_count"`
	MaxBatchBytes int `yaml:"max_batch_bytes"`
}

// RetryConfig holds backoff settings for remote calls.
type RetryConfig struct {
	MaxAttempts int  `yaml:"max_attempts"`
	BaseDelayMS int  `yaml:"base_delay_ms"`
	MaxDelayMS  int  `yaml:"max_delay_ms"`
	Jitter      bool `yaml:"jitter"`
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	Workers int `yaml:"workers"`
	TopK    int `yaml:"default_top_k"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Ingest requests embed whole documents; give them room.
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "kbpipe:"
	}
	if c.Store.ReadinessTimeout <= 0 {
		c.Store.ReadinessTimeout = 10
	}
	if c.Store.HNSWM <= 0 {
		c.Store.HNSWM = 32
	}
	if c.Store.HNSWEFConstruct <= 0 {
		c.Store.HNSWEFConstruct = 400
	}
	if len(c.Chunking.HeaderLevels) == 0 {
		c.Chunking.HeaderLevels = []int{1, 2, 3}
	}
	if c.Chunking.MaxChars <= 0 {
		c.Chunking.MaxChars = 2000
	}
	if c.Chunking.OverlapChars <= 0 {
		c.Chunking.OverlapChars = 400
	}
	if c.Embedding.Dense.Dimensions <= 0 {
		c.Embedding.Dense.Dimensions = 768
	}
	if c.Embedding.Dense.MaxBatchSize <= 0 {
		c.Embedding.Dense.MaxBatchSize = 100
	}
	if c.Embedding.Dense.MaxQueryChars <= 0 {
		c.Embedding.Dense.MaxQueryChars = 8192
	}
	if c.Embedding.Sparse.MaxBatchSize <= 0 {
		c.Embedding.Sparse.MaxBatchSize = 96
	}
	if c.Upsert.MaxBatchCount <= 0 {
		c.Upsert.MaxBatchCount = 50
	}
	if c.Upsert.MaxBatchBytes <= 0 {
		c.Upsert.MaxBatchBytes = 2 << 20
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = 500
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = 30000
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = runtime.NumCPU()
	}
	if c.Pipeline.TopK <= 0 {
		c.Pipeline.TopK = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Store.Addrs) == 0 {
		return fmt.Errorf("store.addrs is required")
	}
	if c.Chunking.OverlapChars >= c.Chunking.MaxChars {
		return fmt.Errorf(
			"chunking.overlap_chars (%d) must be smaller than chunking.max_chars (%d)",
			c.Chunking.OverlapChars, c.Chunking.MaxChars,
		)
	}
	for _, l := range c.Chunking.HeaderLevels {
		if l < 1 || l > 6 {
			return fmt.Errorf("chunking.header_levels entry %d outside 1-6", l)
		}
	}
	if c.Retry.BaseDelayMS > c.Retry.MaxDelayMS {
		return fmt.Errorf(
			"retry.base_delay_ms (%d) must not exceed retry.max_delay_ms (%d)",
			c.Retry.BaseDelayMS, c.Retry.MaxDelayMS,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
