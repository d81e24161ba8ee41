package config

import "testing"

func validConfig() Config {
	cfg := Config{
		HTTP:  HTTPConfig{Port: 8080},
		Store: StoreConfig{Addrs: []string{"localhost:6379"}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.Chunking.MaxChars != 2000 || cfg.Chunking.OverlapChars != 400 {
		t.Errorf("chunking defaults = %d/%d, want 2000/400",
			cfg.Chunking.MaxChars, cfg.Chunking.OverlapChars)
	}
	if len(cfg.Chunking.HeaderLevels) != 3 {
		t.Errorf("header level defaults = %v, want [1 2 3]", cfg.Chunking.HeaderLevels)
	}
	if cfg.Embedding.Dense.MaxBatchSize != 100 {
		t.Errorf("dense batch default = %d, want 100", cfg.Embedding.Dense.MaxBatchSize)
	}
	if cfg.Embedding.Sparse.MaxBatchSize != 96 {
		t.Errorf("sparse batch default = %d, want 96", cfg.Embedding.Sparse.MaxBatchSize)
	}
	if cfg.Upsert.MaxBatchCount != 50 || cfg.Upsert.MaxBatchBytes != 2<<20 {
		t.Errorf("upsert defaults = %d/%d, want 50/%d",
			cfg.Upsert.MaxBatchCount, cfg.Upsert.MaxBatchBytes, 2<<20)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelayMS != 500 || cfg.Retry.MaxDelayMS != 30000 {
		t.Errorf("retry defaults = %d/%d/%d, want 5/500/30000",
			cfg.Retry.MaxAttempts, cfg.Retry.BaseDelayMS, cfg.Retry.MaxDelayMS)
	}
	if cfg.Store.KeyPrefix != "kbpipe:" {
		t.Errorf("key prefix default = %q", cfg.Store.KeyPrefix)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidate_MissingPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestValidate_MissingStoreAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Addrs = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing store addrs")
	}
}

func TestValidate_OverlapNotSmallerThanMax(t *testing.T) {
	cfg := validConfig()
	cfg.Chunking.MaxChars = 400
	cfg.Chunking.OverlapChars = 400

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for overlap >= max")
	}
	expected := "chunking.overlap_chars (400) must be smaller than chunking.max_chars (400)"
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_HeaderLevelOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Chunking.HeaderLevels = []int{1, 7}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for header level 7")
	}
}

func TestValidate_BaseDelayExceedsMax(t *testing.T) {
	cfg := validConfig()
	cfg.Retry.BaseDelayMS = 60000
	cfg.Retry.MaxDelayMS = 30000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for base delay above max delay")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("KBPIPE_TEST_KEY", "secret")

	in := []byte("api_key: ${KBPIPE_TEST_KEY}\nmodel: ${KBPIPE_TEST_MODEL:-text-embedding-3-small}\n")
	out := string(expandEnvVars(in))

	want := "api_key: secret\nmodel: text-embedding-3-small\n"
	if out != want {
		t.Errorf("expanded config:\ngot:  %q\nwant: %q", out, want)
	}
}
