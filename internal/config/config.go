package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Embedding  LLMConfig      `yaml:"embedding"`
	Generation LLMConfig      `yaml:"generation"`
	RAG        RAGConfig      `yaml:"rag"`
	Database   DatabaseConfig `yaml:"database"`
	Limits     LimitsConfig   `yaml:"limits"`
	Security   SecurityConfig `yaml:"security"`
}

// LLMConfig selects and configures one external backend. Provider is one of
// "ollama", "openai" or "stub"; the stub is deterministic and needs no
// network, which is how tests and dry runs are wired.
type LLMConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	Key            string `yaml:"key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RAGConfig struct {
	ChunkTokens   int    `yaml:"chunk_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
	TopK          int    `yaml:"top_k"`
	VectorDim     int    `yaml:"vector_dim"`
	DBPath        string `yaml:"db_path"`
	InMemory      bool   `yaml:"in_memory"`
	SnapshotKey   string `yaml:"snapshot_key"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type LimitsConfig struct {
	MaxBatchSize      int     `yaml:"max_batch_size"`
	MaxRetries        int     `yaml:"max_retries"`
	MaxInflight       int64   `yaml:"max_inflight"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	IngestWorkers     int     `yaml:"ingest_workers"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

const (
	defaultChunkTokens   = 300
	defaultOverlapTokens = 50
	defaultTopK          = 5
	defaultVectorDim     = 768
	defaultBatchSize     = 16
	defaultMaxRetries    = 3
	defaultMaxInflight   = 4
	defaultRPS           = 10
	defaultIngestWorkers = 4
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with working defaults so a minimal yaml
// file is enough to run against the stub backends.
func (c *Config) ApplyDefaults() {
	if c.RAG.ChunkTokens == 0 {
		c.RAG.ChunkTokens = defaultChunkTokens
	}
	if c.RAG.OverlapTokens == 0 {
		c.RAG.OverlapTokens = defaultOverlapTokens
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = defaultTopK
	}
	if c.RAG.VectorDim == 0 {
		c.RAG.VectorDim = defaultVectorDim
	}
	if c.Limits.MaxBatchSize == 0 {
		c.Limits.MaxBatchSize = defaultBatchSize
	}
	if c.Limits.MaxRetries == 0 {
		c.Limits.MaxRetries = defaultMaxRetries
	}
	if c.Limits.MaxInflight == 0 {
		c.Limits.MaxInflight = defaultMaxInflight
	}
	if c.Limits.RequestsPerSecond == 0 {
		c.Limits.RequestsPerSecond = defaultRPS
	}
	if c.Limits.IngestWorkers == 0 {
		c.Limits.IngestWorkers = defaultIngestWorkers
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "stub"
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = "stub"
	}
}
