// Package config loads configuration from environment variables and .env files.
package config

import (
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the campus QA service
type Config struct {
	// Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage locations
	DataDir      string `env:"DATA_DIR" envDefault:"data"`
	ArtifactDir  string `env:"ARTIFACT_DIR" envDefault:"artifacts"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"rag_database.db"`

	// Qdrant
	QdrantURL string `env:"QDRANT_URL" envDefault:"localhost:6334"`

	// Embedding service
	EmbedBaseURL   string `env:"EMBED_BASE_URL" envDefault:"http://localhost:8000"`
	EmbedModel     string `env:"EMBED_MODEL" envDefault:"nlpai-lab/KURE-v1"`
	EmbedDevice    string `env:"EMBED_DEVICE" envDefault:"cpu"`
	EmbedBatchSize int    `env:"EMBED_BATCH_SIZE" envDefault:"8"`
	EmbedDimension int    `env:"EMBED_DIMENSION" envDefault:"1024"`

	// LLM
	LLMBaseURL string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com"`
	LLMModel   string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMAPIKey  string `env:"OPENAI_API_KEY"`

	// Chunking and retrieval
	ChunkSize        int     `env:"CHUNK_SIZE" envDefault:"800"`
	ChunkOverlap     int     `env:"CHUNK_OVERLAP" envDefault:"120"`
	HybridAlpha      float64 `env:"HYBRID_ALPHA" envDefault:"0.4"`
	DefaultTopK      int     `env:"DEFAULT_TOP_K" envDefault:"5"`
	RecencyWeight    float64 `env:"RECENCY_WEIGHT" envDefault:"0.2"`
	MaxContextLength int     `env:"MAX_CONTEXT_LENGTH" envDefault:"8000"`

	// Conversation store. Empty RedisURL selects the in-memory store.
	RedisURL   string `env:"REDIS_URL"`
	MaxHistory int    `env:"MAX_HISTORY" envDefault:"10"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ChunksDir is where per-corpus chunk tables are persisted.
func (c *Config) ChunksDir() string {
	return filepath.Join(c.ArtifactDir, "chunks")
}

// VectorizerDir is where per-corpus sparse models are persisted.
func (c *Config) VectorizerDir() string {
	return filepath.Join(c.ArtifactDir, "vectorizers")
}
