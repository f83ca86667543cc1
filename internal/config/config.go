// Package config loads and validates docsearch configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. YAML config file (docsearch.yaml in the data directory)
//  3. DOCSEARCH_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete docsearch configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Search     SearchConfig     `yaml:"search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig configures the persistence layer.
type StorageConfig struct {
	// DataDir holds the SQLite database, keyword index, and lock files.
	DataDir string `yaml:"data_dir"`
}

// EmbeddingsConfig configures chunking, providers, and the job processor.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: "ollama", "openai", or "none".
	Provider string `yaml:"provider"`

	// Dimensions is the vector dimensionality; zero-vector fallbacks use it too.
	Dimensions int `yaml:"dimensions"`

	// ChunkSize is the maximum chunk size in estimated tokens.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the overlap between adjacent chunks in estimated tokens.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// BatchSize is the number of texts per provider call and the job fetch bound.
	BatchSize int `yaml:"batch_size"`

	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Retry  RetryConfig  `yaml:"retry"`
	Health HealthConfig `yaml:"health"`
	Jobs   JobsConfig   `yaml:"jobs"`
}

// OllamaConfig configures the local inference backend.
type OllamaConfig struct {
	Host    string        `yaml:"host"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// OpenAIConfig configures the hosted API backend.
// The API key is read from DOCSEARCH_OPENAI_API_KEY when not set here.
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig configures job retry behavior.
type RetryConfig struct {
	// MaxRetries is the retry ceiling before a job becomes terminally Failed.
	MaxRetries int `yaml:"max_retries"`

	// InitialDelay seeds the exponential backoff: delay = InitialDelay * 2^(n-1).
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// HealthConfig configures the periodic provider canary probe.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// JobsConfig configures the polling job processor.
type JobsConfig struct {
	// PollInterval is the cooperative polling cadence.
	PollInterval time.Duration `yaml:"poll_interval"`

	// FetchLimit bounds each pending / retry-ready batch fetch.
	FetchLimit int `yaml:"fetch_limit"`
}

// SearchConfig configures hybrid search fusion.
type SearchConfig struct {
	// Alpha is the keyword weight; the vector list gets (1 - Alpha).
	// Low alpha (0.3) biases toward vector evidence.
	Alpha float64 `yaml:"alpha"`

	// MinSimilarity filters vector candidates below this cosine similarity.
	MinSimilarity float64 `yaml:"min_similarity"`

	// RRFConstant is the K smoothing constant in the RRF formula.
	RRFConstant int `yaml:"rrf_constant"`

	// MaxResults caps the search limit a caller may request.
	MaxResults int `yaml:"max_results"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Embeddings: EmbeddingsConfig{
			Provider:     "ollama",
			Dimensions:   768,
			ChunkSize:    512,
			ChunkOverlap: 50,
			BatchSize:    50,
			Ollama: OllamaConfig{
				Host:    "http://localhost:11434",
				Model:   "nomic-embed-text",
				Timeout: 30 * time.Second,
			},
			OpenAI: OpenAIConfig{
				Model:   "text-embedding-3-small",
				Timeout: 30 * time.Second,
			},
			Retry: RetryConfig{
				MaxRetries:   3,
				InitialDelay: 5 * time.Second,
			},
			Health: HealthConfig{
				Interval: 60 * time.Second,
				Timeout:  10 * time.Second,
			},
			Jobs: JobsConfig{
				PollInterval: 30 * time.Second,
				FetchLimit:   50,
			},
		},
		Search: SearchConfig{
			Alpha:         0.3,
			MinSimilarity: 0.5,
			RRFConstant:   60,
			MaxResults:    100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultDataDir returns the default data directory (~/.docsearch).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docsearch")
	}
	return filepath.Join(home, ".docsearch")
}

// ConfigFileName is the YAML config file looked up inside the data directory.
const ConfigFileName = "docsearch.yaml"

// Load loads configuration for the given data directory. A missing config
// file is fine; defaults plus environment overrides apply.
func Load(dataDir string) (*Config, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	path := filepath.Join(cfg.Storage.DataDir, ConfigFileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the data directory as YAML.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(c.Storage.DataDir, ConfigFileName)
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides applies DOCSEARCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCSEARCH_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCSEARCH_OLLAMA_HOST"); v != "" {
		c.Embeddings.Ollama.Host = v
	}
	if v := os.Getenv("DOCSEARCH_OLLAMA_MODEL"); v != "" {
		c.Embeddings.Ollama.Model = v
	}
	if v := os.Getenv("DOCSEARCH_OPENAI_API_KEY"); v != "" {
		c.Embeddings.OpenAI.APIKey = v
	}
	if v := os.Getenv("DOCSEARCH_OPENAI_MODEL"); v != "" {
		c.Embeddings.OpenAI.Model = v
	}
	if v := os.Getenv("DOCSEARCH_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.Alpha = f
		}
	}
	if v := os.Getenv("DOCSEARCH_MIN_SIMILARITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.MinSimilarity = f
		}
	}
	if v := os.Getenv("DOCSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCSEARCH_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Embeddings.Jobs.PollInterval = d
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Embeddings.ChunkSize <= 0 {
		return fmt.Errorf("embeddings.chunk_size must be positive, got %d", c.Embeddings.ChunkSize)
	}
	if c.Embeddings.ChunkOverlap < 0 {
		return fmt.Errorf("embeddings.chunk_overlap must be non-negative, got %d", c.Embeddings.ChunkOverlap)
	}
	if c.Embeddings.ChunkOverlap >= c.Embeddings.ChunkSize {
		return fmt.Errorf("embeddings.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Embeddings.ChunkOverlap, c.Embeddings.ChunkSize)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.Retry.MaxRetries < 1 {
		return fmt.Errorf("embeddings.retry.max_retries must be at least 1, got %d", c.Embeddings.Retry.MaxRetries)
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("search.alpha must be in [0,1], got %g", c.Search.Alpha)
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("search.min_similarity must be in [0,1], got %g", c.Search.MinSimilarity)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	switch c.Embeddings.Provider {
	case "ollama", "openai", "none":
	default:
		return fmt.Errorf("embeddings.provider must be one of ollama, openai, none; got %q", c.Embeddings.Provider)
	}
	return nil
}
