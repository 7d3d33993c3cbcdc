// Package config loads the ccengram configuration: YAML at the config root,
// an optional per-project override, then environment variables on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the daemon's TCP port when PORT is unset.
const DefaultPort = 8642

// Config is the complete daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// ServerConfig configures the JSON-RPC listeners.
type ServerConfig struct {
	// Port is the local TCP port; 0 disables TCP.
	Port int `yaml:"port"`
	// UnixSocket enables the Unix domain socket listener.
	UnixSocket bool `yaml:"unix_socket"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// EmbeddingConfig configures the embedding gateway.
type EmbeddingConfig struct {
	// Provider selects the implementation: "ollama" or "openrouter".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Dimensions is the schema vector dimension D; provider outputs are
	// padded or truncated to this length.
	Dimensions    int    `yaml:"dimensions"`
	MaxBatchSize  int    `yaml:"max_batch_size"`
	ContextLength int    `yaml:"context_length"`
	OllamaHost    string `yaml:"ollama_host"`
	RemoteBaseURL string `yaml:"remote_base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

// RateLimitConfig bounds request throughput with a sliding window.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// RetryConfig configures exponential backoff for provider calls.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         bool          `yaml:"jitter"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ExtractionConfig configures the LLM extraction orchestrator.
type ExtractionConfig struct {
	Model          string        `yaml:"model"`
	TimeoutSecs    int           `yaml:"timeout_secs"`
	SupersedeTopK  int           `yaml:"supersede_top_k"`
	MaxMessageSize int           `yaml:"max_message_size"`
	MinToolCalls   int           `yaml:"min_tool_calls"`
	MinTasksDone   int           `yaml:"min_tasks_done"`
}

// ChunkerConfig bounds chunk sizes in lines.
type ChunkerConfig struct {
	TargetLines int `yaml:"target_lines"`
	MinLines    int `yaml:"min_lines"`
	MaxLines    int `yaml:"max_lines"`
}

// WatcherConfig configures the debounced file watcher.
type WatcherConfig struct {
	FileDebounce time.Duration `yaml:"file_debounce"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SchedulerConfig configures background maintenance cadences.
type SchedulerConfig struct {
	DecayInterval      time.Duration `yaml:"decay_interval"`
	DecayBatchSize     int           `yaml:"decay_batch_size"`
	SessionCleanup     time.Duration `yaml:"session_cleanup"`
	MaxSessionAgeHours int           `yaml:"max_session_age_hours"`
	LogRetentionDays   int           `yaml:"log_retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       DefaultPort,
			UnixSocket: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Embedding: EmbeddingConfig{
			Provider:      "ollama",
			Model:         "nomic-embed-text",
			Dimensions:    768,
			MaxBatchSize:  32,
			ContextLength: 2048,
			OllamaHost:    "http://localhost:11434",
			APIKeyEnv:     "OPENROUTER_API_KEY",
			RateLimit: RateLimitConfig{
				Window:      time.Minute,
				MaxRequests: 60,
				MaxWait:     30 * time.Second,
			},
			Retry: RetryConfig{
				MaxRetries:     3,
				InitialBackoff: time.Second,
				MaxBackoff:     16 * time.Second,
				Multiplier:     2.0,
				Jitter:         true,
				RequestTimeout: 60 * time.Second,
			},
		},
		Extraction: ExtractionConfig{
			Model:          "qwen2.5:7b",
			TimeoutSecs:    60,
			SupersedeTopK:  5,
			MaxMessageSize: 10 * 1024,
			MinToolCalls:   5,
			MinTasksDone:   3,
		},
		Chunker: ChunkerConfig{
			TargetLines: 50,
			MinLines:    10,
			MaxLines:    100,
		},
		Watcher: WatcherConfig{
			FileDebounce: 500 * time.Millisecond,
			PollInterval: time.Second,
		},
		Scheduler: SchedulerConfig{
			DecayInterval:      60 * time.Hour,
			DecayBatchSize:     5000,
			SessionCleanup:     6 * time.Hour,
			MaxSessionAgeHours: 24 * 14,
			LogRetentionDays:   14,
		},
	}
}

// Load reads config.yaml from the config root (missing file is fine),
// then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()
	path := filepath.Join(ConfigRoot(), "config.yaml")
	if err := mergeFile(cfg, path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, cfg.validate()
}

// LoadForProject layers the per-project override on top of the base config.
func LoadForProject(base *Config, projectRoot string) (*Config, error) {
	out := *base
	if err := mergeFile(&out, ProjectOverridePath(projectRoot)); err != nil {
		return nil, err
	}
	return &out, out.validate()
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("CCENGRAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Embedding.OllamaHost = host
	}
	if provider := os.Getenv("CCENGRAM_EMBEDDING_PROVIDER"); provider != "" {
		c.Embedding.Provider = provider
	}
}

func (c *Config) validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.MaxBatchSize <= 0 {
		return fmt.Errorf("embedding.max_batch_size must be positive, got %d", c.Embedding.MaxBatchSize)
	}
	if c.Chunker.MinLines > c.Chunker.TargetLines || c.Chunker.TargetLines > c.Chunker.MaxLines {
		return fmt.Errorf("chunker lines must satisfy min <= target <= max, got %d/%d/%d",
			c.Chunker.MinLines, c.Chunker.TargetLines, c.Chunker.MaxLines)
	}
	if c.Scheduler.DecayBatchSize <= 0 {
		return fmt.Errorf("scheduler.decay_batch_size must be positive, got %d", c.Scheduler.DecayBatchSize)
	}
	return nil
}
