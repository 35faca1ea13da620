// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format   string `yaml:"format" validate:"oneof=json console"`
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url" validate:"required"`
	MaxConns int    `yaml:"max_conns" validate:"gte=1"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Channel      string        `yaml:"channel" validate:"required,max=63"`
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	LeaseTimeout time.Duration `yaml:"lease_timeout" validate:"gt=0"`
	ReapInterval time.Duration `yaml:"reap_interval" validate:"gt=0"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" validate:"gte=0"`
	BaseDelay     time.Duration `yaml:"base_delay" validate:"gte=0"`
	BackoffFactor float64       `yaml:"backoff_factor" validate:"gte=1"`
	MaxDelay      time.Duration `yaml:"max_delay" validate:"gte=0"`
}

type PipelineConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent" validate:"gte=1"`
	StageTimeout   time.Duration `yaml:"stage_timeout" validate:"gt=0"`
	CallTimeout    time.Duration `yaml:"call_timeout" validate:"gt=0"`
	ChunkTokens    int           `yaml:"chunk_tokens" validate:"gte=16"`
	TokenEncoding  string        `yaml:"token_encoding"`
	EmbedBatchSize int           `yaml:"embed_batch_size" validate:"gte=1"`
	EmbedWorkers   int           `yaml:"embed_workers" validate:"gte=1"`
	DocumentLock   bool          `yaml:"document_lock"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	Retry          RetryConfig   `yaml:"retry"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=badger redis memory"`
	BatchSize   int    `yaml:"batch_size" validate:"gte=1"`
	ItemRetries int    `yaml:"item_retries" validate:"gte=0"`
	BadgerPath  string `yaml:"badger_path" validate:"required_if=Backend badger"`
}

type EmbeddingConfig struct {
	Provider        string `yaml:"provider" validate:"oneof=openai gemini hash"`
	Model           string `yaml:"model"`
	Dimensions      int    `yaml:"dimensions" validate:"gte=0"`
	OpenAIKey       string `yaml:"openai_key" validate:"required_if=Provider openai"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key" validate:"required_if=Provider gemini"`
	GeminiURL       string `yaml:"gemini_url"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent embedding calls
	RatePerMinute   int    `yaml:"rate_per_minute"`  // 0 disables the shared rate limit
}

type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	Topic        string   `yaml:"topic"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Events    EventsConfig    `yaml:"events"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	// Retry counts default before decoding so an explicit 0 disables retries.
	cfg := Config{
		Queue:    QueueConfig{MaxRetries: 3},
		Pipeline: PipelineConfig{Retry: RetryConfig{MaxRetries: 3}},
		Store:    StoreConfig{ItemRetries: 2},
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.Database.URL == "" {
		cfg.Database.URL = v
	}
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Store.Backend == "redis" && cfg.Redis.URL == "" {
		return nil, fmt.Errorf("invalid config: store.backend=redis requires redis.url")
	}
	if cfg.Pipeline.DocumentLock && cfg.Redis.URL == "" {
		return nil, fmt.Errorf("invalid config: pipeline.document_lock requires redis.url")
	}
	if cfg.Embedding.RatePerMinute > 0 && cfg.Redis.URL == "" {
		return nil, fmt.Errorf("invalid config: embedding.rate_per_minute requires redis.url")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 9090
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}

	if cfg.Queue.Channel == "" {
		cfg.Queue.Channel = "job_queue"
	}
	cfg.Queue.PollInterval = orDefault(cfg.Queue.PollInterval, 5*time.Second)
	cfg.Queue.LeaseTimeout = orDefault(cfg.Queue.LeaseTimeout, 15*time.Minute)
	cfg.Queue.ReapInterval = orDefault(cfg.Queue.ReapInterval, time.Minute)

	if cfg.Pipeline.MaxConcurrent <= 0 {
		cfg.Pipeline.MaxConcurrent = 4
	}
	cfg.Pipeline.StageTimeout = orDefault(cfg.Pipeline.StageTimeout, 10*time.Minute)
	cfg.Pipeline.CallTimeout = orDefault(cfg.Pipeline.CallTimeout, time.Minute)
	cfg.Pipeline.LockTTL = orDefault(cfg.Pipeline.LockTTL, 30*time.Minute)
	if cfg.Pipeline.ChunkTokens <= 0 {
		cfg.Pipeline.ChunkTokens = 512
	}
	if cfg.Pipeline.EmbedBatchSize <= 0 {
		cfg.Pipeline.EmbedBatchSize = 32
	}
	if cfg.Pipeline.EmbedWorkers <= 0 {
		cfg.Pipeline.EmbedWorkers = 4
	}
	cfg.Pipeline.Retry.BaseDelay = orDefault(cfg.Pipeline.Retry.BaseDelay, time.Second)
	cfg.Pipeline.Retry.MaxDelay = orDefault(cfg.Pipeline.Retry.MaxDelay, 30*time.Second)
	if cfg.Pipeline.Retry.BackoffFactor < 1 {
		cfg.Pipeline.Retry.BackoffFactor = 2
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "badger"
	}
	if cfg.Store.BatchSize <= 0 {
		cfg.Store.BatchSize = 50
	}
	if cfg.Store.Backend == "badger" && cfg.Store.BadgerPath == "" {
		cfg.Store.BadgerPath = "data/chunks"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.ConcurrentLimit <= 0 {
		cfg.Embedding.ConcurrentLimit = 8
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "document-pipeline"
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
