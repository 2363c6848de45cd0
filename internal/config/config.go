package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // session cache entry lifetime
}

type AIConfig struct {
	OpenAIKey     string `yaml:"openai_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	GeminiKey     string `yaml:"gemini_key"`
	GeminiURL     string `yaml:"gemini_url"`
	DefaultModel  string `yaml:"default_model"`

	ConcurrentLimit int `yaml:"concurrent_limit"` // max concurrent provider calls

	// Fallback behavior when the provider circuit is open: serve the canned
	// apology stream instead of failing the job.
	FallbackMessage string `yaml:"fallback_message"`
}

type QueueConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	MaxRetries     int           `yaml:"max_retries"`
	LockLease      time.Duration `yaml:"lock_lease"`
	IdleInterval   time.Duration `yaml:"idle_interval"`   // poll interval when queue is empty
	BusyInterval   time.Duration `yaml:"busy_interval"`   // interval between non-empty batches
	MaxRunDuration time.Duration `yaml:"max_run_duration"`
	HistoryWindow  int           `yaml:"history_window"` // prior messages sent as context
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type WebConfig struct {
	Port          int           `yaml:"port"`
	AuthSecret    string        `yaml:"auth_secret"`    // HMAC secret for session JWTs
	FallbackToken string        `yaml:"fallback_token"` // shared credential for tokenless callers
	SessionTTL    time.Duration `yaml:"session_ttl"`
	EmbedWorker   bool          `yaml:"embed_worker"` // run a continuous worker in-process
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Queue    QueueConfig    `yaml:"queue"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Web      WebConfig      `yaml:"web"`

	Runtime RuntimeConfig `yaml:"-"`
}

// DefaultFallbackMessage is streamed, chunked, when the provider cannot be
// reached and the breaker is open.
const DefaultFallbackMessage = "I'm sorry, the assistant is temporarily unavailable. Your question has been saved; please try again in a moment."

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 15 * time.Minute
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.FallbackMessage == "" {
		cfg.AI.FallbackMessage = DefaultFallbackMessage
	}
	if cfg.Queue.BatchSize <= 0 {
		cfg.Queue.BatchSize = 5
	}
	if cfg.Queue.MaxRetries <= 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.LockLease <= 0 {
		cfg.Queue.LockLease = 5 * time.Minute
	}
	if cfg.Queue.IdleInterval <= 0 {
		cfg.Queue.IdleInterval = 5 * time.Second
	}
	if cfg.Queue.BusyInterval <= 0 {
		cfg.Queue.BusyInterval = time.Second
	}
	if cfg.Queue.MaxRunDuration <= 0 {
		cfg.Queue.MaxRunDuration = 5 * time.Minute
	}
	if cfg.Queue.HistoryWindow <= 0 {
		cfg.Queue.HistoryWindow = 10
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Cooldown <= 0 {
		cfg.Breaker.Cooldown = 30 * time.Second
	}
	if cfg.Web.Port <= 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.SessionTTL <= 0 {
		cfg.Web.SessionTTL = 24 * time.Hour
	}

	// minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Web.AuthSecret == "" && !dev {
		return nil, errors.New("web.auth_secret is required outside dev mode")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
