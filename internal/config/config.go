// Package config handles configuration for the agentflow services.
// Values come from an optional YAML file plus the process environment;
// credentials are environment-only and are validated at startup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/agentflow/agentflow/pkg/observability"
)

// Config represents the complete configuration for the platform
type Config struct {
	Service   ServiceConfig                `mapstructure:"service"`
	Database  DatabaseConfig               `mapstructure:"database"`
	Redis     RedisConfig                  `mapstructure:"redis"`
	Cache     CacheConfig                  `mapstructure:"cache"`
	Embedding EmbeddingConfig              `mapstructure:"embedding"`
	Workflow  WorkflowConfig               `mapstructure:"workflow"`
	Storage   StorageConfig                `mapstructure:"storage"`
	Social    SocialConfig                 `mapstructure:"social"`
	Tracing   observability.TracingConfig  `mapstructure:"tracing"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	Port            int           `mapstructure:"port" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DatabaseConfig contains Postgres connection settings
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxConns     int    `mapstructure:"max_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Address     string        `mapstructure:"address" validate:"required"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	MaxRetries  int           `mapstructure:"max_retries"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

// CacheConfig contains cache discipline settings
type CacheConfig struct {
	MaxBytes     int64         `mapstructure:"max_bytes"`
	EmbedTTL     time.Duration `mapstructure:"embed_ttl"`
	QueryTTL     time.Duration `mapstructure:"query_ttl"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
}

// EmbeddingConfig contains embedding provider settings
type EmbeddingConfig struct {
	APIKey          string        `mapstructure:"api_key" validate:"required"`
	Model           string        `mapstructure:"model"`
	Dimensions      int           `mapstructure:"dimensions"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxInFlight     int           `mapstructure:"max_in_flight"`
	TokensPerMinute int           `mapstructure:"tokens_per_minute"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// WorkflowConfig contains workflow runtime settings
type WorkflowConfig struct {
	ActivityWorkers   int           `mapstructure:"activity_workers"`
	QueueType         string        `mapstructure:"queue_type" validate:"oneof=memory sqs"`
	SQSQueueURL       string        `mapstructure:"sqs_queue_url"`
	ExecutionTimeout  time.Duration `mapstructure:"execution_timeout"`
	CompletionPoll    time.Duration `mapstructure:"completion_poll"`
}

// StorageConfig contains object storage settings
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Region  string `mapstructure:"region"`
}

// SocialConfig contains social publishing settings. The Graph API tokens
// are external collaborators; only their presence is checked here.
type SocialConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	FacebookToken string `mapstructure:"facebook_token"`
	InstagramToken string `mapstructure:"instagram_token"`
}

// Load reads configuration from config.yaml (if present) and the environment
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentflow")

	v.SetEnvPrefix("AGENTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Credentials come from the environment, never from the file
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Address = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if tok := os.Getenv("FACEBOOK_ACCESS_TOKEN"); tok != "" {
		cfg.Social.FacebookToken = tok
	}
	if tok := os.Getenv("INSTAGRAM_ACCESS_TOKEN"); tok != "" {
		cfg.Social.InstagramToken = tok
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate refuses a configuration with missing required credentials
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Workflow.QueueType == "sqs" && c.Workflow.SQSQueueURL == "" {
		return fmt.Errorf("invalid configuration: workflow.sqs_queue_url required when queue_type is sqs")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("invalid configuration: storage.bucket required when storage is enabled")
	}
	if c.Social.Enabled && c.Social.FacebookToken == "" && c.Social.InstagramToken == "" {
		return fmt.Errorf("invalid configuration: social publishing enabled without any platform token")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.shutdown_timeout", 30*time.Second)
	v.SetDefault("service.log_level", "info")

	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("cache.max_bytes", int64(512)<<20)
	v.SetDefault("cache.embed_ttl", 7*24*time.Hour)
	v.SetDefault("cache.query_ttl", time.Hour)
	v.SetDefault("cache.session_ttl", 24*time.Hour)

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.max_in_flight", 10)
	v.SetDefault("embedding.tokens_per_minute", 1_000_000)
	v.SetDefault("embedding.request_timeout", 30*time.Second)

	v.SetDefault("workflow.activity_workers", 8)
	v.SetDefault("workflow.queue_type", "memory")
	v.SetDefault("workflow.execution_timeout", 30*time.Minute)
	v.SetDefault("workflow.completion_poll", 2*time.Second)

	v.SetDefault("storage.region", "eu-west-1")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "agentflow")
}
