package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DATABASE_DSN", "postgres://localhost/agentflow_test")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Service.Port)
	assert.Equal(t, 30*time.Second, cfg.Service.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Service.LogLevel)

	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 1_000_000, cfg.Embedding.TokensPerMinute)

	assert.Equal(t, int64(512)<<20, cfg.Cache.MaxBytes)
	assert.Equal(t, time.Hour, cfg.Cache.QueryTTL)

	assert.Equal(t, "memory", cfg.Workflow.QueueType)
	assert.Equal(t, 8, cfg.Workflow.ActivityWorkers)
	assert.Equal(t, "eu-west-1", cfg.Storage.Region)
}

func TestLoadCredentialOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DATABASE_DSN", "postgres://localhost/agentflow_test")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("FACEBOOK_ACCESS_TOKEN", "fb-token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, "fb-token", cfg.Social.FacebookToken)
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("REDIS_ADDR", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func baseConfig() Config {
	return Config{
		Service:   ServiceConfig{Port: 8080},
		Database:  DatabaseConfig{DSN: "postgres://localhost/test"},
		Redis:     RedisConfig{Address: "localhost:6379"},
		Embedding: EmbeddingConfig{APIKey: "sk-test"},
		Workflow:  WorkflowConfig{QueueType: "memory"},
	}
}

func TestValidateConditionalRules(t *testing.T) {
	t.Run("sqs queue needs a url", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Workflow.QueueType = "sqs"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sqs_queue_url")

		cfg.Workflow.SQSQueueURL = "https://sqs.eu-west-1.amazonaws.com/1/agentflow-activities"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("enabled storage needs a bucket", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Storage.Enabled = true
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.bucket")

		cfg.Storage.Bucket = "agentflow-archive"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("enabled social needs a token", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Social.Enabled = true
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "platform token")

		cfg.Social.InstagramToken = "ig-token"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown queue type rejected", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Workflow.QueueType = "kafka"
		assert.Error(t, cfg.Validate())
	})
}
