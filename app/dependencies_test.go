package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/image-gateway/config"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services/memo"
	"github.com/upb/image-gateway/services/providers/providertest"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Port:           8080,
			RequestTimeout: 5 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Generation: config.GenerationConfig{
			PollInterval:        time.Millisecond,
			MaxPolls:            5,
			RateLimitedPollWait: time.Millisecond,
			SubmitRetries:       1,
			BackoffBase:         time.Millisecond,
			BillingRequiredTTL:  time.Hour,
			RateLimitedTTL:      30 * time.Second,
			Candidates: []models.Candidate{
				{Identifier: "acme/paid", IsPaid: true},
				{Identifier: "acme/free"},
			},
		},
		History: config.HistoryConfig{BufferSize: 10, WorkerCount: 1},
	}
}

func TestNewDependencies(t *testing.T) {
	ctx := context.Background()

	t.Run("process-local memo without optional infrastructure", func(t *testing.T) {
		deps, err := NewDependenciesWithProvider(ctx, testConfig(), providertest.NewFakeClient(), zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Redis)
		assert.Nil(t, deps.History)
		assert.IsType(t, &memo.LocalMemo{}, deps.Memo)
		assert.Equal(t, 2, deps.Catalog.Len())
		assert.NotNil(t, deps.Orchestrator)
		assert.NotNil(t, deps.GenerationHandler)
		assert.NotNil(t, deps.CandidatesHandler)
		assert.NotNil(t, deps.HealthHandler)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("shared memo when a failure cache is configured", func(t *testing.T) {
		mr := miniredis.RunT(t)

		cfg := testConfig()
		cfg.Redis = &config.RedisConfig{
			URL:       "redis://" + mr.Addr(),
			KeyPrefix: "genfail:",
			OpTimeout: time.Second,
		}

		deps, err := NewDependenciesWithProvider(ctx, cfg, providertest.NewFakeClient(), zaptest.NewLogger(t))
		require.NoError(t, err)

		require.NotNil(t, deps.Redis)
		assert.IsType(t, &memo.RedisMemo{}, deps.Memo)

		deps.Memo.Set(ctx, "acme/free", models.FailureKindRateLimited, "HTTP 429", time.Minute)
		assert.True(t, mr.Exists("genfail:acme/free"))

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("unreachable failure cache is not fatal", func(t *testing.T) {
		mr := miniredis.RunT(t)
		mr.SetError("ERR failure cache disabled")

		cfg := testConfig()
		cfg.Redis = &config.RedisConfig{URL: "redis://" + mr.Addr(), OpTimeout: 100 * time.Millisecond}

		deps, err := NewDependenciesWithProvider(ctx, cfg, providertest.NewFakeClient(), zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("invalid failure cache URL", func(t *testing.T) {
		cfg := testConfig()
		cfg.Redis = &config.RedisConfig{URL: "http://not-redis"}

		_, err := NewDependenciesWithProvider(ctx, cfg, providertest.NewFakeClient(), zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize failure memo")
	})

	t.Run("duplicate candidates", func(t *testing.T) {
		cfg := testConfig()
		cfg.Generation.Candidates = append(cfg.Generation.Candidates, models.Candidate{Identifier: "acme/free"})

		_, err := NewDependenciesWithProvider(ctx, cfg, providertest.NewFakeClient(), zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize services")
	})

	t.Run("database connection failure", func(t *testing.T) {
		cfg := testConfig()
		cfg.Database = &config.DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     1,
			User:     "postgres",
			Password: "postgres",
			Database: "generations",
			SSLMode:  "disable",
		}

		_, err := NewDependenciesWithProvider(ctx, cfg, providertest.NewFakeClient(), zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})
}
