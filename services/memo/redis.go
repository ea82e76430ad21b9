package memo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/image-gateway/models"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "genfail:"

// RedisMemo is a FailureMemo shared across processes through Redis.
// Expiry is delegated to Redis key TTLs. Any Redis error makes that single
// operation fall back to an internal LocalMemo.
type RedisMemo struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
	local     *LocalMemo
	now       Clock
	logger    *zap.Logger
}

// RedisOption configures a RedisMemo
type RedisOption func(*RedisMemo)

// WithKeyPrefix sets the Redis key prefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(m *RedisMemo) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithOpTimeout bounds each Redis call
func WithOpTimeout(d time.Duration) RedisOption {
	return func(m *RedisMemo) {
		m.opTimeout = d
	}
}

// WithClock overrides the clock used for record timestamps and the local fallback
func WithClock(clock Clock) RedisOption {
	return func(m *RedisMemo) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewRedisMemo creates a Redis-backed memo
func NewRedisMemo(client redis.UniversalClient, logger *zap.Logger, opts ...RedisOption) *RedisMemo {
	m := &RedisMemo{
		client:    client,
		prefix:    defaultKeyPrefix,
		opTimeout: 500 * time.Millisecond,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.local = NewLocalMemoWithClock(m.now)
	return m
}

// Get reads the record from Redis, falling back to process memory on error
func (m *RedisMemo) Get(ctx context.Context, identifier string) *models.FailureRecord {
	rec, err := m.get(ctx, identifier)
	if err != nil {
		m.logger.Warn("failure memo read failed, using process-local memo",
			zap.String("candidate", identifier),
			zap.Error(err))
		return m.local.Get(ctx, identifier)
	}
	return rec
}

// Set writes the record to Redis with a native TTL, falling back to process memory on error
func (m *RedisMemo) Set(ctx context.Context, identifier string, kind models.FailureKind, details string, ttl time.Duration) {
	if err := m.set(ctx, identifier, kind, details, ttl); err != nil {
		m.logger.Warn("failure memo write failed, using process-local memo",
			zap.String("candidate", identifier),
			zap.String("kind", string(kind)),
			zap.Error(err))
		m.local.Set(ctx, identifier, kind, details, ttl)
	}
}

// Ping checks connectivity to the shared store
func (m *RedisMemo) Ping(ctx context.Context) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.client.Ping(ctx).Err()
}

func (m *RedisMemo) get(ctx context.Context, identifier string) (*models.FailureRecord, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	data, err := m.client.Get(ctx, m.key(identifier)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec models.FailureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal failure record: %w", err)
	}
	return &rec, nil
}

func (m *RedisMemo) set(ctx context.Context, identifier string, kind models.FailureKind, details string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("failure memo ttl must be positive")
	}

	rec := models.NewFailureRecord(identifier, kind, details, m.now(), ttl)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal failure record: %w", err)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := m.client.Set(ctx, m.key(identifier), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Fallback returns the process-local memo used while the shared store is unreachable
func (m *RedisMemo) Fallback() *LocalMemo {
	return m.local
}

func (m *RedisMemo) key(identifier string) string {
	return m.prefix + identifier
}

func (m *RedisMemo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opTimeout)
}
