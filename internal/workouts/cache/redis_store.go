package cache

import (
	"context"
	"errors"
	"time"

	"github.com/2beens/liftlog/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
)

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore keeps snapshots for ttl after the last write; 0 keeps them forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

func (s *RedisStore) Load(ctx context.Context, key Key) (_ *Snapshot, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "cache.redis.load")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("cache.key", key.String()))

	data, err := s.rdb.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return EmptySnapshot(), nil
	}
	if err != nil {
		return nil, err
	}

	return decode(key, data)
}

func (s *RedisStore) Save(ctx context.Context, key Key, snapshot *Snapshot) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "cache.redis.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("cache.key", key.String()),
		attribute.Int("cache.entries", len(snapshot.Entries)),
	)

	data, err := encode(snapshot)
	if err != nil {
		return err
	}

	return s.rdb.Set(ctx, key.String(), data, s.ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context, key Key) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "cache.redis.clear")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("cache.key", key.String()))

	return s.rdb.Del(ctx, key.String()).Err()
}
