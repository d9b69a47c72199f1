package signature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pgx-lims-server/internal/domain"
)

const cacheKeyPrefix = "signature:"

// CachedFetcher wraps a fetcher with a Redis TTL cache. Signature
// images change rarely; a short TTL keeps a replaced signature from
// lingering for long. Cache failures fall through to the wrapped
// fetcher.
type CachedFetcher struct {
	inner domain.SignatureFetcher
	redis *redis.Client
	ttl   time.Duration
	log   *logrus.Logger
}

// NewCachedFetcher wraps inner with the Redis cache.
func NewCachedFetcher(inner domain.SignatureFetcher, redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedFetcher {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedFetcher{
		inner: inner,
		redis: redisClient,
		ttl:   ttl,
		log:   logger,
	}
}

// Fetch returns the cached image when present, otherwise fetches and
// caches it.
func (f *CachedFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	key := cacheKeyPrefix + ref

	data, err := f.redis.Get(ctx, key).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		f.log.WithError(err).WithField("ref", ref).Warn("Signature cache read failed")
	}

	data, err = f.inner.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	if err := f.redis.Set(ctx, key, data, f.ttl).Err(); err != nil {
		f.log.WithError(err).WithField("ref", ref).Warn("Signature cache write failed")
	}

	return data, nil
}

// Invalidate drops the cached image for ref, used when a staff member
// replaces their signature.
func (f *CachedFetcher) Invalidate(ctx context.Context, ref string) error {
	if err := f.redis.Del(ctx, cacheKeyPrefix+ref).Err(); err != nil {
		return fmt.Errorf("invalidating signature cache for %s: %w", ref, err)
	}
	return nil
}
