package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
)

// CacheRepository abstracts the key-value store behind identity caching and
// delivery claims.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// CacheService wraps CacheRepository with metrics and degrades to a pass
// through when disabled. Store failures never fail the caller's operation.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

func (s *CacheService) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

// Get loads key into dest and reports whether it was found. A miss is not an
// error.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		return false, nil
	}
	s.logger.Sugar().Warnw("cache lookup failed", "key", key, "error", err)
	return false, err
}

// Set stores value under key. A non-positive ttl uses the default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.Set(ctx, key, value, s.ttl(ttl)); err != nil {
		s.logger.Sugar().Warnw("cache store failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Claim takes a one-time claim on key. With caching disabled, or when the
// store is unreachable, the claim is granted.
func (s *CacheService) Claim(ctx context.Context, key string, ttl time.Duration) bool {
	if !s.Enabled() {
		return true
	}
	ok, err := s.repo.Claim(ctx, key, s.ttl(ttl))
	if err != nil {
		s.logger.Sugar().Warnw("cache claim failed, proceeding unclaimed", "key", key, "error", err)
		return true
	}
	return ok
}

// Release drops a claim taken with Claim.
func (s *CacheService) Release(ctx context.Context, key string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Release(ctx, key); err != nil {
		s.logger.Sugar().Warnw("cache release failed", "key", key, "error", err)
	}
}
