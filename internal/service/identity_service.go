package service

import (
	"context"
	"strings"
	"time"

	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
)

const identityKeyPrefix = "identity:"

type identityLookup interface {
	ResolveIdentity(ctx context.Context, userID string) (string, error)
}

// IdentityService resolves platform user ids to directory identities,
// caching successful lookups.
type IdentityService struct {
	lookup identityLookup
	cache  *CacheService
	ttl    time.Duration
}

// NewIdentityService constructs an IdentityService. cache may be nil.
func NewIdentityService(lookup identityLookup, cache *CacheService, ttl time.Duration) *IdentityService {
	return &IdentityService{lookup: lookup, cache: cache, ttl: ttl}
}

// Resolve returns the identity for userID.
func (s *IdentityService) Resolve(ctx context.Context, userID string) (string, error) {
	key := identityKeyPrefix + userID

	var cached string
	if hit, _ := s.cache.Get(ctx, key, &cached); hit && cached != "" {
		return cached, nil
	}

	identity, err := s.lookup.ResolveIdentity(ctx, userID)
	if err != nil {
		return "", appErrors.WrapAs(appErrors.ErrIdentityUnresolved, err, "resolve identity for "+userID)
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", appErrors.Clone(appErrors.ErrIdentityUnresolved, "empty identity for "+userID)
	}

	_ = s.cache.Set(ctx, key, identity, s.ttl)
	return identity, nil
}
