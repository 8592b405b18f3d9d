package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCacheRepo struct{}

func (failingCacheRepo) Get(context.Context, string, interface{}) error {
	return errors.New("redis down")
}
func (failingCacheRepo) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("redis down")
}
func (failingCacheRepo) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}
func (failingCacheRepo) Release(context.Context, string) error { return errors.New("redis down") }

func TestCacheServiceDisabledIsPassThrough(t *testing.T) {
	svc := NewCacheService(nil, nil, 0, nil, false)
	var out string
	hit, err := svc.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	assert.True(t, svc.Claim(context.Background(), "k", 0))
	assert.True(t, svc.Claim(context.Background(), "k", 0))
}

func TestCacheServiceClaimsOnce(t *testing.T) {
	repo := &claimRepoStub{claims: map[string]bool{}, values: map[string]string{}}
	svc := NewCacheService(repo, NewMetricsService(), time.Minute, nil, true)

	assert.True(t, svc.Claim(context.Background(), "delivery:x", 0))
	assert.False(t, svc.Claim(context.Background(), "delivery:x", 0))
	svc.Release(context.Background(), "delivery:x")
	assert.True(t, svc.Claim(context.Background(), "delivery:x", 0))
}

func TestCacheServiceFailsOpen(t *testing.T) {
	svc := NewCacheService(failingCacheRepo{}, nil, time.Minute, nil, true)
	assert.True(t, svc.Claim(context.Background(), "k", 0))

	var out string
	hit, err := svc.Get(context.Background(), "k", &out)
	assert.Error(t, err)
	assert.False(t, hit)
}

func TestIdentityServiceCachesLookups(t *testing.T) {
	gw := &gatewayStub{identities: map[string]string{"u1": "union-1"}}
	repo := &claimRepoStub{claims: map[string]bool{}, values: map[string]string{}}
	svc := NewIdentityService(gw, NewCacheService(repo, nil, time.Hour, nil, true), time.Hour)

	for i := 0; i < 2; i++ {
		id, err := svc.Resolve(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "union-1", id)
	}
	assert.Equal(t, 1, gw.lookups)

	_, err := svc.Resolve(context.Background(), "ghost")
	assert.Error(t, err)
	assert.Equal(t, 2, gw.lookups)
}
