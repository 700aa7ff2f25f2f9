//go:build integration

package bucket_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"portal/internal/ratelimit/store/bucket"
	"portal/pkg/testutil/containers"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *bucket.RedisBucketStore
}

func TestRedisBucketStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = bucket.NewRedis(s.redis.Client)
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// Concurrent callers must never be admitted past the limit.
func (s *RedisBucketStoreSuite) TestConcurrentAllow() {
	ctx := context.Background()
	const limit, goroutines = 10, 50

	var wg sync.WaitGroup
	var allowed, denied atomic.Int32
	for range goroutines {
		wg.Go(func() {
			result, err := s.store.Allow(ctx, "ratelimit:login:ip:198.51.100.7", limit, time.Minute)
			if !s.NoError(err) {
				return
			}
			if result.Allowed {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		})
	}
	wg.Wait()

	s.Equal(int32(limit), allowed.Load())
	s.Equal(int32(goroutines-limit), denied.Load())

	count, err := s.store.CurrentCount(ctx, "ratelimit:login:ip:198.51.100.7")
	s.Require().NoError(err)
	s.Equal(limit, count)
}

func (s *RedisBucketStoreSuite) TestWindowExpires() {
	ctx := context.Background()
	const limit = 3
	window := time.Second

	for range limit {
		res, err := s.store.Allow(ctx, "expiring", limit, window)
		s.Require().NoError(err)
		s.True(res.Allowed)
	}
	res, err := s.store.Allow(ctx, "expiring", limit, window)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.GreaterOrEqual(res.RetryAfter, 1)

	time.Sleep(1500 * time.Millisecond)

	res, err = s.store.Allow(ctx, "expiring", limit, window)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *RedisBucketStoreSuite) TestReset() {
	ctx := context.Background()
	_, err := s.store.Allow(ctx, "reset", 1, time.Minute)
	s.Require().NoError(err)
	res, err := s.store.Allow(ctx, "reset", 1, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)

	s.Require().NoError(s.store.Reset(ctx, "reset"))
	res, err = s.store.Allow(ctx, "reset", 1, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
}
