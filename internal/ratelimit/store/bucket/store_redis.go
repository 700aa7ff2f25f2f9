package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"portal/internal/ratelimit/models"
)

// allowScript trims the window, then admits the request only when the sorted
// set still has room. Running it server-side keeps check-and-add atomic
// across instances.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, math.ceil(window / 1000))
  if count == 0 then
    return {1, count + 1, now}
  end
  return {1, count + 1, tonumber(oldest[2])}
end
return {0, count, tonumber(oldest[2])}
`)

// RedisBucketStore keeps each bucket as a sorted set of request timestamps
// (unix micros, exact in a Lua double) so every instance sees the same
// window.
type RedisBucketStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client, opts ...MemoryOption) *RedisBucketStore {
	// reuse the memory options so tests can share a clock
	m := New(opts...)
	return &RedisBucketStore{client: client, now: m.now}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	member := strconv.FormatInt(now.UnixMicro(), 10) + "-" + uuid.NewString()
	res, err := allowScript.Run(ctx, s.client, []string{key},
		now.UnixMicro(), window.Microseconds(), limit, member).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ratelimit allow %s: %w", key, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("ratelimit allow %s: unexpected reply %v", key, res)
	}
	resetAt := time.UnixMicro(res[2]).Add(window)
	if res[0] == 1 {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - int(res[1]),
			ResetAt:   resetAt,
		}, nil
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: models.RetryAfterSeconds(now, resetAt),
	}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// CurrentCount may include entries older than the window until the next
// Allow on the key trims them.
func (s *RedisBucketStore) CurrentCount(ctx context.Context, key string) (int, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
