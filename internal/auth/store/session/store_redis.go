package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
)

const (
	recordKeyPrefix = "session:rec:"
	userKeyPrefix   = "session:user:"
	sweepScanCount  = 200
)

// RedisRegistry shares session records across instances. Each record is a
// string key whose TTL ends at the token's expiry; a per-user set indexes
// the record keys and is pruned lazily by List and Sweep.
type RedisRegistry struct {
	client *redis.Client
	now    func() time.Time
}

type RedisOption func(*RedisRegistry)

func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisRegistry {
	r := &RedisRegistry{client: client, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// storedRecord is the wire form; SessionRecord hides its key from JSON.
type storedRecord struct {
	UserID      string `json:"user_id"`
	IssuedAtNs  int64  `json:"issued_at_ns"`
	models.SessionRecord
}

func recordKey(key models.SessionKey) string { return recordKeyPrefix + key.String() }
func userKey(userID id.UserID) string        { return userKeyPrefix + userID.String() }

func (r *RedisRegistry) Record(ctx context.Context, rec models.SessionRecord) error {
	ttl := rec.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(storedRecord{
		UserID:        rec.Key.UserID.String(),
		IssuedAtNs:    rec.Key.IssuedAt.UnixNano(),
		SessionRecord: rec,
	})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	idx := userKey(rec.Key.UserID)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, recordKey(rec.Key), payload, ttl)
	pipe.SAdd(ctx, idx, rec.Key.String())
	// index lives as long as the longest-lived member
	pipe.ExpireGT(ctx, idx, ttl)
	pipe.ExpireNX(ctx, idx, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Touch(ctx context.Context, key models.SessionKey, at time.Time) error {
	k := recordKey(key)
	raw, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return err
	}
	if !at.After(rec.LastActivity) {
		return nil
	}
	rec.LastActivity = at
	payload, err := json.Marshal(storedRecord{
		UserID:        key.UserID.String(),
		IssuedAtNs:    key.IssuedAt.UnixNano(),
		SessionRecord: rec,
	})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	// XX keeps a concurrent revoke from being undone
	err = r.client.SetArgs(ctx, k, payload, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) List(ctx context.Context, userID id.UserID) ([]models.SessionRecord, error) {
	idx := userKey(userID)
	members, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(members) == 0 {
		return []models.SessionRecord{}, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = recordKeyPrefix + m
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]models.SessionRecord, 0, len(values))
	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, members[i])
			continue
		}
		rec, err := decodeRecord([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		_ = r.client.SRem(ctx, idx, stale...).Err()
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *RedisRegistry) Revoke(ctx context.Context, key models.SessionKey) (bool, error) {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, recordKey(key))
	pipe.SRem(ctx, userKey(key.UserID), key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return del.Val() > 0, nil
}

func (r *RedisRegistry) RevokeAll(ctx context.Context, userID id.UserID) (int, error) {
	idx := userKey(userID)
	members, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, recordKeyPrefix+m)
	}

	pipe := r.client.TxPipeline()
	var del *redis.IntCmd
	if len(keys) > 0 {
		del = pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, idx)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	if del == nil {
		return 0, nil
	}
	return int(del.Val()), nil
}

// Sweep drops index members whose record has already expired out of Redis.
func (r *RedisRegistry) Sweep(ctx context.Context, _ time.Time) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, userKeyPrefix+"*", sweepScanCount).Iterator()
	for iter.Next(ctx) {
		n, err := r.pruneIndex(ctx, iter.Val())
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("sweep sessions: %w", err)
	}
	return removed, nil
}

func (r *RedisRegistry) pruneIndex(ctx context.Context, idx string) (int, error) {
	members, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	pipe := r.client.Pipeline()
	exists := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		exists[i] = pipe.Exists(ctx, recordKeyPrefix+m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	var stale []any
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, members[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := r.client.SRem(ctx, idx, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return int(n), nil
}

func decodeRecord(raw []byte) (models.SessionRecord, error) {
	var s storedRecord
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.SessionRecord{}, fmt.Errorf("decode session record: %w", err)
	}
	userID, err := id.ParseUserID(s.UserID)
	if err != nil {
		return models.SessionRecord{}, fmt.Errorf("decode session record: %w", err)
	}
	rec := s.SessionRecord
	rec.Key = models.SessionKey{UserID: userID, IssuedAt: time.Unix(0, s.IssuedAtNs).UTC()}
	return rec, nil
}
