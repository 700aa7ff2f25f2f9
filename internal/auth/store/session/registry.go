// Package session keeps the advisory registry of live tokens. Nothing here
// decides whether a token is honored; the user's SessionVersion does that.
package session

import (
	"context"
	"time"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
	"portal/pkg/platform/sentinel"
)

// ErrNotFound is returned by Touch when the key has no record.
var ErrNotFound = sentinel.ErrNotFound

// Registry is implemented by InMemoryRegistry and RedisRegistry.
type Registry interface {
	Record(ctx context.Context, rec models.SessionRecord) error
	Touch(ctx context.Context, key models.SessionKey, at time.Time) error
	List(ctx context.Context, userID id.UserID) ([]models.SessionRecord, error)
	Revoke(ctx context.Context, key models.SessionKey) (bool, error)
	RevokeAll(ctx context.Context, userID id.UserID) (int, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

var (
	_ Registry = (*InMemoryRegistry)(nil)
	_ Registry = (*RedisRegistry)(nil)
)

// CountLive returns how many records are unexpired at now.
func CountLive(records []models.SessionRecord, now time.Time) int {
	n := 0
	for _, r := range records {
		if !r.Expired(now) {
			n++
		}
	}
	return n
}
