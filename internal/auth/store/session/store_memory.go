package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
)

// sweepBatchSize bounds how many deletions happen per write-lock hold.
const sweepBatchSize = 256

// InMemoryRegistry is a per-process registry. In a multi-instance deployment
// each instance sees only the sessions it authenticated.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]models.SessionRecord
	byUser  map[id.UserID]map[string]struct{}
}

func New() *InMemoryRegistry {
	return &InMemoryRegistry{
		records: make(map[string]models.SessionRecord),
		byUser:  make(map[id.UserID]map[string]struct{}),
	}
}

// Record inserts or replaces the record for rec.Key.
func (r *InMemoryRegistry) Record(_ context.Context, rec models.SessionRecord) error {
	k := rec.Key.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[k] = rec
	keys, ok := r.byUser[rec.Key.UserID]
	if !ok {
		keys = make(map[string]struct{})
		r.byUser[rec.Key.UserID] = keys
	}
	keys[k] = struct{}{}
	return nil
}

func (r *InMemoryRegistry) Touch(_ context.Context, key models.SessionKey, at time.Time) error {
	k := key.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[k]
	if !ok {
		return ErrNotFound
	}
	if at.After(rec.LastActivity) {
		rec.LastActivity = at
		r.records[k] = rec
	}
	return nil
}

// List returns the user's records, most recently issued first.
func (r *InMemoryRegistry) List(_ context.Context, userID id.UserID) ([]models.SessionRecord, error) {
	r.mu.RLock()
	out := make([]models.SessionRecord, 0, len(r.byUser[userID]))
	for k := range r.byUser[userID] {
		out = append(out, r.records[k])
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func (r *InMemoryRegistry) Revoke(_ context.Context, key models.SessionKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(key.String()), nil
}

func (r *InMemoryRegistry) RevokeAll(_ context.Context, userID id.UserID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.byUser[userID]
	for k := range keys {
		delete(r.records, k)
	}
	delete(r.byUser, userID)
	return len(keys), nil
}

// Sweep removes records expired at now. Candidates are gathered under the
// read lock and deleted in batches so no single write-lock hold is long.
func (r *InMemoryRegistry) Sweep(ctx context.Context, now time.Time) (int, error) {
	r.mu.RLock()
	var expired []string
	for k, rec := range r.records {
		if rec.Expired(now) {
			expired = append(expired, k)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for batch := range slices.Chunk(expired, sweepBatchSize) {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		r.mu.Lock()
		for _, k := range batch {
			// re-check: the record may have been replaced since the scan
			if rec, ok := r.records[k]; ok && rec.Expired(now) {
				if r.deleteLocked(k) {
					removed++
				}
			}
		}
		r.mu.Unlock()
	}
	return removed, nil
}

// Len reports the number of tracked records.
func (r *InMemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *InMemoryRegistry) deleteLocked(k string) bool {
	rec, ok := r.records[k]
	if !ok {
		return false
	}
	delete(r.records, k)
	if keys, ok := r.byUser[rec.Key.UserID]; ok {
		delete(keys, k)
		if len(keys) == 0 {
			delete(r.byUser, rec.Key.UserID)
		}
	}
	return true
}

func sortNewestFirst(recs []models.SessionRecord) {
	slices.SortFunc(recs, func(a, b models.SessionRecord) int {
		return b.Key.IssuedAt.Compare(a.Key.IssuedAt)
	})
}
