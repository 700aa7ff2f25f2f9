package user

import (
	"context"
	"strings"
	"sync"
	"time"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
	"portal/pkg/platform/sentinel"
)

// ErrNotFound is returned when no user matches a lookup.
var ErrNotFound = sentinel.ErrNotFound

// ErrConflict is returned when an email or username is already taken.
var ErrConflict = sentinel.ErrConflict

// InMemoryUserStore keeps users in a map guarded by a single lock. Each
// Update is an atomic read-modify-write of one record. Records are copied on
// the way in and out so callers never alias stored state.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[id.UserID]*models.User
}

func New() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[id.UserID]*models.User)}
}

func (s *InMemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return ErrConflict
	}
	for _, u := range s.users {
		if u.Email == user.Email || strings.EqualFold(u.Username, user.Username) {
			return ErrConflict
		}
	}
	s.users[user.ID] = clone(user)
	return nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return clone(u), nil
	}
	return nil, ErrNotFound
}

// FindByEmailOrUsername matches either field; empty arguments never match.
func (s *InMemoryUserStore) FindByEmailOrUsername(_ context.Context, email, username string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	username = strings.TrimSpace(username)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if (email != "" && u.Email == email) || (username != "" && strings.EqualFold(u.Username, username)) {
			return clone(u), nil
		}
	}
	return nil, ErrNotFound
}

// FindByResetToken returns the user holding token only while it is unexpired at now.
func (s *InMemoryUserStore) FindByResetToken(_ context.Context, token string, now time.Time) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ResetTokenValid(token, now) {
			return clone(u), nil
		}
	}
	return nil, ErrNotFound
}

// Update applies fn to the stored user under the write lock. If fn returns
// an error nothing is written.
func (s *InMemoryUserStore) Update(_ context.Context, userID id.UserID, fn func(*models.User) error) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	working := clone(current)
	if err := fn(working); err != nil {
		return nil, err
	}
	for otherID, u := range s.users {
		if otherID == userID {
			continue
		}
		if u.Email == working.Email || strings.EqualFold(u.Username, working.Username) {
			return nil, ErrConflict
		}
	}
	s.users[userID] = working
	return clone(working), nil
}

func (s *InMemoryUserStore) Delete(_ context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	delete(s.users, userID)
	return nil
}

func (s *InMemoryUserStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func clone(u *models.User) *models.User {
	cp := *u
	if u.PasswordResetToken != nil {
		tok := *u.PasswordResetToken
		cp.PasswordResetToken = &tok
	}
	if u.PasswordResetExpires != nil {
		exp := *u.PasswordResetExpires
		cp.PasswordResetExpires = &exp
	}
	if u.LastLogin != nil {
		ll := *u.LastLogin
		cp.LastLogin = &ll
	}
	return &cp
}
