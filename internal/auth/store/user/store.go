// Package user holds the credential store: user records keyed by ID and
// uniquely addressable by email or username.
package user

import (
	"context"
	"time"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
)

// Store is satisfied by InMemoryUserStore and PostgresStore.
type Store interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error)
	FindByResetToken(ctx context.Context, token string, now time.Time) (*models.User, error)
	Update(ctx context.Context, userID id.UserID, fn func(*models.User) error) (*models.User, error)
	Delete(ctx context.Context, userID id.UserID) error
	Count(ctx context.Context) (int, error)
}

var (
	_ Store = (*InMemoryUserStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
