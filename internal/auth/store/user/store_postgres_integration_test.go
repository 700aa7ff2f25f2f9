//go:build integration

package user_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"portal/internal/auth/models"
	"portal/internal/auth/store/user"
	"portal/pkg/platform/sentinel"
	"portal/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *user.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = user.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "users"))
}

func (s *PostgresStoreSuite) TestCreateAndLookup() {
	ctx := context.Background()
	u := models.NewUser("alice@example.com", "alice", "hash", models.RoleMerchant, time.Now())
	s.Require().NoError(s.store.Create(ctx, u))

	byID, err := s.store.FindByID(ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(u.Email, byID.Email)
	s.Equal(models.RoleMerchant, byID.Role)
	s.Equal(models.StatusPending, byID.Status)
	s.Nil(byID.PasswordResetToken)

	byName, err := s.store.FindByEmailOrUsername(ctx, "", "ALICE")
	s.Require().NoError(err)
	s.Equal(u.ID, byName.ID)

	err = s.store.Create(ctx, models.NewUser("alice@example.com", "other", "hash", models.RoleUser, time.Now()))
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestResetTokenExpiry() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := models.NewUser("bob@example.com", "bob", "hash", models.RoleUser, now)
	u.SetResetToken("abc", now.Add(time.Hour), now)
	s.Require().NoError(s.store.Create(ctx, u))

	_, err := s.store.FindByResetToken(ctx, "abc", now)
	s.Require().NoError(err)

	_, err = s.store.FindByResetToken(ctx, "abc", now.Add(time.Hour))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentUpdatesSerialize verifies row locking keeps every increment.
func (s *PostgresStoreSuite) TestConcurrentUpdatesSerialize() {
	ctx := context.Background()
	u := models.NewUser("carol@example.com", "carol", "hash", models.RoleUser, time.Now())
	s.Require().NoError(s.store.Create(ctx, u))

	const goroutines = 20
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Update(ctx, u.ID, func(u *models.User) error {
				u.SessionVersion++
				return nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	found, err := s.store.FindByID(ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(goroutines, found.SessionVersion)
}

func (s *PostgresStoreSuite) TestDelete() {
	ctx := context.Background()
	u := models.NewUser("dave@example.com", "dave", "hash", models.RoleUser, time.Now())
	s.Require().NoError(s.store.Create(ctx, u))
	s.Require().NoError(s.store.Delete(ctx, u.ID))
	s.Require().ErrorIs(s.store.Delete(ctx, u.ID), sentinel.ErrNotFound)

	count, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Zero(count)
}
