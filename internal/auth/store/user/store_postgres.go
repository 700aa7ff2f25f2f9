package user

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
	"portal/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const userColumns = `id, email, username, password_hash, role, status, session_version,
	password_reset_token, password_reset_expires, last_login, created_at, updated_at`

// PostgresStore persists users in PostgreSQL.
// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the users table and its indexes when absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.db.ExecContext(ctx, query, userArgs(user)...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID.String())
	return scanOne(row, "find user by id")
}

func (s *PostgresStore) FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	username = strings.TrimSpace(username)
	if email == "" && username == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users
		WHERE ($1 <> '' AND email = $1) OR ($2 <> '' AND lower(username) = lower($2))
		LIMIT 1`
	return scanOne(s.db.QueryRowContext(ctx, query, email, username), "find user by email or username")
}

func (s *PostgresStore) FindByResetToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users
		WHERE password_reset_token = $1 AND password_reset_expires > $2`
	return scanOne(s.db.QueryRowContext(ctx, query, token, now), "find user by reset token")
}

// Update locks the row for the duration of fn, so concurrent updates of one
// user apply one after another. It joins a transaction carried by ctx.
func (s *PostgresStore) Update(ctx context.Context, userID id.UserID, fn func(*models.User) error) (*models.User, error) {
	var user *models.User
	err := tx.Run(ctx, s.db, func(ctx context.Context, t *sql.Tx) error {
		row := t.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID.String())
		locked, err := scanOne(row, "lock user")
		if err != nil {
			return err
		}
		if err := fn(locked); err != nil {
			return err
		}

		query := `UPDATE users SET email = $2, username = $3, password_hash = $4, role = $5, status = $6,
		session_version = $7, password_reset_token = $8, password_reset_expires = $9,
		last_login = $10, created_at = $11, updated_at = $12
		WHERE id = $1`
		if _, err := t.ExecContext(ctx, query, userArgs(locked)...); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("update user: %w", err)
		}
		user = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID id.UserID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID.String())
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func userArgs(u *models.User) []any {
	return []any{
		u.ID.String(), u.Email, u.Username, u.PasswordHash, string(u.Role), string(u.Status),
		u.SessionVersion, u.PasswordResetToken, u.PasswordResetExpires, u.LastLogin,
		u.CreatedAt, u.UpdatedAt,
	}
}

func scanOne(row *sql.Row, op string) (*models.User, error) {
	var (
		u       models.User
		rawID   string
		role    string
		status  string
		token   sql.NullString
		expires sql.NullTime
		last    sql.NullTime
	)
	err := row.Scan(&rawID, &u.Email, &u.Username, &u.PasswordHash, &role, &status,
		&u.SessionVersion, &token, &expires, &last, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	userID, err := id.ParseUserID(rawID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	u.ID = userID
	u.Role = models.Role(role)
	u.Status = models.Status(status)
	if token.Valid {
		u.PasswordResetToken = &token.String
	}
	if expires.Valid {
		u.PasswordResetExpires = &expires.Time
	}
	if last.Valid {
		u.LastLogin = &last.Time
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
