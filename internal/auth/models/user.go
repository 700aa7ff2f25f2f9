package models

import (
	"sort"
	"strings"
	"time"

	id "portal/pkg/domain"
)

// Role is a coarse capability label. Roles are flat: admin does not imply staff.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleAggregator Role = "aggregator"
	RoleMerchant   Role = "merchant"
	RoleUser       Role = "user"
)

var knownRoles = map[Role]struct{}{
	RoleAdmin:      {},
	RoleStaff:      {},
	RoleAggregator: {},
	RoleMerchant:   {},
	RoleUser:       {},
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := knownRoles[r]
	return r, ok
}

func (r Role) String() string { return string(r) }

// Status is the account lifecycle state, independent of role.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusSuspended Status = "suspended"
)

// ParseStatus normalizes s and reports whether it names a known status.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusApproved, StatusRejected, StatusSuspended:
		return st, true
	}
	return st, false
}

func (s Status) String() string { return string(s) }

// RoleSet is the exact set of roles an operation accepts. The empty set
// accepts any authenticated identity.
type RoleSet map[Role]struct{}

// Roles builds a RoleSet.
func Roles(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Slice returns the roles sorted, for stable responses and logs.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// User is the persisted identity the auth core authenticates and authorizes.
type User struct {
	ID                   id.UserID  `json:"id"`
	Email                string     `json:"email"`
	Username             string     `json:"username"`
	PasswordHash         string     `json:"-"`
	Role                 Role       `json:"role"`
	Status               Status     `json:"status"`
	SessionVersion       int        `json:"-"`
	PasswordResetToken   *string    `json:"-"`
	PasswordResetExpires *time.Time `json:"-"`
	LastLogin            *time.Time `json:"last_login,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// NewUser builds a freshly registered identity. Admins start approved,
// everyone else waits for review.
func NewUser(email, username, passwordHash string, role Role, now time.Time) *User {
	status := StatusPending
	if role == RoleAdmin {
		status = StatusApproved
	}
	return &User{
		ID:           id.NewUserID(),
		Email:        NormalizeEmail(email),
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
		Role:         role,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Sanitized returns a copy without any secret material.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.PasswordHash = ""
	cp.PasswordResetToken = nil
	cp.PasswordResetExpires = nil
	return &cp
}

// IsApproved reports whether the account may perform status-sensitive actions.
func (u *User) IsApproved() bool {
	return u.Status == StatusApproved
}

// BumpSessionVersion invalidates every token issued before now.
func (u *User) BumpSessionVersion(now time.Time) {
	u.SessionVersion++
	u.UpdatedAt = now
}

// SetResetToken starts a reset, replacing any earlier one.
func (u *User) SetResetToken(token string, expires time.Time, now time.Time) {
	u.PasswordResetToken = &token
	u.PasswordResetExpires = &expires
	u.UpdatedAt = now
}

// ResetTokenValid reports whether token matches the active reset and is
// still in the future at now.
func (u *User) ResetTokenValid(token string, now time.Time) bool {
	if u.PasswordResetToken == nil || u.PasswordResetExpires == nil {
		return false
	}
	return *u.PasswordResetToken == token && now.Before(*u.PasswordResetExpires)
}

// ClearResetToken ends the reset, whether consumed or abandoned.
func (u *User) ClearResetToken(now time.Time) {
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	u.UpdatedAt = now
}
