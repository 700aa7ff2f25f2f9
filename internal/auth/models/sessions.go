package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	id "portal/pkg/domain"
)

// SessionKey identifies one issued token in the session registry.
type SessionKey struct {
	UserID   id.UserID
	IssuedAt time.Time
}

// String renders the key as "<user-id>:<issued-at unix nanos>".
func (k SessionKey) String() string {
	return k.UserID.String() + ":" + strconv.FormatInt(k.IssuedAt.UnixNano(), 10)
}

// ParseSessionKey is the inverse of SessionKey.String.
func ParseSessionKey(s string) (SessionKey, error) {
	userPart, nanoPart, ok := strings.Cut(s, ":")
	if !ok {
		return SessionKey{}, fmt.Errorf("session key %q: missing separator", s)
	}
	userID, err := id.ParseUserID(userPart)
	if err != nil {
		return SessionKey{}, err
	}
	nanos, err := strconv.ParseInt(nanoPart, 10, 64)
	if err != nil {
		return SessionKey{}, fmt.Errorf("session key %q: %w", s, err)
	}
	return SessionKey{UserID: userID, IssuedAt: time.Unix(0, nanos).UTC()}, nil
}

// SessionRecord is the registry's view of one live token. It is advisory
// bookkeeping; the user's SessionVersion decides whether a token is honored.
type SessionRecord struct {
	Key           SessionKey `json:"-"`
	ExpiresAt     time.Time  `json:"expires_at"`
	LastActivity  time.Time  `json:"last_activity"`
	SourceAddress string     `json:"source_address,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Expired reports whether the token behind the record is past its expiry.
func (r SessionRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Summary renders the record for API responses.
func (r SessionRecord) Summary(current SessionKey) SessionSummary {
	return SessionSummary{
		SessionID:    r.Key.String(),
		IPAddress:    r.SourceAddress,
		UserAgent:    r.UserAgent,
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
		ExpiresAt:    r.ExpiresAt,
		IsCurrent:    r.Key.String() == current.String(),
	}
}

type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current"`
}

type SessionsResult struct {
	Sessions []SessionSummary `json:"sessions"`
}

type LogoutAllResult struct {
	RevokedCount int `json:"revoked_count"`
}
