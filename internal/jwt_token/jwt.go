package jwttoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "portal/pkg/domain"
)

// Verification failures. Callers distinguish them so that only an expired
// token prompts a re-login.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrExpired          = errors.New("token expired")
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// Claims is the signed payload of a bearer token.
type Claims struct {
	UserID         string `json:"user_id"`
	SessionVersion int    `json:"session_version"`
	// IssuedAtNano keeps sub-second issuance so two logins in the same second
	// still produce distinct session keys.
	IssuedAtNano int64 `json:"iat_ns"`
	jwt.RegisteredClaims
}

// Token is what Issue hands back and what Verify recovers.
type Token struct {
	Raw            string
	JTI            string
	UserID         id.UserID
	SessionVersion int
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Codec issues and verifies HS256 bearer tokens. Rotating the signing key
// invalidates every outstanding token.
type Codec struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source for both issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCodec(signingKey, issuer, audience string, ttl time.Duration, opts ...Option) *Codec {
	c := &Codec{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL is the lifetime of issued tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for userID at the given session version.
func (c *Codec) Issue(userID id.UserID, sessionVersion int) (*Token, error) {
	now := c.now().UTC()
	claims := Claims{
		UserID:         userID.String(),
		SessionVersion: sessionVersion,
		IssuedAtNano:   now.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{
		Raw:            signed,
		JTI:            claims.ID,
		UserID:         userID,
		SessionVersion: sessionVersion,
		IssuedAt:       now,
		ExpiresAt:      claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Verify checks shape, signature, issuer, audience and expiry, in that order.
// Expiry is strict: no leeway for clock skew.
func (c *Codec) Verify(raw string) (*Token, error) {
	if !wellFormed(raw) {
		return nil, ErrMalformed
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSignatureInvalid
		}
		return c.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		return nil, ErrMalformed
	}

	issuedAt := time.Unix(0, claims.IssuedAtNano).UTC()
	if claims.IssuedAtNano == 0 && claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time.UTC()
	}
	return &Token{
		Raw:            raw,
		JTI:            claims.ID,
		UserID:         userID,
		SessionVersion: claims.SessionVersion,
		IssuedAt:       issuedAt,
		ExpiresAt:      claims.ExpiresAt.Time.UTC(),
	}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

// wellFormed is the cheap pre-check: three non-empty base64url segments.
func wellFormed(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for i := 0; i < len(p); i++ {
			ch := p[i]
			isAlnum := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
			if !isAlnum && ch != '-' && ch != '_' {
				return false
			}
		}
	}
	return true
}
