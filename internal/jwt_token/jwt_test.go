package jwttoken

import (
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "portal/pkg/domain"
)

const (
	testKey      = "test-signing-key"
	testIssuer   = "portal-test"
	testAudience = "portal-api"
)

func newCodec(opts ...Option) *Codec {
	return NewCodec(testKey, testIssuer, testAudience, time.Hour, opts...)
}

func Test_IssueVerifyRoundTrip(t *testing.T) {
	codec := newCodec()
	userID := id.NewUserID()

	issued, err := codec.Issue(userID, 7)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Raw)

	verified, err := codec.Verify(issued.Raw)
	require.NoError(t, err)
	assert.Equal(t, userID, verified.UserID)
	assert.Equal(t, 7, verified.SessionVersion)
	assert.Equal(t, issued.JTI, verified.JTI)
	assert.True(t, issued.IssuedAt.Equal(verified.IssuedAt), "issuedAt keeps nanosecond precision")
	assert.True(t, issued.ExpiresAt.Equal(verified.ExpiresAt))
	assert.WithinDuration(t, time.Now().Add(time.Hour), verified.ExpiresAt, time.Minute)
}

func Test_Verify_ExpiryIsStrict(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	now := start
	codec := newCodec(WithClock(func() time.Time { return now }))

	issued, err := codec.Issue(id.NewUserID(), 0)
	require.NoError(t, err)

	now = start.Add(time.Hour - time.Second)
	_, err = codec.Verify(issued.Raw)
	require.NoError(t, err, "still valid one second before expiry")

	now = start.Add(time.Hour)
	_, err = codec.Verify(issued.Raw)
	require.ErrorIs(t, err, ErrExpired)

	now = start.Add(48 * time.Hour)
	_, err = codec.Verify(issued.Raw)
	require.ErrorIs(t, err, ErrExpired)
}

func Test_Verify_Malformed(t *testing.T) {
	codec := newCodec()
	for _, raw := range []string{
		"",
		"invalid-token-string",
		"a.b",
		"a.b.c.d",
		"a..c",
		"a.b.",
		"a b.c.d",
		"eyJhbGciOiJIUzI1NiJ9.not*base64.sig",
		"aaaa.bbbb.cccc",
	} {
		_, err := codec.Verify(raw)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", raw)
	}
}

func Test_Verify_SignatureInvalid(t *testing.T) {
	codec := newCodec()
	issued, err := codec.Issue(id.NewUserID(), 1)
	require.NoError(t, err)

	t.Run("different signing key", func(t *testing.T) {
		other := NewCodec("another-key", testIssuer, testAudience, time.Hour)
		_, err := other.Verify(issued.Raw)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(issued.Raw, ".")
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		require.NoError(t, err)
		forged := strings.Replace(string(payload), `"session_version":1`, `"session_version":2`, 1)
		require.NotEqual(t, string(payload), forged)
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

		_, err = codec.Verify(strings.Join(parts, "."))
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		other := NewCodec(testKey, "someone-else", testAudience, time.Hour)
		foreign, err := other.Issue(id.NewUserID(), 0)
		require.NoError(t, err)
		_, err = codec.Verify(foreign.Raw)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("algorithm outside the allow-list", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
			UserID: id.NewUserID().String(),
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    testIssuer,
				Audience:  jwt.ClaimStrings{testAudience},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		raw, err := tok.SignedString([]byte(testKey))
		require.NoError(t, err)
		_, err = codec.Verify(raw)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})
}

func Test_Issue_ConcurrentTokensAreDistinct(t *testing.T) {
	codec := newCodec()
	userID := id.NewUserID()

	const n = 16
	tokens := make([]*Token, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := codec.Issue(userID, 0)
			assert.NoError(t, err)
			tokens[i] = tok
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, tok := range tokens {
		require.NotNil(t, tok)
		assert.False(t, seen[tok.Raw], "duplicate token")
		seen[tok.Raw] = true
		_, err := codec.Verify(tok.Raw)
		assert.NoError(t, err)
	}
}
