package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hobbymeet-sync/internal/ws"
)

func TestParseReadsClaims(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"exp":     testNow.Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	s, err := Parse(token, testNow)
	require.NoError(t, err)
	assert.Equal(t, "42", s.UserID)
	assert.Equal(t, testNow.Add(time.Hour).Unix(), s.ExpiresAt.Unix())
	assert.Equal(t, token, s.AuthToken)
}

func TestParseFallsBackToSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "alice",
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	s, err := Parse(token, testNow)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.UserID)
	assert.True(t, s.ExpiresAt.IsZero())
}

func TestParseRejects(t *testing.T) {
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "x"}).SignedString([]byte("k"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrNoCredential},
		{"garbage", "not-a-jwt", ErrInvalidCredential},
		{"no user", noUser, ErrInvalidCredential},
		{"expired", signToken(t, "u1", testNow), ErrCredentialExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token, testNow)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsCredentialError(err))
		})
	}
}

func TestIsCredentialError(t *testing.T) {
	assert.True(t, IsCredentialError(ws.ErrUnauthorized))
	assert.False(t, IsCredentialError(ErrConnectionLost))
	assert.False(t, IsCredentialError(nil))
}
