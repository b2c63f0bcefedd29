package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hobbymeet-sync/internal/ws"
)

var (
	ErrNoCredential      = errors.New("no credential stored")
	ErrCredentialExpired = errors.New("credential expired")
	ErrInvalidCredential = errors.New("credential is not a valid token")
	ErrConnectionLost    = errors.New("realtime connection lost")
	ErrTornDown          = errors.New("session torn down during connect")
	ErrRetryBudgetSpent  = errors.New("realtime reconnect budget exhausted")
)

// Session is one authenticated realtime identity.
type Session struct {
	UserID    string
	AuthToken string
	ExpiresAt time.Time
}

// Expired reports whether the credential is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Parse reads the identity claims of a bearer token. The signature is checked
// by the backend during the handshake; here only expiry and subject matter.
func Parse(token string, now time.Time) (*Session, error) {
	if token == "" {
		return nil, ErrNoCredential
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	userID := claimString(claims["user_id"])
	if userID == "" {
		userID = claimString(claims["sub"])
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidCredential)
	}

	s := &Session{UserID: userID, AuthToken: token}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if exp != nil {
		s.ExpiresAt = exp.Time
	}
	if s.Expired(now) {
		return nil, ErrCredentialExpired
	}
	return s, nil
}

// IsCredentialError reports whether err requires re-authentication rather
// than a retry.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrNoCredential) ||
		errors.Is(err, ErrCredentialExpired) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ws.ErrUnauthorized)
}

func claimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	}
	return ""
}

// CredentialStore persists the bearer token between runs.
// GetToken returns an empty token when none is stored.
type CredentialStore interface {
	GetToken(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// MemoryStore is a process-local CredentialStore.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

func (s *MemoryStore) GetToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryStore) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) ClearToken(ctx context.Context) error {
	return s.SetToken(ctx, "")
}
