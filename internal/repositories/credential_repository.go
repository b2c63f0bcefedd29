package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

const tokenKey = "auth_token"

// CredentialRepo persists the bearer token across restarts.
type CredentialRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewCredentialRepo constructs a CredentialRepo.
func NewCredentialRepo(db *sqlx.DB) *CredentialRepo {
	return &CredentialRepo{db: db, now: time.Now}
}

// GetToken returns the stored token or "" when none is stored.
func (r *CredentialRepo) GetToken(ctx context.Context) (string, error) {
	var token string
	err := r.db.GetContext(ctx, &token, r.db.Rebind(`SELECT value FROM credentials WHERE key=?`), tokenKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return token, err
}

func (r *CredentialRepo) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return r.ClearToken(ctx)
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`),
		tokenKey, token, r.now().UTC())
	return err
}

func (r *CredentialRepo) ClearToken(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM credentials WHERE key=?`), tokenKey)
	return err
}
