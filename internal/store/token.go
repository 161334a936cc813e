package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/famcal/internal/model"
)

// TokenStore issues and verifies API tokens of the form "<id>.<secret>".
// Only a bcrypt hash of the secret is stored.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

const tokenCols = `id, user_id, secret_hash, expires_at, last_used_at, created_at`

func scanToken(scanner interface{ Scan(...any) error }) (*model.APIToken, []byte, error) {
	var t model.APIToken
	var hash string
	var lastUsed sql.NullTime

	err := scanner.Scan(&t.ID, &t.UserID, &hash, &t.ExpiresAt, &lastUsed, &t.CreatedAt)
	if err != nil {
		return nil, nil, err
	}
	if lastUsed.Valid {
		t.LastUsedAt = &lastUsed.Time
	}
	return &t, []byte(hash), nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create issues a token for userID valid for ttl. The returned raw string is
// the only place the secret is ever visible.
func (s *TokenStore) Create(ctx context.Context, userID int64, ttl time.Duration) (string, *model.APIToken, error) {
	secret, err := generateSecret()
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash secret: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (id, user_id, secret_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, string(hash), now.Add(ttl), now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert api token: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+tokenCols+` FROM api_tokens WHERE id = ?`, id)
	tok, _, err := scanToken(row)
	if err != nil {
		return "", nil, fmt.Errorf("get api token: %w", err)
	}
	return id + "." + secret, tok, nil
}

// Authenticate returns the token matching raw, or nil if it is malformed,
// unknown, expired or has the wrong secret.
func (s *TokenStore) Authenticate(ctx context.Context, raw string) (*model.APIToken, error) {
	id, secret, ok := strings.Cut(raw, ".")
	if !ok || id == "" || secret == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+tokenCols+` FROM api_tokens WHERE id = ?`, id)
	tok, hash, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api token: %w", err)
	}

	now := time.Now().UTC()
	if !tok.ExpiresAt.After(now) {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(secret)) != nil {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, now, id); err != nil {
		return nil, fmt.Errorf("touch api token: %w", err)
	}
	tok.LastUsedAt = &now
	return tok, nil
}

func (s *TokenStore) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoke api token: %w", err)
	}
	return nil
}

func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired api tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
