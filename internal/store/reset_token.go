package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ResetTokenRepository manages single-use password reset tokens.
type ResetTokenRepository struct {
	s *Store
}

// ResetTokens returns the reset token repository for this store.
func (s *Store) ResetTokens() *ResetTokenRepository {
	return &ResetTokenRepository{s: s}
}

// Create issues a token for userID valid for ttl, replacing older ones.
func (r *ResetTokenRepository) Create(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	now := time.Now().UTC()

	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM reset_tokens WHERE user_id = ?`), userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, r.s.q(
			`INSERT INTO reset_tokens (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`),
			token, userID, now.Add(ttl), now)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Consume deletes token and returns its user. Unknown and expired tokens
// yield ErrNotFound.
func (r *ResetTokenRepository) Consume(ctx context.Context, token string, now time.Time) (int64, error) {
	var userID int64
	var expired bool
	err := r.s.withTx(ctx, func(tx *sql.Tx) error {
		var expires time.Time
		err := tx.QueryRowContext(ctx, r.s.q(
			`SELECT user_id, expires_at FROM reset_tokens WHERE token = ?`), token,
		).Scan(&userID, &expires)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM reset_tokens WHERE token = ?`), token); err != nil {
			return err
		}
		expired = !now.Before(expires)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired {
		return 0, ErrNotFound
	}
	return userID, nil
}
