package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-auth-service/internal/model"
)

// TokenRepository is the per-user token ledger. Each (user, provider,
// purpose) key owns exactly one row; writes overwrite that row in place so a
// superseded secret stops verifying the moment its replacement lands.
type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Replace(ctx context.Context, key model.TokenKey, tokenHash string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_tokens (user_id, provider, purpose, token_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, now(), $5)
		 ON CONFLICT (user_id, provider, purpose)
		 DO UPDATE SET token_hash = EXCLUDED.token_hash,
		               created_at = EXCLUDED.created_at,
		               expires_at = EXCLUDED.expires_at`,
		key.UserID, key.Provider, key.Purpose, tokenHash, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("replace token: %w", err)
	}
	return nil
}

// Rotate swaps presentedHash for newHash only if presentedHash is the live
// value. Concurrent rotations of the same key serialize on the row lock and
// the loser sees ErrTokenNotFound.
func (r *TokenRepository) Rotate(ctx context.Context, key model.TokenKey, presentedHash string, newHash string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_tokens
		 SET token_hash = $5, created_at = now(), expires_at = $6
		 WHERE user_id = $1 AND provider = $2 AND purpose = $3
		   AND token_hash = $4 AND expires_at > now()`,
		key.UserID, key.Provider, key.Purpose, presentedHash, newHash, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTokenNotFound
	}
	return nil
}

// Consume deletes the slot if presentedHash is its live value and reports
// the expiry it had.
func (r *TokenRepository) Consume(ctx context.Context, key model.TokenKey, presentedHash string) (time.Time, error) {
	var expiresAt time.Time
	err := r.pool.QueryRow(ctx,
		`DELETE FROM user_tokens
		 WHERE user_id = $1 AND provider = $2 AND purpose = $3
		   AND token_hash = $4 AND expires_at > now()
		 RETURNING expires_at`,
		key.UserID, key.Provider, key.Purpose, presentedHash).Scan(&expiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, model.ErrTokenNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("consume token: %w", err)
	}
	return expiresAt, nil
}

// Verify is a read-only Consume: nil when presentedHash is live for key.
func (r *TokenRepository) Verify(ctx context.Context, key model.TokenKey, presentedHash string) error {
	var live bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM user_tokens
		   WHERE user_id = $1 AND provider = $2 AND purpose = $3
		     AND token_hash = $4 AND expires_at > now())`,
		key.UserID, key.Provider, key.Purpose, presentedHash).Scan(&live)
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	if !live {
		return model.ErrTokenNotFound
	}
	return nil
}

func (r *TokenRepository) Revoke(ctx context.Context, key model.TokenKey) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_tokens WHERE user_id = $1 AND provider = $2 AND purpose = $3`,
		key.UserID, key.Provider, key.Purpose)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeAllForUser drops every slot the user holds, whatever its purpose.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

func (r *TokenRepository) CleanExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("clean expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
