package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/binarkredit/kredit-api/internal/domain"
	"github.com/binarkredit/kredit-api/internal/repository/ports"
)

const resetTokenColumns = "id, user_id, secret_hash, issued_at, expires_at, consumed_at"

type PasswordResetRepository struct {
	db *sqlx.DB
}

func NewPasswordResetRepo(db *sqlx.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

func (r *PasswordResetRepository) Create(ctx context.Context, userID uuid.UUID, secretHash []byte, issuedAt, expiresAt time.Time) (*domain.PasswordResetToken, error) {
	const query = `
        INSERT INTO password_reset_token (user_id, secret_hash, issued_at, expires_at)
        VALUES ($1, $2, $3, $4)
        RETURNING ` + resetTokenColumns
	row := r.db.QueryRowxContext(ctx, query, userID, secretHash, issuedAt, expiresAt)
	var token domain.PasswordResetToken
	if err := row.StructScan(&token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *PasswordResetRepository) InvalidateByUser(ctx context.Context, userID uuid.UUID, now time.Time) error {
	const query = `
        UPDATE password_reset_token
        SET consumed_at = $2
        WHERE user_id = $1 AND consumed_at IS NULL
    `
	_, err := r.db.ExecContext(ctx, query, userID, now)
	return err
}

func (r *PasswordResetRepository) FindActiveBySecret(ctx context.Context, secretHash []byte, now time.Time) (*domain.PasswordResetToken, error) {
	const query = `
        SELECT ` + resetTokenColumns + `
        FROM password_reset_token
        WHERE secret_hash = $1 AND consumed_at IS NULL AND expires_at > $2
    `
	var token domain.PasswordResetToken
	if err := r.db.GetContext(ctx, &token, query, secretHash, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrResetTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

// Consume flips the token active -> consumed and rewrites the owner's
// credentials in one transaction. The flip is a conditional update keyed on
// consumed_at IS NULL and the expiry bound, so concurrent consume calls on
// the same secret resolve to exactly one winner without any process-local
// lock. A failed credential update rolls the flip back and the token stays
// active.
func (r *PasswordResetRepository) Consume(ctx context.Context, secretHash []byte, now time.Time, passwordHash, passwordSalt []byte) (*domain.PasswordResetToken, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	const consumeQuery = `
        UPDATE password_reset_token
        SET consumed_at = $2
        WHERE secret_hash = $1 AND consumed_at IS NULL AND expires_at > $2
        RETURNING ` + resetTokenColumns
	var token domain.PasswordResetToken
	if err := tx.QueryRowxContext(ctx, consumeQuery, secretHash, now).StructScan(&token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.classifyMiss(ctx, secretHash, now)
		}
		return nil, err
	}

	const passwordQuery = `
        UPDATE user_account
        SET password_hash = $2,
            password_salt = $3,
            updated_at = NOW()
        WHERE id = $1
    `
	result, err := tx.ExecContext(ctx, passwordQuery, token.UserID, passwordHash, passwordSalt)
	if err != nil {
		return nil, fmt.Errorf("update credentials: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, fmt.Errorf("update credentials: user %s not found", token.UserID)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &token, nil
}

// classifyMiss runs outside the failed conditional update, purely to pick the
// right sentinel: a row that exists unconsumed but past its expiry is
// expired, anything else is not found.
func (r *PasswordResetRepository) classifyMiss(ctx context.Context, secretHash []byte, now time.Time) error {
	const query = `
        SELECT ` + resetTokenColumns + `
        FROM password_reset_token
        WHERE secret_hash = $1
    `
	var token domain.PasswordResetToken
	if err := r.db.GetContext(ctx, &token, query, secretHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ports.ErrResetTokenNotFound
		}
		return err
	}
	if token.Status(now) == domain.ResetTokenExpired {
		return ports.ErrResetTokenExpired
	}
	return ports.ErrResetTokenNotFound
}

func (r *PasswordResetRepository) SweepExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-olderThan)
	// The cutoff never moves past the present: only tokens already terminal
	// at sweep time qualify, whatever olderThan was.
	if cutoff.After(now) {
		cutoff = now
	}
	const query = `
        DELETE FROM password_reset_token
        WHERE (consumed_at IS NOT NULL AND consumed_at < $1)
           OR (consumed_at IS NULL AND expires_at < $1)
    `
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
