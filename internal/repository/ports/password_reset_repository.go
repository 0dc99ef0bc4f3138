package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/binarkredit/kredit-api/internal/domain"
)

// Storage-level outcomes of the conditional consume. The transport layer
// collapses both into one message; the split exists for logs and tests.
var (
	ErrResetTokenNotFound = errors.New("reset token not found")
	ErrResetTokenExpired  = errors.New("reset token expired")
)

// PasswordResetRepository manages the reset-token lifecycle. Consumption is a
// storage-level conditional update so that two concurrent consume calls on the
// same secret can never both win; no caller holds a process lock across these
// calls.
type PasswordResetRepository interface {
	// Create persists a fresh token. The plaintext secret is never stored;
	// callers pass its SHA-256 digest.
	Create(ctx context.Context, userID uuid.UUID, secretHash []byte, issuedAt, expiresAt time.Time) (*domain.PasswordResetToken, error)

	// InvalidateByUser marks every still-active token of the user consumed.
	// Idempotent when none exists. Issuing a replacement token calls this
	// first, keeping at most one active token per user.
	InvalidateByUser(ctx context.Context, userID uuid.UUID, now time.Time) error

	// FindActiveBySecret is a pure read: nil result and ErrResetTokenNotFound
	// for unknown, consumed and expired digests alike.
	FindActiveBySecret(ctx context.Context, secretHash []byte, now time.Time) (*domain.PasswordResetToken, error)

	// Consume flips the token from active to consumed and updates the owner's
	// credentials inside one transaction. Either both happen or neither does.
	Consume(ctx context.Context, secretHash []byte, now time.Time, passwordHash, passwordSalt []byte) (*domain.PasswordResetToken, error)

	// SweepExpired deletes consumed or expired tokens whose terminal moment
	// lies more than olderThan in the past. Active tokens are never touched.
	SweepExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}
