package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResetTokenStatus is a projection over ConsumedAt/ExpiresAt; it is never
// stored as its own column.
type ResetTokenStatus string

const (
	ResetTokenActive   ResetTokenStatus = "active"
	ResetTokenExpired  ResetTokenStatus = "expired"
	ResetTokenConsumed ResetTokenStatus = "consumed"
)

// PasswordResetToken is one row of the reset-token table. Only a SHA-256
// digest of the secret is persisted; the plaintext secret leaves the process
// exactly once, inside the reset email.
type PasswordResetToken struct {
	ID         int64      `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	SecretHash []byte     `db:"secret_hash" json:"-"`
	IssuedAt   time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	ConsumedAt *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
}

func (t *PasswordResetToken) Status(now time.Time) ResetTokenStatus {
	switch {
	case t.ConsumedAt != nil:
		return ResetTokenConsumed
	case !now.Before(t.ExpiresAt):
		return ResetTokenExpired
	default:
		return ResetTokenActive
	}
}
