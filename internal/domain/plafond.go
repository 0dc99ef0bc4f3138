package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Plafond is a credit-limit product: a named ceiling with its interest rate
// and tenor. Amounts are decimals, never floats.
type Plafond struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Name         string          `db:"plafond_name" json:"plafond_name"`
	Description  *string         `db:"description" json:"description,omitempty"`
	MaxAmount    decimal.Decimal `db:"max_amount" json:"max_amount"`
	InterestRate decimal.Decimal `db:"interest_rate" json:"interest_rate"`
	TenorMonth   int             `db:"tenor_month" json:"tenor_month"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}
