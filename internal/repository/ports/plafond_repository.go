package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binarkredit/kredit-api/internal/domain"
)

// PlafondUpdate carries the optional fields of a partial update. Nil means
// leave the column alone.
type PlafondUpdate struct {
	Name         *string
	Description  *string
	MaxAmount    *decimal.Decimal
	InterestRate *decimal.Decimal
	TenorMonth   *int
	IsActive     *bool
}

type PlafondRepository interface {
	Create(ctx context.Context, plafond domain.Plafond) (*domain.Plafond, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Plafond, error)
	FindByName(ctx context.Context, name string) (*domain.Plafond, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.Plafond, error)
	Update(ctx context.Context, id uuid.UUID, update PlafondUpdate) (*domain.Plafond, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
