package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/binarkredit/kredit-api/internal/domain"
)

type BranchRepository interface {
	Create(ctx context.Context, name string, address, city *string) (*domain.Branch, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Branch, error)
	FindByName(ctx context.Context, name string) (*domain.Branch, error)
	List(ctx context.Context, limit, offset int) ([]domain.Branch, error)
	Update(ctx context.Context, id uuid.UUID, name *string, address, city *string) (*domain.Branch, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
