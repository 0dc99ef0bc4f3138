package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/binarkredit/kredit-api/internal/domain"
)

type UserRepository interface {
	CreateEmailUser(ctx context.Context, email string, passwordHash, passwordSalt []byte) (*domain.User, error)
	CreateUser(ctx context.Context, username, email string, passwordHash, passwordSalt []byte, isActive bool, branchID *uuid.UUID) (*domain.User, error)
	UpsertGoogleUser(ctx context.Context, email string, fullName *string, imageURL *string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, fullName *string, username *string, imageURL *string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash, passwordSalt []byte) error
	SetActive(ctx context.Context, id uuid.UUID, isActive bool) error
	List(ctx context.Context, limit, offset int) ([]domain.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
