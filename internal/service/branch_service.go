package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/binarkredit/kredit-api/internal/domain"
	"github.com/binarkredit/kredit-api/internal/repository/ports"
)

var (
	ErrBranchNotFound      = errors.New("branch not found")
	ErrBranchAlreadyExists = errors.New("branch name already exists")
	ErrBranchValidation    = errors.New("branch validation failed")
)

type BranchService struct {
	branches ports.BranchRepository
}

func NewBranchService(branches ports.BranchRepository) *BranchService {
	return &BranchService{branches: branches}
}

func (s *BranchService) Create(ctx context.Context, name string, address, city *string) (*domain.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrBranchValidation)
	}
	branch, err := s.branches.Create(ctx, name, trimPtr(address), trimPtr(city))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrBranchAlreadyExists
		}
		return nil, fmt.Errorf("create branch: %w", err)
	}
	return branch, nil
}

func (s *BranchService) Get(ctx context.Context, id uuid.UUID) (*domain.Branch, error) {
	branch, err := s.branches.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBranchNotFound
		}
		return nil, fmt.Errorf("find branch: %w", err)
	}
	return branch, nil
}

func (s *BranchService) GetByName(ctx context.Context, name string) (*domain.Branch, error) {
	branch, err := s.branches.FindByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBranchNotFound
		}
		return nil, fmt.Errorf("find branch: %w", err)
	}
	return branch, nil
}

func (s *BranchService) List(ctx context.Context, limit, offset int) ([]domain.Branch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	branches, err := s.branches.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}

func (s *BranchService) Update(ctx context.Context, id uuid.UUID, name *string, address, city *string) (*domain.Branch, error) {
	name = trimPtr(name)
	if name != nil && *name == "" {
		return nil, fmt.Errorf("%w: name cannot be blank", ErrBranchValidation)
	}
	branch, err := s.branches.Update(ctx, id, name, trimPtr(address), trimPtr(city))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrBranchNotFound
		case isUniqueViolation(err):
			return nil, ErrBranchAlreadyExists
		}
		return nil, fmt.Errorf("update branch: %w", err)
	}
	return branch, nil
}

func (s *BranchService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.branches.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBranchNotFound
		}
		return fmt.Errorf("find branch: %w", err)
	}
	if err := s.branches.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	return nil
}
