package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binarkredit/kredit-api/internal/domain"
	"github.com/binarkredit/kredit-api/internal/repository/ports"
)

var (
	ErrPlafondNotFound      = errors.New("plafond not found")
	ErrPlafondAlreadyExists = errors.New("plafond name already exists")
	ErrPlafondValidation    = errors.New("plafond validation failed")
)

// PlafondCreateInput carries the fields for a new credit-limit product.
type PlafondCreateInput struct {
	Name         string
	Description  *string
	MaxAmount    decimal.Decimal
	InterestRate decimal.Decimal
	TenorMonth   int
	IsActive     bool
}

type PlafondService struct {
	plafonds ports.PlafondRepository
}

func NewPlafondService(plafonds ports.PlafondRepository) *PlafondService {
	return &PlafondService{plafonds: plafonds}
}

func (s *PlafondService) Create(ctx context.Context, input PlafondCreateInput) (*domain.Plafond, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validatePlafond(input.Name, input.MaxAmount, input.InterestRate, input.TenorMonth); err != nil {
		return nil, err
	}
	plafond, err := s.plafonds.Create(ctx, domain.Plafond{
		Name:         input.Name,
		Description:  trimPtr(input.Description),
		MaxAmount:    input.MaxAmount,
		InterestRate: input.InterestRate,
		TenorMonth:   input.TenorMonth,
		IsActive:     input.IsActive,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrPlafondAlreadyExists
		}
		return nil, fmt.Errorf("create plafond: %w", err)
	}
	return plafond, nil
}

func (s *PlafondService) Get(ctx context.Context, id uuid.UUID) (*domain.Plafond, error) {
	plafond, err := s.plafonds.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlafondNotFound
		}
		return nil, fmt.Errorf("find plafond: %w", err)
	}
	return plafond, nil
}

func (s *PlafondService) List(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.Plafond, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	plafonds, err := s.plafonds.List(ctx, activeOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list plafonds: %w", err)
	}
	return plafonds, nil
}

// Update applies a partial update: nil fields keep their current value.
func (s *PlafondService) Update(ctx context.Context, id uuid.UUID, update ports.PlafondUpdate) (*domain.Plafond, error) {
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: name cannot be blank", ErrPlafondValidation)
		}
		update.Name = &trimmed
	}
	if update.MaxAmount != nil && update.MaxAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: max_amount must be positive", ErrPlafondValidation)
	}
	if update.InterestRate != nil && update.InterestRate.Sign() < 0 {
		return nil, fmt.Errorf("%w: interest_rate cannot be negative", ErrPlafondValidation)
	}
	if update.TenorMonth != nil && *update.TenorMonth <= 0 {
		return nil, fmt.Errorf("%w: tenor_month must be positive", ErrPlafondValidation)
	}

	plafond, err := s.plafonds.Update(ctx, id, update)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrPlafondNotFound
		case isUniqueViolation(err):
			return nil, ErrPlafondAlreadyExists
		}
		return nil, fmt.Errorf("update plafond: %w", err)
	}
	return plafond, nil
}

func (s *PlafondService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.plafonds.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPlafondNotFound
		}
		return fmt.Errorf("find plafond: %w", err)
	}
	if err := s.plafonds.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete plafond: %w", err)
	}
	return nil
}

func validatePlafond(name string, maxAmount, interestRate decimal.Decimal, tenorMonth int) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrPlafondValidation)
	}
	if maxAmount.Sign() <= 0 {
		return fmt.Errorf("%w: max_amount must be positive", ErrPlafondValidation)
	}
	if interestRate.Sign() < 0 {
		return fmt.Errorf("%w: interest_rate cannot be negative", ErrPlafondValidation)
	}
	if tenorMonth <= 0 {
		return fmt.Errorf("%w: tenor_month must be positive", ErrPlafondValidation)
	}
	return nil
}
