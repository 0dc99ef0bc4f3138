package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/binarkredit/kredit-api/internal/domain"
	"github.com/binarkredit/kredit-api/internal/repository/ports"
)

const plafondColumns = "id, plafond_name, description, max_amount, interest_rate, tenor_month, is_active, created_at, updated_at"

type PlafondRepository struct {
	db *sqlx.DB
}

func NewPlafondRepo(db *sqlx.DB) *PlafondRepository {
	return &PlafondRepository{db: db}
}

func (r *PlafondRepository) Create(ctx context.Context, plafond domain.Plafond) (*domain.Plafond, error) {
	const query = `
        INSERT INTO plafond (plafond_name, description, max_amount, interest_rate, tenor_month, is_active)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING ` + plafondColumns
	row := r.db.QueryRowxContext(ctx, query,
		plafond.Name, plafond.Description, plafond.MaxAmount, plafond.InterestRate, plafond.TenorMonth, plafond.IsActive)
	var created domain.Plafond
	if err := row.StructScan(&created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *PlafondRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Plafond, error) {
	const query = `
        SELECT ` + plafondColumns + `
        FROM plafond
        WHERE id = $1
    `
	var plafond domain.Plafond
	if err := r.db.GetContext(ctx, &plafond, query, id); err != nil {
		return nil, err
	}
	return &plafond, nil
}

func (r *PlafondRepository) FindByName(ctx context.Context, name string) (*domain.Plafond, error) {
	const query = `
        SELECT ` + plafondColumns + `
        FROM plafond
        WHERE plafond_name = $1
    `
	var plafond domain.Plafond
	if err := r.db.GetContext(ctx, &plafond, query, name); err != nil {
		return nil, err
	}
	return &plafond, nil
}

func (r *PlafondRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.Plafond, error) {
	const query = `
        SELECT ` + plafondColumns + `
        FROM plafond
        WHERE ($1 = FALSE OR is_active = TRUE)
        ORDER BY plafond_name
        LIMIT $2 OFFSET $3
    `
	plafonds := []domain.Plafond{}
	if err := r.db.SelectContext(ctx, &plafonds, query, activeOnly, limit, offset); err != nil {
		return nil, err
	}
	return plafonds, nil
}

func (r *PlafondRepository) Update(ctx context.Context, id uuid.UUID, update ports.PlafondUpdate) (*domain.Plafond, error) {
	const query = `
        UPDATE plafond
        SET plafond_name = COALESCE($2, plafond_name),
            description = COALESCE($3, description),
            max_amount = COALESCE($4, max_amount),
            interest_rate = COALESCE($5, interest_rate),
            tenor_month = COALESCE($6, tenor_month),
            is_active = COALESCE($7, is_active),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + plafondColumns
	row := r.db.QueryRowxContext(ctx, query, id,
		update.Name, update.Description, update.MaxAmount, update.InterestRate, update.TenorMonth, update.IsActive)
	var plafond domain.Plafond
	if err := row.StructScan(&plafond); err != nil {
		return nil, err
	}
	return &plafond, nil
}

func (r *PlafondRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM plafond WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
