package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/binarkredit/kredit-api/internal/domain"
)

const branchColumns = "id, branch_name, address, city, created_at, updated_at"

type BranchRepository struct {
	db *sqlx.DB
}

func NewBranchRepo(db *sqlx.DB) *BranchRepository {
	return &BranchRepository{db: db}
}

func (r *BranchRepository) Create(ctx context.Context, name string, address, city *string) (*domain.Branch, error) {
	const query = `
        INSERT INTO branch (branch_name, address, city)
        VALUES ($1, $2, $3)
        RETURNING ` + branchColumns
	row := r.db.QueryRowxContext(ctx, query, name, address, city)
	var branch domain.Branch
	if err := row.StructScan(&branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

func (r *BranchRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Branch, error) {
	const query = `
        SELECT ` + branchColumns + `
        FROM branch
        WHERE id = $1
    `
	var branch domain.Branch
	if err := r.db.GetContext(ctx, &branch, query, id); err != nil {
		return nil, err
	}
	return &branch, nil
}

func (r *BranchRepository) FindByName(ctx context.Context, name string) (*domain.Branch, error) {
	const query = `
        SELECT ` + branchColumns + `
        FROM branch
        WHERE branch_name = $1
    `
	var branch domain.Branch
	if err := r.db.GetContext(ctx, &branch, query, name); err != nil {
		return nil, err
	}
	return &branch, nil
}

func (r *BranchRepository) List(ctx context.Context, limit, offset int) ([]domain.Branch, error) {
	const query = `
        SELECT ` + branchColumns + `
        FROM branch
        ORDER BY branch_name
        LIMIT $1 OFFSET $2
    `
	branches := []domain.Branch{}
	if err := r.db.SelectContext(ctx, &branches, query, limit, offset); err != nil {
		return nil, err
	}
	return branches, nil
}

func (r *BranchRepository) Update(ctx context.Context, id uuid.UUID, name *string, address, city *string) (*domain.Branch, error) {
	const query = `
        UPDATE branch
        SET branch_name = COALESCE($2, branch_name),
            address = COALESCE($3, address),
            city = COALESCE($4, city),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + branchColumns
	row := r.db.QueryRowxContext(ctx, query, id, name, address, city)
	var branch domain.Branch
	if err := row.StructScan(&branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

func (r *BranchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM branch WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
