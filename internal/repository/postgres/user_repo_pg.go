package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/binarkredit/kredit-api/internal/domain"
)

const userColumns = "id, username, email, full_name, user_image_url, password_hash, password_salt, branch_id, is_active, created_at, updated_at"

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateEmailUser(ctx context.Context, email string, passwordHash, passwordSalt []byte) (*domain.User, error) {
	const query = `
        INSERT INTO user_account (email, password_hash, password_salt, is_active)
        VALUES ($1, $2, $3, TRUE)
        RETURNING ` + userColumns
	row := r.db.QueryRowxContext(ctx, query, email, passwordHash, passwordSalt)
	var user domain.User
	if err := row.StructScan(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, username, email string, passwordHash, passwordSalt []byte, isActive bool, branchID *uuid.UUID) (*domain.User, error) {
	const query = `
        INSERT INTO user_account (username, email, password_hash, password_salt, is_active, branch_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING ` + userColumns
	row := r.db.QueryRowxContext(ctx, query, username, email, passwordHash, passwordSalt, isActive, branchID)
	var user domain.User
	if err := row.StructScan(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpsertGoogleUser(ctx context.Context, email string, fullName *string, imageURL *string) (*domain.User, error) {
	const query = `
        INSERT INTO user_account (email, full_name, user_image_url, is_active)
        VALUES ($1, $2, $3, TRUE)
        ON CONFLICT (email) DO UPDATE
        SET full_name = COALESCE(EXCLUDED.full_name, user_account.full_name),
            user_image_url = COALESCE(EXCLUDED.user_image_url, user_account.user_image_url),
            updated_at = NOW()
        RETURNING ` + userColumns
	row := r.db.QueryRowxContext(ctx, query, email, fullName, imageURL)
	var user domain.User
	if err := row.StructScan(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `
        SELECT ` + userColumns + `
        FROM user_account
        WHERE email = $1
    `
	var user domain.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `
        SELECT ` + userColumns + `
        FROM user_account
        WHERE username = $1
    `
	var user domain.User
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const query = `
        SELECT ` + userColumns + `
        FROM user_account
        WHERE id = $1
    `
	var user domain.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, fullName *string, username *string, imageURL *string) (*domain.User, error) {
	const query = `
        UPDATE user_account
        SET full_name = COALESCE($2, full_name),
            username = COALESCE($3, username),
            user_image_url = COALESCE($4, user_image_url),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + userColumns
	row := r.db.QueryRowxContext(ctx, query, id, fullName, username, imageURL)
	var user domain.User
	if err := row.StructScan(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash, passwordSalt []byte) error {
	const query = `
        UPDATE user_account
        SET password_hash = $2,
            password_salt = $3,
            updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.ExecContext(ctx, query, id, passwordHash, passwordSalt)
	return err
}

func (r *UserRepository) SetActive(ctx context.Context, id uuid.UUID, isActive bool) error {
	const query = `
        UPDATE user_account
        SET is_active = $2,
            updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.ExecContext(ctx, query, id, isActive)
	return err
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	const query = `
        SELECT ` + userColumns + `
        FROM user_account
        ORDER BY created_at DESC
        LIMIT $1 OFFSET $2
    `
	users := []domain.User{}
	if err := r.db.SelectContext(ctx, &users, query, limit, offset); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM user_account WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
