package domain

import (
	"time"

	"github.com/google/uuid"
)

type Branch struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"branch_name" json:"branch_name"`
	Address   *string   `db:"address" json:"address,omitempty"`
	City      *string   `db:"city" json:"city,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
