package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binarkredit/kredit-api/internal/domain"
	"github.com/binarkredit/kredit-api/internal/repository/ports"
	"github.com/binarkredit/kredit-api/internal/service"
)

// ErrorResponse represents a generic error payload.
type ErrorResponse struct {
	Error string `json:"error" example:"invalid credentials"`
}

// AuthResponse is returned by every endpoint that issues a session token.
type AuthResponse struct {
	Token     string   `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	Type      string   `json:"type" example:"Bearer"`
	Username  *string  `json:"username,omitempty" example:"andi.w"`
	Email     string   `json:"email" example:"user@example.com"`
	Roles     []string `json:"roles" example:"employee"`
	ExpiresIn int64    `json:"expires_in" example:"86400"`
}

// UserResponse is the sanitized user representation.
type UserResponse struct {
	ID        string    `json:"id" example:"9fd13fd2-63c5-4f29-a210-4a1a8e285f74"`
	Username  *string   `json:"username,omitempty" example:"andi.w"`
	Email     string    `json:"email" example:"user@example.com"`
	FullName  *string   `json:"full_name,omitempty" example:"Andi Wijaya"`
	ImageURL  *string   `json:"user_image_url,omitempty"`
	BranchID  *string   `json:"branch_id,omitempty"`
	IsActive  bool      `json:"is_active" example:"true"`
	Roles     []string  `json:"roles,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegisterRequest carries self-service registration fields.
type RegisterRequest struct {
	Email    string `json:"email" example:"user@example.com"`
	Password string `json:"password" example:"StrongPass12"`
}

// LoginRequest accepts a username or email as identifier.
type LoginRequest struct {
	Identifier string `json:"identifier" example:"andi.w"`
	Password   string `json:"password" example:"StrongPass12"`
}

// GoogleLoginRequest carries the Google ID token.
type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

// CreateUserRequest is the admin user-creation payload.
type CreateUserRequest struct {
	Username string  `json:"username" example:"andi.w"`
	Email    string  `json:"email" example:"user@example.com"`
	Password string  `json:"password" example:"StrongPass12"`
	IsActive *bool   `json:"is_active,omitempty"`
	BranchID *string `json:"branch_id,omitempty"`
	Role     string  `json:"role,omitempty" example:"employee"`
}

// UpdateProfileRequest carries optional profile fields.
type UpdateProfileRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Username *string `json:"username,omitempty"`
}

// ChangePasswordRequest captures the payload for password updates.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// PasswordResetRequest asks for a reset secret to be mailed out.
type PasswordResetRequest struct {
	Email string `json:"email" example:"user@example.com"`
}

// PasswordResetValidateRequest checks a secret before the new-password form.
type PasswordResetValidateRequest struct {
	Token string `json:"token"`
}

// PasswordResetConfirmRequest consumes the secret and sets a new password.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// BranchRequest covers create and update payloads for branches.
type BranchRequest struct {
	Name    *string `json:"branch_name,omitempty" example:"Jakarta Pusat"`
	Address *string `json:"address,omitempty"`
	City    *string `json:"city,omitempty"`
}

// CreatePlafondRequest carries the full set of plafond fields.
type CreatePlafondRequest struct {
	Name         string  `json:"plafond_name" example:"Gold"`
	Description  *string `json:"description,omitempty"`
	MaxAmount    string  `json:"max_amount" example:"50000000"`
	InterestRate string  `json:"interest_rate" example:"0.05"`
	TenorMonth   int     `json:"tenor_month" example:"24"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// UpdatePlafondRequest carries optional fields; absent fields keep their
// current value.
type UpdatePlafondRequest struct {
	Name         *string `json:"plafond_name,omitempty"`
	Description  *string `json:"description,omitempty"`
	MaxAmount    *string `json:"max_amount,omitempty"`
	InterestRate *string `json:"interest_rate,omitempty"`
	TenorMonth   *int    `json:"tenor_month,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// PlafondResponse serializes decimal fields as strings.
type PlafondResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"plafond_name" example:"Gold"`
	Description  *string   `json:"description,omitempty"`
	MaxAmount    string    `json:"max_amount" example:"50000000"`
	InterestRate string    `json:"interest_rate" example:"0.05"`
	TenorMonth   int       `json:"tenor_month" example:"24"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListMeta describes limit/offset pagination metadata.
type ListMeta struct {
	Limit  int `json:"limit" example:"20"`
	Offset int `json:"offset" example:"0"`
	Count  int `json:"count" example:"2"`
}

func buildUserResponse(user *domain.User) UserResponse {
	resp := UserResponse{
		ID:        user.ID.String(),
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		ImageURL:  user.ImageURL,
		IsActive:  user.IsActive,
		Roles:     user.RoleNames(),
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if user.BranchID != nil {
		id := user.BranchID.String()
		resp.BranchID = &id
	}
	return resp
}

func buildAuthResponse(result *service.AuthResult) AuthResponse {
	return AuthResponse{
		Token:     result.Token,
		Type:      "Bearer",
		Username:  result.User.Username,
		Email:     result.User.Email,
		Roles:     result.User.RoleNames(),
		ExpiresIn: int64(time.Until(result.ExpiresAt).Seconds()),
	}
}

func buildPlafondResponse(plafond *domain.Plafond) PlafondResponse {
	return PlafondResponse{
		ID:           plafond.ID.String(),
		Name:         plafond.Name,
		Description:  plafond.Description,
		MaxAmount:    plafond.MaxAmount.String(),
		InterestRate: plafond.InterestRate.String(),
		TenorMonth:   plafond.TenorMonth,
		IsActive:     plafond.IsActive,
		CreatedAt:    plafond.CreatedAt,
		UpdatedAt:    plafond.UpdatedAt,
	}
}

func buildPlafondUpdate(req *UpdatePlafondRequest) (ports.PlafondUpdate, error) {
	update := ports.PlafondUpdate{
		Name:        req.Name,
		Description: req.Description,
		TenorMonth:  req.TenorMonth,
		IsActive:    req.IsActive,
	}
	if req.MaxAmount != nil {
		value, err := parseDecimalField(*req.MaxAmount, "max_amount")
		if err != nil {
			return ports.PlafondUpdate{}, err
		}
		update.MaxAmount = &value
	}
	if req.InterestRate != nil {
		value, err := parseDecimalField(*req.InterestRate, "interest_rate")
		if err != nil {
			return ports.PlafondUpdate{}, err
		}
		update.InterestRate = &value
	}
	return update, nil
}

func parseDecimalField(raw, field string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s must be a decimal number", field)
	}
	return value, nil
}
