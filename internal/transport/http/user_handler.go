package http

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/binarkredit/kredit-api/internal/service"
	"github.com/binarkredit/kredit-api/internal/util"
)

type UserHandler struct {
	auth *service.AuthService
}

// RegisterUsers wires the admin user-management endpoints.
func RegisterUsers(e *echo.Echo, auth *service.AuthService) {
	handler := &UserHandler{auth: auth}

	admin := e.Group("/api/v1/admin/users", RequireAuth(auth), RequireAdmin(auth))
	admin.POST("", handler.create)
	admin.GET("", handler.list)
	admin.GET("/:id", handler.get)
	admin.PUT("/:id/active", handler.setActive)
	admin.DELETE("/:id", handler.remove)
}

func (h *UserHandler) create(c echo.Context) error {
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}

	var branchID *uuid.UUID
	if req.BranchID != nil && *req.BranchID != "" {
		id, err := uuid.Parse(*req.BranchID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, util.Error("branch_id must be a valid UUID"))
		}
		branchID = &id
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	user, err := h.auth.CreateUser(c.Request().Context(), req.Username, req.Email, req.Password, isActive, branchID, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailAlreadyUsed), errors.Is(err, service.ErrUsernameAlreadyUsed):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		case errors.Is(err, service.ErrPasswordTooWeak):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to create user"))
	}
	return c.JSON(http.StatusCreated, util.Data("user", buildUserResponse(user)))
}

func (h *UserHandler) list(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	users, err := h.auth.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to list users"))
	}
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, buildUserResponse(&users[i]))
	}
	return c.JSON(http.StatusOK, util.Envelope{
		"users": out,
		"meta":  ListMeta{Limit: limit, Offset: offset, Count: len(out)},
	})
}

func (h *UserHandler) get(c echo.Context) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, util.Error("invalid user id"))
	}
	user, err := h.auth.GetUser(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to load user"))
	}
	return c.JSON(http.StatusOK, util.Data("user", buildUserResponse(user)))
}

func (h *UserHandler) setActive(c echo.Context) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, util.Error("invalid user id"))
	}
	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	if err := h.auth.SetUserActive(c.Request().Context(), id, req.IsActive); err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to update user"))
	}
	return c.JSON(http.StatusOK, util.Data("success", true))
}

func (h *UserHandler) remove(c echo.Context) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, util.Error("invalid user id"))
	}
	if err := h.auth.DeleteUser(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to delete user"))
	}
	return c.JSON(http.StatusOK, util.Data("success", true))
}
