package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/binarkredit/kredit-api/internal/service"
	"github.com/binarkredit/kredit-api/internal/util"
)

type BranchHandler struct {
	branches *service.BranchService
}

func RegisterBranches(e *echo.Echo, auth *service.AuthService, branches *service.BranchService) {
	handler := &BranchHandler{branches: branches}

	group := e.Group("/api/v1/branches", RequireAuth(auth))
	group.GET("", handler.list)
	group.GET("/:id", handler.get)

	admin := e.Group("/api/v1/admin/branches", RequireAuth(auth), RequireAdmin(auth))
	admin.POST("", handler.create)
	admin.PUT("/:id", handler.update)
	admin.DELETE("/:id", handler.remove)
}

func (h *BranchHandler) list(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	branches, err := h.branches.List(c.Request().Context(), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to list branches"))
	}
	return c.JSON(http.StatusOK, util.Envelope{
		"branches": branches,
		"meta":     ListMeta{Limit: limit, Offset: offset, Count: len(branches)},
	})
}

func (h *BranchHandler) get(c echo.Context) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, util.Error("invalid branch id"))
	}
	branch, err := h.branches.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrBranchNotFound) {
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to load branch"))
	}
	return c.JSON(http.StatusOK, util.Data("branch", branch))
}

func (h *BranchHandler) create(c echo.Context) error {
	var req BranchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	if req.Name == nil {
		return c.JSON(http.StatusBadRequest, util.Error("branch_name is required"))
	}
	branch, err := h.branches.Create(c.Request().Context(), *req.Name, req.Address, req.City)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBranchValidation):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		case errors.Is(err, service.ErrBranchAlreadyExists):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to create branch"))
	}
	return c.JSON(http.StatusCreated, util.Data("branch", branch))
}

func (h *BranchHandler) update(c echo.Context) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, util.Error("invalid branch id"))
	}
	var req BranchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	branch, err := h.branches.Update(c.Request().Context(), id, req.Name, req.Address, req.City)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBranchNotFound):
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		case errors.Is(err, service.ErrBranchValidation):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		case errors.Is(err, service.ErrBranchAlreadyExists):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to update branch"))
	}
	return c.JSON(http.StatusOK, util.Data("branch", branch))
}

func (h *BranchHandler) remove(c echo.Context) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, util.Error("invalid branch id"))
	}
	if err := h.branches.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, service.ErrBranchNotFound) {
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to delete branch"))
	}
	return c.JSON(http.StatusOK, util.Data("success", true))
}
