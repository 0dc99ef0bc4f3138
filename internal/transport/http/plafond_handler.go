package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/binarkredit/kredit-api/internal/service"
	"github.com/binarkredit/kredit-api/internal/util"
)

type PlafondHandler struct {
	plafonds *service.PlafondService
}

func RegisterPlafonds(e *echo.Echo, auth *service.AuthService, plafonds *service.PlafondService) {
	handler := &PlafondHandler{plafonds: plafonds}

	group := e.Group("/api/v1/plafonds", RequireAuth(auth))
	group.GET("", handler.list)
	group.GET("/:id", handler.get)

	admin := e.Group("/api/v1/admin/plafonds", RequireAuth(auth), RequireAdmin(auth))
	admin.POST("", handler.create)
	admin.PATCH("/:id", handler.update)
	admin.DELETE("/:id", handler.remove)
}

func (h *PlafondHandler) list(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	activeOnly := c.QueryParam("active") == "true"
	plafonds, err := h.plafonds.List(c.Request().Context(), activeOnly, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to list plafonds"))
	}
	out := make([]PlafondResponse, 0, len(plafonds))
	for i := range plafonds {
		out = append(out, buildPlafondResponse(&plafonds[i]))
	}
	return c.JSON(http.StatusOK, util.Envelope{
		"plafonds": out,
		"meta":     ListMeta{Limit: limit, Offset: offset, Count: len(out)},
	})
}

func (h *PlafondHandler) get(c echo.Context) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, util.Error("invalid plafond id"))
	}
	plafond, err := h.plafonds.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrPlafondNotFound) {
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to load plafond"))
	}
	return c.JSON(http.StatusOK, util.Data("plafond", buildPlafondResponse(plafond)))
}

func (h *PlafondHandler) create(c echo.Context) error {
	var req CreatePlafondRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	maxAmount, err := parseDecimalField(req.MaxAmount, "max_amount")
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}
	interestRate, err := parseDecimalField(req.InterestRate, "interest_rate")
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	plafond, err := h.plafonds.Create(c.Request().Context(), service.PlafondCreateInput{
		Name:         req.Name,
		Description:  req.Description,
		MaxAmount:    maxAmount,
		InterestRate: interestRate,
		TenorMonth:   req.TenorMonth,
		IsActive:     isActive,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPlafondValidation):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		case errors.Is(err, service.ErrPlafondAlreadyExists):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to create plafond"))
	}
	return c.JSON(http.StatusCreated, util.Data("plafond", buildPlafondResponse(plafond)))
}

func (h *PlafondHandler) update(c echo.Context) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, util.Error("invalid plafond id"))
	}
	var req UpdatePlafondRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	update, err := buildPlafondUpdate(&req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}
	plafond, err := h.plafonds.Update(c.Request().Context(), id, update)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPlafondNotFound):
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		case errors.Is(err, service.ErrPlafondValidation):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		case errors.Is(err, service.ErrPlafondAlreadyExists):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to update plafond"))
	}
	return c.JSON(http.StatusOK, util.Data("plafond", buildPlafondResponse(plafond)))
}

func (h *PlafondHandler) remove(c echo.Context) error {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, util.Error("invalid plafond id"))
	}
	if err := h.plafonds.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, service.ErrPlafondNotFound) {
			return c.JSON(http.StatusNotFound, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to delete plafond"))
	}
	return c.JSON(http.StatusOK, util.Data("success", true))
}
