package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/binarkredit/kredit-api/internal/service"
	"github.com/binarkredit/kredit-api/internal/util"
)

// Reset failures deliberately collapse into one message so callers cannot
// probe which secrets exist, which expired and which were already used.
const resetFailureMessage = "reset token is invalid or expired"

type AuthHandler struct {
	auth *service.AuthService
}

func RegisterAuth(e *echo.Echo, auth *service.AuthService) {
	handler := &AuthHandler{auth: auth}

	public := e.Group("/api/v1/auth")
	public.POST("/register", handler.register)
	public.POST("/login", handler.login)
	public.POST("/google", handler.loginWithGoogle)
	public.POST("/password-reset/request", handler.requestPasswordReset)
	public.POST("/password-reset/validate", handler.validatePasswordReset)
	public.POST("/password-reset/confirm", handler.confirmPasswordReset)

	private := e.Group("/api/v1/auth", RequireAuth(auth))
	private.POST("/logout", handler.logout)
	private.GET("/me", handler.me)
	private.PUT("/me", handler.updateProfile)
	private.POST("/me/avatar", handler.uploadAvatar)
	private.POST("/me/password", handler.changePassword)
}

func (h *AuthHandler) register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	result, err := h.auth.RegisterWithEmail(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailAlreadyUsed):
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		case errors.Is(err, service.ErrPasswordTooWeak):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to register"))
	}
	return c.JSON(http.StatusCreated, buildAuthResponse(result))
}

func (h *AuthHandler) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	result, err := h.auth.Login(c.Request().Context(), req.Identifier, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, util.Error(err.Error()))
		case errors.Is(err, service.ErrUserInactive):
			return c.JSON(http.StatusForbidden, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to log in"))
	}
	return c.JSON(http.StatusOK, buildAuthResponse(result))
}

func (h *AuthHandler) loginWithGoogle(c echo.Context) error {
	var req GoogleLoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	result, err := h.auth.LoginWithGoogle(c.Request().Context(), req.IDToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, util.Error("invalid google token"))
		case errors.Is(err, service.ErrUserInactive):
			return c.JSON(http.StatusForbidden, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to log in"))
	}
	return c.JSON(http.StatusOK, buildAuthResponse(result))
}

func (h *AuthHandler) requestPasswordReset(c echo.Context) error {
	var req PasswordResetRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	if err := h.auth.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to process reset request"))
	}
	// Same response for known and unknown emails.
	return c.JSON(http.StatusAccepted, util.Data("message", "if the account exists, a reset email has been sent"))
}

func (h *AuthHandler) validatePasswordReset(c echo.Context) error {
	var req PasswordResetValidateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	if err := h.auth.ValidateResetToken(c.Request().Context(), req.Token); err != nil {
		if errors.Is(err, service.ErrResetTokenInvalid) || errors.Is(err, service.ErrResetTokenExpired) {
			return c.JSON(http.StatusBadRequest, util.Error(resetFailureMessage))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to validate reset token"))
	}
	return c.JSON(http.StatusOK, util.Data("valid", true))
}

func (h *AuthHandler) confirmPasswordReset(c echo.Context) error {
	var req PasswordResetConfirmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	result, err := h.auth.ConfirmPasswordReset(c.Request().Context(), req.Token, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPasswordTooWeak):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		case errors.Is(err, service.ErrResetTokenInvalid), errors.Is(err, service.ErrResetTokenExpired):
			return c.JSON(http.StatusBadRequest, util.Error(resetFailureMessage))
		case errors.Is(err, service.ErrCredentialUpdateFailed):
			// Rolled back; the token is still usable for a retry.
			return c.JSON(http.StatusServiceUnavailable, util.Error("unable to update password, please retry"))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to reset password"))
	}
	return c.JSON(http.StatusOK, buildAuthResponse(result))
}

func (h *AuthHandler) logout(c echo.Context) error {
	token, ok := CurrentToken(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, util.Error("authentication required"))
	}
	if err := h.auth.Logout(c.Request().Context(), token); err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("unable to log out"))
	}
	return c.JSON(http.StatusOK, util.Data("success", true))
}

func (h *AuthHandler) me(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok || user == nil {
		return c.JSON(http.StatusUnauthorized, util.Error("authentication required"))
	}
	return c.JSON(http.StatusOK, util.Data("user", buildUserResponse(user)))
}

func (h *AuthHandler) updateProfile(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok || user == nil {
		return c.JSON(http.StatusUnauthorized, util.Error("authentication required"))
	}
	var req UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	updated, err := h.auth.UpdateProfile(c.Request().Context(), user.ID, req.FullName, req.Username)
	if err != nil {
		if errors.Is(err, service.ErrUsernameAlreadyUsed) {
			return c.JSON(http.StatusConflict, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to update profile"))
	}
	return c.JSON(http.StatusOK, util.Data("user", buildUserResponse(updated)))
}

func (h *AuthHandler) uploadAvatar(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok || user == nil {
		return c.JSON(http.StatusUnauthorized, util.Error("authentication required"))
	}
	fileHeader, err := c.FormFile("avatar")
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("avatar file is required"))
	}
	file, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("unable to read avatar file"))
	}
	defer file.Close()

	updated, err := h.auth.UploadAvatar(c.Request().Context(), user.ID, service.AvatarUpload{
		Reader:      file,
		Size:        fileHeader.Size,
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
	})
	if err != nil {
		if errors.Is(err, service.ErrAvatarInvalid) {
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to upload avatar"))
	}
	return c.JSON(http.StatusOK, util.Data("user", buildUserResponse(updated)))
}

func (h *AuthHandler) changePassword(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok || user == nil {
		return c.JSON(http.StatusUnauthorized, util.Error("authentication required"))
	}
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}
	if err := h.auth.ChangePassword(c.Request().Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			return c.JSON(http.StatusUnauthorized, util.Error("current password is incorrect"))
		case errors.Is(err, service.ErrPasswordTooWeak):
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, util.Error("unable to change password"))
	}
	return c.JSON(http.StatusOK, util.Data("success", true))
}

func parseLimitOffset(c echo.Context) (limit, offset int) {
	limit = 20
	offset = 0
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func parseUUIDParam(c echo.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	return id, err == nil
}
