package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/SinaHo/phone-auth-backend/api/v1/authrpc"
	"github.com/SinaHo/phone-auth-backend/internal/middleware"
	"github.com/SinaHo/phone-auth-backend/internal/service"
)

// UserHandler serves the /users HTTP endpoints.
type UserHandler struct {
	auth     service.AuthService
	profiles service.ProfileService
	logger   *zap.SugaredLogger
}

func NewUserHandler(auth service.AuthService, profiles service.ProfileService, logger *zap.SugaredLogger) *UserHandler {
	return &UserHandler{auth: auth, profiles: profiles, logger: logger}
}

// Register mounts the routes. requireAuth guards everything except login and
// token refresh.
func (h *UserHandler) Register(e *echo.Echo, requireAuth echo.MiddlewareFunc) {
	users := e.Group("/users")
	users.POST("/login", h.RequestCode)
	users.PUT("/login", h.VerifyCode)
	users.POST("/token/refresh", h.RefreshToken)

	users.GET("/list", h.ListAccounts, requireAuth)
	users.GET("/:id", h.GetProfile, requireAuth)
	users.PUT("/:id", h.UpdateProfile, requireAuth)
	users.PATCH("/:id", h.UpdateProfile, requireAuth)
	users.DELETE("/:id", h.DeleteAccount, requireAuth)
}

// RequestCode answers 201 for a new account and 200 for a returning one.
func (h *UserHandler) RequestCode(c echo.Context) error {
	var req authrpc.RequestCodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": msgInvalidRequest})
	}

	res, err := h.auth.RequestCode(c.Request().Context(), req.Phone)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	return c.JSON(code, toLoginResponse(res))
}

func (h *UserHandler) VerifyCode(c echo.Context) error {
	var req authrpc.VerifyCodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": msgInvalidRequest})
	}

	pair, err := h.auth.VerifyCode(c.Request().Context(), req.Phone, req.AuthCode)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toTokenResponse(msgAccessGranted, pair))
}

func (h *UserHandler) RefreshToken(c echo.Context) error {
	var req authrpc.RefreshTokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": msgInvalidRequest})
	}

	pair, err := h.auth.Refresh(c.Request().Context(), req.Refresh)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toTokenResponse(msgTokenRefreshed, pair))
}

func (h *UserHandler) GetProfile(c echo.Context) error {
	targetID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"message": msgNotFound})
	}

	p, err := h.profiles.GetProfile(c.Request().Context(), actorID(c), targetID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toProfile(p))
}

// UpdateProfile redeems referral_code, when present, together with the other
// fields. Either all of them are applied or none.
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	targetID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"message": msgNotFound})
	}

	var req authrpc.UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": msgInvalidRequest})
	}

	p, err := h.profiles.UpdateProfile(c.Request().Context(), actorID(c), targetID, toProfileUpdate(&req))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toProfile(p))
}

func (h *UserHandler) DeleteAccount(c echo.Context) error {
	targetID, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"message": msgNotFound})
	}

	if err := h.profiles.DeleteAccount(c.Request().Context(), actorID(c), targetID); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *UserHandler) ListAccounts(c echo.Context) error {
	users, err := h.profiles.ListAccounts(c.Request().Context(), actorID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toAccounts(users))
}

func pathID(c echo.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	return id, err == nil
}

// actorID is set by middleware.JWTAuth on every guarded route.
func actorID(c echo.Context) uuid.UUID {
	id, _ := c.Get(middleware.UserIDKey).(uuid.UUID)
	return id
}
