package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/internal/usecase"
	apperrors "github.com/director74/bet_integration/pkg/errors"
)

type AuthHandler struct {
	authUseCase *usecase.AuthUseCase
}

func NewAuthHandler(authUseCase *usecase.AuthUseCase) *AuthHandler {
	return &AuthHandler{
		authUseCase: authUseCase,
	}
}

func (h *AuthHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/auth/login", h.Login)
	}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req entity.LoginRequest
	if !apperrors.BindJSON(c, &req) {
		return
	}

	resp, err := h.authUseCase.Login(c.Request.Context(), req)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}
