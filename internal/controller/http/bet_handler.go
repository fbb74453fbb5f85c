package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/internal/usecase"
	"github.com/director74/bet_integration/pkg/auth"
	apperrors "github.com/director74/bet_integration/pkg/errors"
)

type BetHandler struct {
	bettingUseCase *usecase.BettingUseCase
}

func NewBetHandler(bettingUseCase *usecase.BettingUseCase) *BetHandler {
	return &BetHandler{
		bettingUseCase: bettingUseCase,
	}
}

// RegisterRoutes регистрирует маршруты ставок. Мутирующий POST /bets защищен
// ключом идемпотентности.
func (h *BetHandler) RegisterRoutes(router *gin.Engine, authMiddleware *auth.AuthMiddleware, idempotencyMiddleware gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(authMiddleware.AuthRequired())
	{
		api.POST("/bets", idempotencyMiddleware, h.PlaceBet)
		api.GET("/bets", h.ListBets)
		api.GET("/bets/result/:id", h.GetBetResult)
		api.GET("/bets/recommended", h.GetRecommendedBet)
	}
}

func (h *BetHandler) PlaceBet(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	var req entity.PlaceBetRequest
	if !apperrors.BindJSON(c, &req) {
		return
	}

	resp, err := h.bettingUseCase.PlaceBet(c.Request.Context(), userID, req)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *BetHandler) GetBetResult(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		apperrors.HandleGinError(c, apperrors.NewValidationError("id", "некорректный идентификатор ставки"))
		return
	}

	resp, ucErr := h.bettingUseCase.CheckBetResult(c.Request.Context(), userID, uint(id))
	if apperrors.HandleGinError(c, ucErr) {
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *BetHandler) GetRecommendedBet(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	resp, err := h.bettingUseCase.GetRecommendedBet(c.Request.Context(), userID)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *BetHandler) ListBets(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	resp, err := h.bettingUseCase.ListBets(c.Request.Context(), userID, page, limit)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}
