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

type BalanceHandler struct {
	balanceUseCase *usecase.BalanceUseCase
}

func NewBalanceHandler(balanceUseCase *usecase.BalanceUseCase) *BalanceHandler {
	return &BalanceHandler{
		balanceUseCase: balanceUseCase,
	}
}

// RegisterRoutes регистрирует маршруты баланса. Мутирующие операции защищены
// ключом идемпотентности.
func (h *BalanceHandler) RegisterRoutes(router *gin.Engine, authMiddleware *auth.AuthMiddleware, idempotencyMiddleware gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(authMiddleware.AuthRequired())
	{
		api.GET("/balance", h.GetBalance)
		api.POST("/balance/initialize", idempotencyMiddleware, h.InitializeBalance)
		api.POST("/balance/deposit", idempotencyMiddleware, h.Deposit)
		api.POST("/balance/withdraw", idempotencyMiddleware, h.Withdraw)
		api.GET("/balance/consistency", h.CheckConsistency)
		api.GET("/transactions", h.ListTransactions)
	}
}

func (h *BalanceHandler) GetBalance(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	resp, err := h.balanceUseCase.GetCurrentBalance(c.Request.Context(), userID)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *BalanceHandler) InitializeBalance(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	var req entity.InitializeBalanceRequest
	if !apperrors.BindJSON(c, &req) {
		return
	}

	resp, err := h.balanceUseCase.InitializeBalance(c.Request.Context(), userID, req)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *BalanceHandler) Deposit(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	var req entity.DepositRequest
	if !apperrors.BindJSON(c, &req) {
		return
	}

	resp, err := h.balanceUseCase.AddFunds(c.Request.Context(), userID, req)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *BalanceHandler) Withdraw(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	var req entity.WithdrawRequest
	if !apperrors.BindJSON(c, &req) {
		return
	}

	resp, err := h.balanceUseCase.WithdrawFunds(c.Request.Context(), userID, req)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *BalanceHandler) CheckConsistency(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	resp, err := h.balanceUseCase.CheckBalanceConsistency(c.Request.Context(), userID)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *BalanceHandler) ListTransactions(c *gin.Context) {
	userID := auth.GetUserID(c)
	if userID == 0 {
		apperrors.HandleGinError(c, apperrors.NewUnauthorizedError(""))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	resp, err := h.balanceUseCase.GetTransactions(c.Request.Context(), userID, page, limit)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}
