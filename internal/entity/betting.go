package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bet представляет одну ставку. WinAmount пустой пока ставка pending;
// после перехода в completed фиксируется и больше не пересчитывается.
// Переход pending -> completed происходит ровно один раз.
type Bet struct {
	ID            uint             `json:"id" gorm:"primaryKey"`
	UserID        uint             `json:"user_id" gorm:"index:idx_bets_user_id;not null"`
	ExternalBetID string           `json:"external_bet_id" gorm:"size:100;uniqueIndex:idx_bets_external_bet_id;not null"`
	Amount        decimal.Decimal  `json:"amount" gorm:"type:decimal(12,2);not null"`
	Status        string           `json:"status" gorm:"index:idx_bets_status;type:varchar(20);not null"` // pending, completed, cancelled
	WinAmount     *decimal.Decimal `json:"win_amount" gorm:"type:decimal(12,2)"`
	Simulated     bool             `json:"simulated" gorm:"not null;default:false"` // ставка рассчитана локально, а не внешним API
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at"`
}

// Статусы ставок
const (
	BetStatusPending   = "pending"
	BetStatusCompleted = "completed"
	BetStatusCancelled = "cancelled"
)

// Границы допустимой суммы ставки
const (
	MinBetAmount = 1
	MaxBetAmount = 5
)

type PlaceBetRequest struct {
	Amount int `json:"amount" binding:"required"`
}

type PlaceBetResponse struct {
	ID            uint             `json:"id"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        string           `json:"status"`
	ExternalBetID string           `json:"external_bet_id"`
	WinAmount     *decimal.Decimal `json:"win_amount,omitempty"`
	BalanceBefore decimal.Decimal  `json:"balance_before"`
	BalanceAfter  decimal.Decimal  `json:"balance_after"`
	Simulated     bool             `json:"simulated,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

type BetResultResponse struct {
	ID            uint             `json:"id"`
	ExternalBetID string           `json:"external_bet_id"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        string           `json:"status"`
	WinAmount     *decimal.Decimal `json:"win_amount"`
	CompletedAt   *time.Time       `json:"completed_at"`
}

// Источники рекомендованной ставки
const (
	RecommendationSourceExternal = "external"
	RecommendationSourceFallback = "local_fallback"
)

type RecommendedBetResponse struct {
	RecommendedAmount int    `json:"recommended_amount"`
	Source            string `json:"source"`
}

// BetStats агрегированная статистика ставок пользователя
type BetStats struct {
	TotalBets    int64           `json:"total_bets"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalWon     decimal.Decimal `json:"total_won"`
}

type BetResponse struct {
	ID            uint             `json:"id"`
	ExternalBetID string           `json:"external_bet_id"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        string           `json:"status"`
	WinAmount     *decimal.Decimal `json:"win_amount"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at"`
}

type ListBetsResponse struct {
	Bets  []BetResponse `json:"bets"`
	Stats BetStats      `json:"stats"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}
