package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange и ключи маршрутизации доменных событий
const (
	BettingEventsExchange = "betting_events"

	BetPlacedRoutingKey              = "bet.placed"
	BetSettledRoutingKey             = "bet.settled"
	ReconciliationRequiredRoutingKey = "balance.reconciliation_required"
)

// BetPlacedEvent публикуется после фиксации ставки в базе
type BetPlacedEvent struct {
	BetID         uint            `json:"bet_id"`
	UserID        uint            `json:"user_id"`
	ExternalBetID string          `json:"external_bet_id"`
	Amount        decimal.Decimal `json:"amount"`
	Simulated     bool            `json:"simulated"`
	PlacedAt      time.Time       `json:"placed_at"`
}

// BetSettledEvent публикуется после перехода ставки в completed
type BetSettledEvent struct {
	BetID     uint            `json:"bet_id"`
	UserID    uint            `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	WinAmount decimal.Decimal `json:"win_amount"`
	Won       bool            `json:"won"`
	Simulated bool            `json:"simulated"`
	SettledAt time.Time       `json:"settled_at"`
}

// BalanceReconciliationEvent публикуется, когда ставка зависла в pending и
// требуется фоновая досверка с внешним API
type BalanceReconciliationEvent struct {
	BetID         uint      `json:"bet_id"`
	UserID        uint      `json:"user_id"`
	ExternalBetID string    `json:"external_bet_id"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}
