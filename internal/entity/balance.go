package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance хранит текущий баланс пользователя. Поле Balance — локальный источник
// истины для трат; ExternalBalance — последний наблюдавшийся баланс внешнего API,
// используется только для сверки и диагностики.
type Balance struct {
	ID              uint             `json:"id" gorm:"primaryKey"`
	UserID          uint             `json:"user_id" gorm:"uniqueIndex:idx_balances_user_id;not null"`
	Balance         decimal.Decimal  `json:"balance" gorm:"type:decimal(12,2);not null;default:0"`
	ExternalBalance *decimal.Decimal `json:"external_balance" gorm:"type:decimal(12,2)"`
	LastCheckedAt   *time.Time       `json:"last_checked_at"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Transaction содержит запись о движении средств. Записи только добавляются,
// никогда не изменяются и не удаляются. Суммы знаковые: deposit и win
// положительные, bet и withdrawal отрицательные, поэтому всегда
// BalanceAfter = BalanceBefore + Amount.
type Transaction struct {
	ID            uint            `json:"id" gorm:"primaryKey"`
	UserID        uint            `json:"user_id" gorm:"index:idx_transactions_user_id;not null"`
	BetID         *uint           `json:"bet_id" gorm:"index:idx_transactions_bet_id"`
	Type          string          `json:"type" gorm:"index:idx_transactions_type;type:varchar(20);not null"` // deposit, withdrawal, bet, win
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	BalanceBefore decimal.Decimal `json:"balance_before" gorm:"type:decimal(12,2);not null"`
	BalanceAfter  decimal.Decimal `json:"balance_after" gorm:"type:decimal(12,2);not null"`
	Description   string          `json:"description" gorm:"size:255"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Типы транзакций
const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeBet        = "bet"
	TransactionTypeWin        = "win"
)

type GetBalanceResponse struct {
	Balance         decimal.Decimal  `json:"balance"`
	ExternalBalance *decimal.Decimal `json:"external_balance"`
	Difference      *decimal.Decimal `json:"difference,omitempty"`
	IsSynced        bool             `json:"is_synced"`
	LastUpdated     *time.Time       `json:"last_updated"`
}

type InitializeBalanceRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

type BalanceOperationResponse struct {
	Balance     decimal.Decimal     `json:"balance"`
	Transaction TransactionResponse `json:"transaction"`
}

type TransactionResponse struct {
	ID            uint            `json:"id"`
	BetID         *uint           `json:"bet_id,omitempty"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ListTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int64                 `json:"total"`
	Page         int                   `json:"page"`
	Limit        int                   `json:"limit"`
}

// ConsistencyIssue описывает одно найденное расхождение при сверке баланса
type ConsistencyIssue struct {
	Kind        string          `json:"kind"`
	Expected    decimal.Decimal `json:"expected"`
	Actual      decimal.Decimal `json:"actual"`
	Difference  decimal.Decimal `json:"difference"`
	Remediation string          `json:"remediation"`
}

type ConsistencyResponse struct {
	Consistent      bool               `json:"consistent"`
	LocalBalance    decimal.Decimal    `json:"local_balance"`
	ExternalBalance *decimal.Decimal   `json:"external_balance"`
	ImpliedBalance  decimal.Decimal    `json:"implied_balance"`
	Issues          []ConsistencyIssue `json:"issues"`
}
