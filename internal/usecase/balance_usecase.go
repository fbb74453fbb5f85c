package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/internal/repo"
	"github.com/director74/bet_integration/internal/usecase/webapi"
	apperrors "github.com/director74/bet_integration/pkg/errors"
)

// Порог расхождения, ниже которого локальный и внешний балансы считаются
// синхронизированными
var syncTolerance = decimal.NewFromFloat(0.01)

// BalanceUseCase реализует операции с балансом и журналом транзакций
type BalanceUseCase struct {
	balanceRepo repo.BalanceRepository
	accountRepo repo.ExternalAccountRepository
	api         ExternalBettingAPI
	cipher      cipherDecryptor
}

// cipherDecryptor минимальный интерфейс расшифровки секрета
type cipherDecryptor interface {
	Decrypt(encoded string) (string, error)
}

func NewBalanceUseCase(
	balanceRepo repo.BalanceRepository,
	accountRepo repo.ExternalAccountRepository,
	api ExternalBettingAPI,
	cipher cipherDecryptor,
) *BalanceUseCase {
	return &BalanceUseCase{
		balanceRepo: balanceRepo,
		accountRepo: accountRepo,
		api:         api,
		cipher:      cipher,
	}
}

// GetCurrentBalance возвращает баланс пользователя. Без внешнего аккаунта
// отдается локальное значение как есть; при наличии аккаунта значение внешнего
// API авторитетно, локальная запись обновляет диагностический снимок.
func (uc *BalanceUseCase) GetCurrentBalance(ctx context.Context, userID uint) (*entity.GetBalanceResponse, error) {
	balance, err := uc.balanceRepo.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, repo.ErrBalanceNotFound) {
		return nil, apperrors.NewInternalServerError(err)
	}
	hasLocal := err == nil

	creds, credErr := uc.externalCredentials(ctx, userID)
	if credErr != nil {
		if !errors.Is(credErr, repo.ErrExternalAccountNotFound) {
			return nil, apperrors.NewInternalServerError(credErr)
		}
		// Внешнего аккаунта нет: локальный баланс единственный источник истины
		if !hasLocal {
			return nil, apperrors.NewBalanceNotFoundError(userID)
		}
		return &entity.GetBalanceResponse{
			Balance:         balance.Balance,
			ExternalBalance: nil,
			IsSynced:        false,
			LastUpdated:     &balance.UpdatedAt,
		}, nil
	}

	auth := uc.api.Authenticate(ctx, creds)
	if !auth.Success {
		return nil, apperrors.NewAuthenticationFailedError(apiErrorMessage(auth.Error))
	}

	balRes := uc.api.GetBalance(ctx, creds)
	if !balRes.Success {
		return nil, apperrors.NewBalanceSyncError(apiErrorMessage(balRes.Error))
	}
	external := balRes.Balance

	if !hasLocal {
		// Локальной записи еще нет: создаем, засеяв внешним значением
		now := time.Now()
		balance = &entity.Balance{
			UserID:          userID,
			Balance:         external,
			ExternalBalance: &external,
			LastCheckedAt:   &now,
		}
		if err := uc.balanceRepo.Create(ctx, balance); err != nil {
			return nil, apperrors.NewInternalServerError(err)
		}
	} else {
		now := time.Now()
		balance.ExternalBalance = &external
		balance.LastCheckedAt = &now
		if err := uc.balanceRepo.Update(ctx, balance); err != nil {
			return nil, apperrors.NewInternalServerError(err)
		}
	}

	difference := balance.Balance.Sub(external)
	return &entity.GetBalanceResponse{
		Balance:         external,
		ExternalBalance: &external,
		Difference:      &difference,
		IsSynced:        difference.Abs().LessThan(syncTolerance),
		LastUpdated:     balance.LastCheckedAt,
	}, nil
}

// InitializeBalance создает баланс пользователя. Если настроен внешний аккаунт,
// сначала записывается внешний баланс: локальная запись не вправе утверждать
// баланс, которого нет во внешней системе.
func (uc *BalanceUseCase) InitializeBalance(ctx context.Context, userID uint, req entity.InitializeBalanceRequest) (*entity.BalanceOperationResponse, error) {
	if req.Amount.IsNegative() {
		return nil, apperrors.NewValidationError("amount", "сумма не может быть отрицательной")
	}

	if _, err := uc.balanceRepo.GetByUserID(ctx, userID); err == nil {
		return nil, apperrors.NewValidationError("balance", "баланс уже инициализирован")
	} else if !errors.Is(err, repo.ErrBalanceNotFound) {
		return nil, apperrors.NewInternalServerError(err)
	}

	creds, credErr := uc.externalCredentials(ctx, userID)
	if credErr == nil {
		auth := uc.api.Authenticate(ctx, creds)
		if !auth.Success {
			return nil, apperrors.NewAuthenticationFailedError(apiErrorMessage(auth.Error))
		}
		setRes := uc.api.SetBalance(ctx, creds, req.Amount)
		if !setRes.Success {
			return nil, apperrors.NewBalanceSyncError(apiErrorMessage(setRes.Error))
		}
	} else if !errors.Is(credErr, repo.ErrExternalAccountNotFound) {
		return nil, apperrors.NewInternalServerError(credErr)
	}

	balance := &entity.Balance{
		UserID:  userID,
		Balance: req.Amount,
	}
	var initialTx *entity.Transaction

	err := uc.balanceRepo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := uc.balanceRepo.CreateTx(tx, balance); err != nil {
			return err
		}
		if req.Amount.IsPositive() {
			initialTx = &entity.Transaction{
				UserID:        userID,
				Type:          entity.TransactionTypeDeposit,
				Amount:        req.Amount,
				BalanceBefore: decimal.Zero,
				BalanceAfter:  req.Amount,
				Description:   "Первоначальное пополнение",
			}
			return uc.balanceRepo.CreateTransactionTx(tx, initialTx)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewInternalServerError(err)
	}

	resp := &entity.BalanceOperationResponse{Balance: balance.Balance}
	if initialTx != nil {
		resp.Transaction = toTransactionResponse(initialTx)
	}
	return resp, nil
}

// AddFunds пополняет локальный баланс
func (uc *BalanceUseCase) AddFunds(ctx context.Context, userID uint, req entity.DepositRequest) (*entity.BalanceOperationResponse, error) {
	if !req.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("amount", "сумма пополнения должна быть положительной")
	}

	var resp *entity.BalanceOperationResponse
	err := uc.balanceRepo.WithTransaction(ctx, func(tx *gorm.DB) error {
		balance, err := uc.balanceRepo.GetForUpdate(tx, userID)
		if err != nil {
			return err
		}

		before := balance.Balance
		balance.Balance = before.Add(req.Amount)

		depositTx := &entity.Transaction{
			UserID:        userID,
			Type:          entity.TransactionTypeDeposit,
			Amount:        req.Amount,
			BalanceBefore: before,
			BalanceAfter:  balance.Balance,
			Description:   "Пополнение баланса",
		}
		if err := uc.balanceRepo.CreateTransactionTx(tx, depositTx); err != nil {
			return err
		}
		if err := uc.balanceRepo.SaveTx(tx, balance); err != nil {
			return err
		}

		resp = &entity.BalanceOperationResponse{
			Balance:     balance.Balance,
			Transaction: toTransactionResponse(depositTx),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrBalanceNotFound) {
			return nil, apperrors.NewBalanceNotFoundError(userID)
		}
		return nil, apperrors.NewInternalServerError(err)
	}
	return resp, nil
}

// WithdrawFunds списывает средства с локального баланса
func (uc *BalanceUseCase) WithdrawFunds(ctx context.Context, userID uint, req entity.WithdrawRequest) (*entity.BalanceOperationResponse, error) {
	if !req.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("amount", "сумма списания должна быть положительной")
	}

	var resp *entity.BalanceOperationResponse
	err := uc.balanceRepo.WithTransaction(ctx, func(tx *gorm.DB) error {
		balance, err := uc.balanceRepo.GetForUpdate(tx, userID)
		if err != nil {
			return err
		}

		if balance.Balance.LessThan(req.Amount) {
			return apperrors.NewInsufficientBalanceError("")
		}

		before := balance.Balance
		balance.Balance = before.Sub(req.Amount)

		withdrawTx := &entity.Transaction{
			UserID:        userID,
			Type:          entity.TransactionTypeWithdrawal,
			Amount:        req.Amount.Neg(),
			BalanceBefore: before,
			BalanceAfter:  balance.Balance,
			Description:   "Списание средств",
		}
		if err := uc.balanceRepo.CreateTransactionTx(tx, withdrawTx); err != nil {
			return err
		}
		if err := uc.balanceRepo.SaveTx(tx, balance); err != nil {
			return err
		}

		resp = &entity.BalanceOperationResponse{
			Balance:     balance.Balance,
			Transaction: toTransactionResponse(withdrawTx),
		}
		return nil
	})
	if err != nil {
		var se *apperrors.ServiceError
		if errors.As(err, &se) {
			return nil, se
		}
		if errors.Is(err, repo.ErrBalanceNotFound) {
			return nil, apperrors.NewBalanceNotFoundError(userID)
		}
		return nil, apperrors.NewInternalServerError(err)
	}
	return resp, nil
}

// GetTransactions возвращает страницу журнала транзакций пользователя
func (uc *BalanceUseCase) GetTransactions(ctx context.Context, userID uint, page, limit int) (*entity.ListTransactionsResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	transactions, total, err := uc.balanceRepo.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.NewInternalServerError(err)
	}

	resp := &entity.ListTransactionsResponse{
		Transactions: make([]entity.TransactionResponse, 0, len(transactions)),
		Total:        total,
		Page:         page,
		Limit:        limit,
	}
	for i := range transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(&transactions[i]))
	}
	return resp, nil
}

// CheckBalanceConsistency сверяет локальный баланс с журналом транзакций и с
// последним снимком внешнего баланса. Операция только читает, ничего не чинит.
func (uc *BalanceUseCase) CheckBalanceConsistency(ctx context.Context, userID uint) (*entity.ConsistencyResponse, error) {
	balance, err := uc.balanceRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrBalanceNotFound) {
			return nil, apperrors.NewBalanceNotFoundError(userID)
		}
		return nil, apperrors.NewInternalServerError(err)
	}

	sums, err := uc.balanceRepo.SumTransactionsByType(ctx, userID)
	if err != nil {
		return nil, apperrors.NewInternalServerError(err)
	}

	// Суммы знаковые, поэтому подразумеваемый баланс — простая сумма журнала
	implied := decimal.Zero
	for _, sum := range sums {
		implied = implied.Add(sum)
	}

	resp := &entity.ConsistencyResponse{
		Consistent:      true,
		LocalBalance:    balance.Balance,
		ExternalBalance: balance.ExternalBalance,
		ImpliedBalance:  implied,
		Issues:          []entity.ConsistencyIssue{},
	}

	if !balance.Balance.Sub(implied).Abs().LessThan(syncTolerance) {
		resp.Consistent = false
		resp.Issues = append(resp.Issues, entity.ConsistencyIssue{
			Kind:        "ledger_mismatch",
			Expected:    implied,
			Actual:      balance.Balance,
			Difference:  balance.Balance.Sub(implied),
			Remediation: "журнал транзакций не сходится с балансом, требуется ручной разбор",
		})
	}

	if balance.ExternalBalance != nil {
		diff := balance.Balance.Sub(*balance.ExternalBalance)
		if !diff.Abs().LessThan(syncTolerance) {
			resp.Consistent = false
			resp.Issues = append(resp.Issues, entity.ConsistencyIssue{
				Kind:        "external_divergence",
				Expected:    *balance.ExternalBalance,
				Actual:      balance.Balance,
				Difference:  diff,
				Remediation: "локальный баланс расходится со снимком внешнего API, требуется сверка",
			})
		}
	}

	return resp, nil
}

// externalCredentials возвращает расшифрованные учетные данные внешнего API
func (uc *BalanceUseCase) externalCredentials(ctx context.Context, userID uint) (webapi.Credentials, error) {
	account, err := uc.accountRepo.GetActiveByUserID(ctx, userID)
	if err != nil {
		return webapi.Credentials{}, err
	}
	secret, err := uc.cipher.Decrypt(account.SecretEncrypted)
	if err != nil {
		return webapi.Credentials{}, err
	}
	return webapi.Credentials{ExternalID: account.ExternalID, Secret: secret}, nil
}

func toTransactionResponse(tx *entity.Transaction) entity.TransactionResponse {
	return entity.TransactionResponse{
		ID:            tx.ID,
		BetID:         tx.BetID,
		Type:          tx.Type,
		Amount:        tx.Amount,
		BalanceBefore: tx.BalanceBefore,
		BalanceAfter:  tx.BalanceAfter,
		Description:   tx.Description,
		CreatedAt:     tx.CreatedAt,
	}
}
