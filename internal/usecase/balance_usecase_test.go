package usecase

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/internal/repo"
	"github.com/director74/bet_integration/internal/usecase/webapi"
	"github.com/director74/bet_integration/pkg/crypto"
	apperrors "github.com/director74/bet_integration/pkg/errors"
)

type balanceTestEnv struct {
	balanceRepo *MockBalanceRepository
	accountRepo *MockExternalAccountRepository
	api         *MockExternalAPI
	cipher      *crypto.Cipher
	uc          *BalanceUseCase
}

func newBalanceTestEnv(t *testing.T) *balanceTestEnv {
	t.Helper()

	cipher, err := crypto.NewCipher(testKeyHex, testIVHex)
	assert.NoError(t, err)

	env := &balanceTestEnv{
		balanceRepo: new(MockBalanceRepository),
		accountRepo: new(MockExternalAccountRepository),
		api:         new(MockExternalAPI),
		cipher:      cipher,
	}
	env.uc = NewBalanceUseCase(env.balanceRepo, env.accountRepo, env.api, cipher)
	return env
}

func (e *balanceTestEnv) withAccount(userID uint, externalID int, secret string) {
	e.accountRepo.On("GetActiveByUserID", mock.Anything, userID).Return(&entity.ExternalAccount{
		UserID:          userID,
		ExternalID:      externalID,
		SecretEncrypted: e.cipher.Encrypt(secret),
		Active:          true,
	}, nil)
}

func TestGetCurrentBalanceWithoutExternalAccount(t *testing.T) {
	env := newBalanceTestEnv(t)

	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("50")}, nil)
	env.accountRepo.On("GetActiveByUserID", mock.Anything, uint(1)).Return(nil, repo.ErrExternalAccountNotFound)

	resp, err := env.uc.GetCurrentBalance(context.Background(), 1)

	assert.NoError(t, err)
	assert.True(t, dec("50").Equal(resp.Balance))
	// Без внешнего аккаунта сверять не с чем
	assert.Nil(t, resp.ExternalBalance)
	assert.False(t, resp.IsSynced)
	env.api.AssertNotCalled(t, "GetBalance")
}

func TestGetCurrentBalanceExternalAuthoritative(t *testing.T) {
	env := newBalanceTestEnv(t)
	env.withAccount(1, 7, "secret")

	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("95")}, nil)
	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("105")})
	env.balanceRepo.On("Update", mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.GetCurrentBalance(context.Background(), 1)

	assert.NoError(t, err)
	// Авторитетно значение внешнего API, локальное остается для диагностики
	assert.True(t, dec("105").Equal(resp.Balance))
	assert.True(t, dec("105").Equal(*resp.ExternalBalance))
	assert.True(t, dec("-10").Equal(*resp.Difference))
	assert.False(t, resp.IsSynced)
}

func TestGetCurrentBalanceSynced(t *testing.T) {
	env := newBalanceTestEnv(t)
	env.withAccount(1, 7, "secret")

	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("105")}, nil)
	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("105")})
	env.balanceRepo.On("Update", mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.GetCurrentBalance(context.Background(), 1)

	assert.NoError(t, err)
	assert.True(t, resp.IsSynced)
}

func TestGetCurrentBalanceSeedsFromUpstream(t *testing.T) {
	env := newBalanceTestEnv(t)
	env.withAccount(1, 7, "secret")

	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(nil, repo.ErrBalanceNotFound)
	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("105")})

	var created *entity.Balance
	env.balanceRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*entity.Balance)
	}).Return(nil)

	resp, err := env.uc.GetCurrentBalance(context.Background(), 1)

	assert.NoError(t, err)
	// Локальная запись засевается внешним значением
	assert.NotNil(t, created)
	assert.True(t, dec("105").Equal(created.Balance))
	assert.True(t, resp.IsSynced)
}

func TestInitializeBalanceRejectsExisting(t *testing.T) {
	env := newBalanceTestEnv(t)

	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("50")}, nil)

	_, err := env.uc.InitializeBalance(context.Background(), 1, entity.InitializeBalanceRequest{Amount: dec("100")})

	var se *apperrors.ServiceError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, apperrors.CodeValidationError, se.Code)
	env.balanceRepo.AssertNotCalled(t, "WithTransaction")
}

func TestInitializeBalanceWritesUpstreamFirst(t *testing.T) {
	env := newBalanceTestEnv(t)
	env.withAccount(1, 7, "secret")

	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(nil, repo.ErrBalanceNotFound)
	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	env.api.On("SetBalance", mock.Anything, mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("100")})
	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("CreateTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("CreateTransactionTx", mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.InitializeBalance(context.Background(), 1, entity.InitializeBalanceRequest{Amount: dec("100")})

	assert.NoError(t, err)
	assert.True(t, dec("100").Equal(resp.Balance))
	env.api.AssertCalled(t, "SetBalance", mock.Anything, mock.Anything, mock.Anything)

	// Первоначальное пополнение попадает в журнал
	assert.Len(t, env.balanceRepo.SavedTransactions, 1)
	initTx := env.balanceRepo.SavedTransactions[0]
	assert.Equal(t, entity.TransactionTypeDeposit, initTx.Type)
	assert.True(t, dec("100").Equal(initTx.Amount))
	assert.True(t, initTx.BalanceBefore.IsZero())
}

func TestInitializeBalanceUpstreamFailure(t *testing.T) {
	env := newBalanceTestEnv(t)
	env.withAccount(1, 7, "secret")

	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(nil, repo.ErrBalanceNotFound)
	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	env.api.On("SetBalance", mock.Anything, mock.Anything, mock.Anything).Return(&webapi.BalanceResult{
		CallResult: failedResult(apperrors.CodeExternalAPIUnavailable, "недоступен", 503),
	})

	_, err := env.uc.InitializeBalance(context.Background(), 1, entity.InitializeBalanceRequest{Amount: dec("100")})

	// Локальная запись не создается, если внешний баланс записать не удалось
	var se *apperrors.ServiceError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, apperrors.CodeBalanceSyncError, se.Code)
	env.balanceRepo.AssertNotCalled(t, "WithTransaction")
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	env := newBalanceTestEnv(t)

	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("10")}, nil)

	_, err := env.uc.WithdrawFunds(context.Background(), 1, entity.WithdrawRequest{Amount: dec("25")})

	var se *apperrors.ServiceError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, apperrors.CodeInsufficientBalance, se.Code)
	env.balanceRepo.AssertNotCalled(t, "CreateTransactionTx")
}

func TestDepositUpdatesLedger(t *testing.T) {
	env := newBalanceTestEnv(t)

	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("10")}, nil)
	env.balanceRepo.On("CreateTransactionTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.AddFunds(context.Background(), 1, entity.DepositRequest{Amount: dec("15")})

	assert.NoError(t, err)
	assert.True(t, dec("25").Equal(resp.Balance))
	assert.True(t, dec("10").Equal(resp.Transaction.BalanceBefore))
	assert.True(t, dec("25").Equal(resp.Transaction.BalanceAfter))
}

func TestCheckBalanceConsistencyClean(t *testing.T) {
	env := newBalanceTestEnv(t)

	external := dec("105")
	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(&entity.Balance{
		UserID:          1,
		Balance:         dec("105"),
		ExternalBalance: &external,
	}, nil)
	env.balanceRepo.On("SumTransactionsByType", mock.Anything, uint(1)).Return(map[string]decimal.Decimal{
		entity.TransactionTypeDeposit: dec("100"),
		entity.TransactionTypeBet:     dec("-5"),
		entity.TransactionTypeWin:     dec("10"),
	}, nil)

	resp, err := env.uc.CheckBalanceConsistency(context.Background(), 1)

	assert.NoError(t, err)
	assert.True(t, resp.Consistent)
	assert.True(t, dec("105").Equal(resp.ImpliedBalance))
	assert.Empty(t, resp.Issues)
}

func TestCheckBalanceConsistencyLedgerMismatch(t *testing.T) {
	env := newBalanceTestEnv(t)

	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(&entity.Balance{
		UserID:  1,
		Balance: dec("100"),
	}, nil)
	env.balanceRepo.On("SumTransactionsByType", mock.Anything, uint(1)).Return(map[string]decimal.Decimal{
		entity.TransactionTypeDeposit: dec("100"),
		entity.TransactionTypeBet:     dec("-5"),
	}, nil)

	resp, err := env.uc.CheckBalanceConsistency(context.Background(), 1)

	assert.NoError(t, err)
	assert.False(t, resp.Consistent)
	assert.Len(t, resp.Issues, 1)
	assert.Equal(t, "ledger_mismatch", resp.Issues[0].Kind)
	assert.True(t, dec("95").Equal(resp.Issues[0].Expected))
	assert.True(t, dec("5").Equal(resp.Issues[0].Difference))
}
