package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/internal/repo"
	"github.com/director74/bet_integration/internal/usecase/webapi"
	"github.com/director74/bet_integration/pkg/crypto"
	apperrors "github.com/director74/bet_integration/pkg/errors"
)

// Мок для BetRepository
type MockBetRepository struct {
	mock.Mock
}

func (m *MockBetRepository) Create(ctx context.Context, bet *entity.Bet) error {
	args := m.Called(ctx, bet)
	return args.Error(0)
}

func (m *MockBetRepository) CreateTx(tx *gorm.DB, bet *entity.Bet) error {
	args := m.Called(tx, bet)
	// Имитируем установку ID, как это делает реальная БД
	if bet.ID == 0 {
		bet.ID = 10
	}
	return args.Error(0)
}

func (m *MockBetRepository) UpdateTx(tx *gorm.DB, bet *entity.Bet) error {
	args := m.Called(tx, bet)
	return args.Error(0)
}

func (m *MockBetRepository) GetByID(ctx context.Context, id uint) (*entity.Bet, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Bet), args.Error(1)
}

func (m *MockBetRepository) ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]entity.Bet, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]entity.Bet), args.Get(1).(int64), args.Error(2)
}

func (m *MockBetRepository) ListPending(ctx context.Context, limit int) ([]entity.Bet, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]entity.Bet), args.Error(1)
}

func (m *MockBetRepository) GetUserStats(ctx context.Context, userID uint) (entity.BetStats, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(entity.BetStats), args.Error(1)
}

// Мок для BalanceRepository
type MockBalanceRepository struct {
	mock.Mock
	// Транзакции, записанные в журнал, для проверки цепочки before/after
	SavedTransactions []*entity.Transaction
}

func (m *MockBalanceRepository) GetByUserID(ctx context.Context, userID uint) (*entity.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Balance), args.Error(1)
}

func (m *MockBalanceRepository) Create(ctx context.Context, balance *entity.Balance) error {
	args := m.Called(ctx, balance)
	return args.Error(0)
}

func (m *MockBalanceRepository) Update(ctx context.Context, balance *entity.Balance) error {
	args := m.Called(ctx, balance)
	return args.Error(0)
}

func (m *MockBalanceRepository) GetForUpdate(tx *gorm.DB, userID uint) (*entity.Balance, error) {
	args := m.Called(tx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Balance), args.Error(1)
}

func (m *MockBalanceRepository) CreateTx(tx *gorm.DB, balance *entity.Balance) error {
	args := m.Called(tx, balance)
	return args.Error(0)
}

func (m *MockBalanceRepository) SaveTx(tx *gorm.DB, balance *entity.Balance) error {
	args := m.Called(tx, balance)
	return args.Error(0)
}

func (m *MockBalanceRepository) CreateTransactionTx(tx *gorm.DB, transaction *entity.Transaction) error {
	args := m.Called(tx, transaction)
	m.SavedTransactions = append(m.SavedTransactions, transaction)
	return args.Error(0)
}

func (m *MockBalanceRepository) ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]entity.Transaction, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]entity.Transaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockBalanceRepository) SumTransactionsByType(ctx context.Context, userID uint) (map[string]decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(map[string]decimal.Decimal), args.Error(1)
}

func (m *MockBalanceRepository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	args := m.Called(ctx)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

// Мок для ExternalAccountRepository
type MockExternalAccountRepository struct {
	mock.Mock
}

func (m *MockExternalAccountRepository) Create(ctx context.Context, account *entity.ExternalAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockExternalAccountRepository) GetActiveByUserID(ctx context.Context, userID uint) (*entity.ExternalAccount, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ExternalAccount), args.Error(1)
}

func (m *MockExternalAccountRepository) Update(ctx context.Context, account *entity.ExternalAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockExternalAccountRepository) DeactivateByUserID(ctx context.Context, userID uint) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// Мок для клиента внешнего беттинг-API
type MockExternalAPI struct {
	mock.Mock
}

func (m *MockExternalAPI) Authenticate(ctx context.Context, creds webapi.Credentials) *webapi.AuthResult {
	args := m.Called(ctx, creds)
	return args.Get(0).(*webapi.AuthResult)
}

func (m *MockExternalAPI) GetBalance(ctx context.Context, creds webapi.Credentials) *webapi.BalanceResult {
	args := m.Called(ctx, creds)
	return args.Get(0).(*webapi.BalanceResult)
}

func (m *MockExternalAPI) SetBalance(ctx context.Context, creds webapi.Credentials, amount decimal.Decimal) *webapi.BalanceResult {
	args := m.Called(ctx, creds, amount)
	return args.Get(0).(*webapi.BalanceResult)
}

func (m *MockExternalAPI) GetRecommendedBet(ctx context.Context, creds webapi.Credentials) *webapi.RecommendedBetResult {
	args := m.Called(ctx, creds)
	return args.Get(0).(*webapi.RecommendedBetResult)
}

func (m *MockExternalAPI) PlaceBet(ctx context.Context, creds webapi.Credentials, amount int) *webapi.PlaceBetResult {
	args := m.Called(ctx, creds, amount)
	return args.Get(0).(*webapi.PlaceBetResult)
}

func (m *MockExternalAPI) GetWinResult(ctx context.Context, creds webapi.Credentials, betID string) *webapi.WinResult {
	args := m.Called(ctx, creds, betID)
	return args.Get(0).(*webapi.WinResult)
}

func (m *MockExternalAPI) Health(ctx context.Context) *webapi.HealthResult {
	args := m.Called(ctx)
	return args.Get(0).(*webapi.HealthResult)
}

// Мок для публикации событий
type MockPublisher struct {
	mock.Mock
	Published []string
}

func (m *MockPublisher) PublishMessage(exchange, routingKey string, message interface{}) error {
	args := m.Called(exchange, routingKey, message)
	m.Published = append(m.Published, routingKey)
	return args.Error(0)
}

const (
	testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testIVHex  = "000102030405060708090a0b"
)

type bettingTestEnv struct {
	betRepo     *MockBetRepository
	balanceRepo *MockBalanceRepository
	accountRepo *MockExternalAccountRepository
	api         *MockExternalAPI
	publisher   *MockPublisher
	cipher      *crypto.Cipher
	uc          *BettingUseCase
}

func newBettingTestEnv(t *testing.T, policy SettlementPolicy) *bettingTestEnv {
	t.Helper()

	cipher, err := crypto.NewCipher(testKeyHex, testIVHex)
	assert.NoError(t, err)

	env := &bettingTestEnv{
		betRepo:     new(MockBetRepository),
		balanceRepo: new(MockBalanceRepository),
		accountRepo: new(MockExternalAccountRepository),
		api:         new(MockExternalAPI),
		publisher:   new(MockPublisher),
		cipher:      cipher,
	}
	env.uc = NewBettingUseCase(env.betRepo, env.balanceRepo, env.accountRepo, env.api, policy, cipher, env.publisher)
	return env
}

func (e *bettingTestEnv) withAccount(userID uint, externalID int, secret string) {
	e.accountRepo.On("GetActiveByUserID", mock.Anything, userID).Return(&entity.ExternalAccount{
		UserID:          userID,
		ExternalID:      externalID,
		SecretEncrypted: e.cipher.Encrypt(secret),
		Active:          true,
	}, nil)
}

func okResult(status int) webapi.CallResult {
	return webapi.CallResult{Success: true, StatusCode: status}
}

func failedResult(code, message string, status int) webapi.CallResult {
	return webapi.CallResult{
		Success:    false,
		StatusCode: status,
		Error:      &webapi.APIError{Code: code, Message: message, StatusCode: status},
	}
}

func dec(v string) decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return d
}

func TestPlaceBetWin(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	// Предбетовый баланс 100, постбетовый 105: ставка 5 выиграла 10
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("100")}).Once()
	env.api.On("PlaceBet", mock.Anything, mock.Anything, 5).Return(&webapi.PlaceBetResult{CallResult: okResult(200), BetID: "ext-42"})
	env.api.On("GetWinResult", mock.Anything, mock.Anything, "ext-42").Return(&webapi.WinResult{CallResult: okResult(200), WinAmount: dec("10")})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("105")}).Once()

	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("100")}, nil)
	env.betRepo.On("CreateTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("CreateTransactionTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	env.publisher.On("PublishMessage", entity.BettingEventsExchange, mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.PlaceBet(context.Background(), 1, entity.PlaceBetRequest{Amount: 5})

	assert.NoError(t, err)
	assert.Equal(t, entity.BetStatusCompleted, resp.Status)
	assert.Equal(t, "ext-42", resp.ExternalBetID)
	assert.True(t, dec("100").Equal(resp.BalanceBefore))
	assert.True(t, dec("105").Equal(resp.BalanceAfter))
	assert.False(t, resp.Simulated)

	// Цепочка журнала: списание 100 -> 95, выигрыш 95 -> 105
	assert.Len(t, env.balanceRepo.SavedTransactions, 2)
	betTx := env.balanceRepo.SavedTransactions[0]
	assert.Equal(t, entity.TransactionTypeBet, betTx.Type)
	assert.True(t, dec("-5").Equal(betTx.Amount))
	assert.True(t, betTx.BalanceAfter.Equal(betTx.BalanceBefore.Add(betTx.Amount)))
	winTx := env.balanceRepo.SavedTransactions[1]
	assert.Equal(t, entity.TransactionTypeWin, winTx.Type)
	assert.True(t, dec("10").Equal(winTx.Amount))
	assert.True(t, dec("105").Equal(winTx.BalanceAfter))

	assert.Contains(t, env.publisher.Published, entity.BetPlacedRoutingKey)
	assert.Contains(t, env.publisher.Published, entity.BetSettledRoutingKey)
}

func TestPlaceBetLoss(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("100")}).Once()
	env.api.On("PlaceBet", mock.Anything, mock.Anything, 3).Return(&webapi.PlaceBetResult{CallResult: okResult(200), BetID: "ext-43"})
	env.api.On("GetWinResult", mock.Anything, mock.Anything, "ext-43").Return(&webapi.WinResult{CallResult: okResult(200), WinAmount: decimal.Zero})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("97")}).Once()

	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("100")}, nil)
	env.betRepo.On("CreateTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("CreateTransactionTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	env.publisher.On("PublishMessage", entity.BettingEventsExchange, mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.PlaceBet(context.Background(), 1, entity.PlaceBetRequest{Amount: 3})

	assert.NoError(t, err)
	assert.Equal(t, entity.BetStatusCompleted, resp.Status)
	// Проигрыш фиксируется нулевым выигрышем, а не отсутствием значения
	assert.NotNil(t, resp.WinAmount)
	assert.True(t, resp.WinAmount.IsZero())
	assert.True(t, dec("97").Equal(resp.BalanceAfter))

	// При проигрыше записывается только транзакция списания
	assert.Len(t, env.balanceRepo.SavedTransactions, 1)
	assert.Equal(t, entity.TransactionTypeBet, env.balanceRepo.SavedTransactions[0].Type)
}

func TestPlaceBetInvalidAmount(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})

	for _, amount := range []int{0, -1, 6, 100} {
		_, err := env.uc.PlaceBet(context.Background(), 1, entity.PlaceBetRequest{Amount: amount})

		var se *apperrors.ServiceError
		assert.ErrorAs(t, err, &se)
		assert.Equal(t, apperrors.CodeInvalidBetAmount, se.Code)
	}

	// До валидации суммы никакие зависимости не трогаются
	env.accountRepo.AssertNotCalled(t, "GetActiveByUserID")
	env.api.AssertNotCalled(t, "Authenticate")
}

func TestPlaceBetInsufficientBalance(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("3")})

	_, err := env.uc.PlaceBet(context.Background(), 1, entity.PlaceBetRequest{Amount: 5})

	var se *apperrors.ServiceError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, apperrors.CodeInsufficientBalance, se.Code)

	// Отказ по средствам не оставляет следов ни во внешнем API, ни в базе
	env.api.AssertNotCalled(t, "PlaceBet")
	env.betRepo.AssertNotCalled(t, "CreateTx")
	env.balanceRepo.AssertNotCalled(t, "WithTransaction")
}

func TestPlaceBetZeroBalanceInitializesStake(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	// Нулевой внешний баланс означает неинициализированного пользователя
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: decimal.Zero}).Once()
	env.api.On("SetBalance", mock.Anything, mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("1000")})
	env.api.On("PlaceBet", mock.Anything, mock.Anything, 2).Return(&webapi.PlaceBetResult{CallResult: okResult(200), BetID: "ext-44"})
	env.api.On("GetWinResult", mock.Anything, mock.Anything, "ext-44").Return(&webapi.WinResult{CallResult: okResult(200), WinAmount: decimal.Zero})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("998")}).Once()

	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("1000")}, nil)
	env.betRepo.On("CreateTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("CreateTransactionTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	env.publisher.On("PublishMessage", entity.BettingEventsExchange, mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.PlaceBet(context.Background(), 1, entity.PlaceBetRequest{Amount: 2})

	assert.NoError(t, err)
	assert.True(t, dec("1000").Equal(resp.BalanceBefore))
	env.api.AssertCalled(t, "SetBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestPlaceBetAuthFailureStrict(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{
		CallResult: failedResult(apperrors.CodeExternalAPIUnavailable, "недоступен", 503),
	})

	_, err := env.uc.PlaceBet(context.Background(), 1, entity.PlaceBetRequest{Amount: 3})

	var se *apperrors.ServiceError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, apperrors.CodeAuthenticationFailed, se.Code)
	env.api.AssertNotCalled(t, "PlaceBet")
}

func TestPlaceBetAuthFailureSimulated(t *testing.T) {
	env := newBettingTestEnv(t, SimulatedPolicy{})
	env.withAccount(1, 7, "secret")

	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{
		CallResult: failedResult(apperrors.CodeExternalAPIUnavailable, "недоступен", 503),
	})
	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("50")}, nil)
	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("50")}, nil)
	env.betRepo.On("CreateTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("CreateTransactionTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	env.publisher.On("PublishMessage", entity.BettingEventsExchange, mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.PlaceBet(context.Background(), 1, entity.PlaceBetRequest{Amount: 4})

	assert.NoError(t, err)
	// Симулированная ставка явно помечается и не выдается за внешнюю
	assert.True(t, resp.Simulated)
	assert.True(t, strings.HasPrefix(resp.ExternalBetID, "local-"))
	assert.Equal(t, entity.BetStatusCompleted, resp.Status)
	env.api.AssertNotCalled(t, "PlaceBet")
}

func TestPlaceBetWinFetchFailureLeavesPending(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.api.On("Authenticate", mock.Anything, mock.Anything).Return(&webapi.AuthResult{CallResult: okResult(200)})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("100")})
	env.api.On("PlaceBet", mock.Anything, mock.Anything, 5).Return(&webapi.PlaceBetResult{CallResult: okResult(200), BetID: "ext-45"})
	env.api.On("GetWinResult", mock.Anything, mock.Anything, "ext-45").Return(&webapi.WinResult{
		CallResult: failedResult(apperrors.CodeExternalAPIUnavailable, "таймаут", 0),
	})

	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("100")}, nil)
	env.betRepo.On("CreateTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("CreateTransactionTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	env.publisher.On("PublishMessage", entity.BettingEventsExchange, mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.PlaceBet(context.Background(), 1, entity.PlaceBetRequest{Amount: 5})

	assert.NoError(t, err)
	// Ставка размещена во внешнем API: списание фиксируется, результат догонит досверка
	assert.Equal(t, entity.BetStatusPending, resp.Status)
	assert.Nil(t, resp.WinAmount)
	assert.True(t, dec("95").Equal(resp.BalanceAfter))

	assert.Len(t, env.balanceRepo.SavedTransactions, 1)
	assert.Contains(t, env.publisher.Published, entity.ReconciliationRequiredRoutingKey)
}

func TestCheckBetResultCompletedSkipsUpstream(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})

	winAmount := dec("10")
	env.betRepo.On("GetByID", mock.Anything, uint(10)).Return(&entity.Bet{
		ID:            10,
		UserID:        1,
		ExternalBetID: "ext-42",
		Amount:        dec("5"),
		Status:        entity.BetStatusCompleted,
		WinAmount:     &winAmount,
	}, nil)

	resp, err := env.uc.CheckBetResult(context.Background(), 1, 10)

	assert.NoError(t, err)
	assert.Equal(t, entity.BetStatusCompleted, resp.Status)
	assert.True(t, winAmount.Equal(*resp.WinAmount))

	// Завершенная ставка отдается из базы без единого обращения к внешнему API
	env.api.AssertNotCalled(t, "Authenticate")
	env.api.AssertNotCalled(t, "GetWinResult")
	env.accountRepo.AssertNotCalled(t, "GetActiveByUserID")
}

func TestCheckBetResultForeignBet(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})

	env.betRepo.On("GetByID", mock.Anything, uint(10)).Return(&entity.Bet{
		ID:     10,
		UserID: 2,
		Status: entity.BetStatusCompleted,
	}, nil)

	_, err := env.uc.CheckBetResult(context.Background(), 1, 10)

	// Чужая ставка неотличима от несуществующей
	var se *apperrors.ServiceError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, apperrors.CodeBetNotFound, se.Code)
}

func TestCheckBetResultSettlesPending(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.betRepo.On("GetByID", mock.Anything, uint(10)).Return(&entity.Bet{
		ID:            10,
		UserID:        1,
		ExternalBetID: "ext-45",
		Amount:        dec("5"),
		Status:        entity.BetStatusPending,
	}, nil)
	env.api.On("GetWinResult", mock.Anything, mock.Anything, "ext-45").Return(&webapi.WinResult{CallResult: okResult(200), WinAmount: dec("10")})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("105")})

	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("95")}, nil)
	env.betRepo.On("UpdateTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("CreateTransactionTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	env.publisher.On("PublishMessage", entity.BettingEventsExchange, mock.Anything, mock.Anything).Return(nil)

	resp, err := env.uc.CheckBetResult(context.Background(), 1, 10)

	assert.NoError(t, err)
	assert.Equal(t, entity.BetStatusCompleted, resp.Status)
	assert.True(t, dec("10").Equal(*resp.WinAmount))

	// Досверка доливает выигрыш к локальному балансу
	assert.Len(t, env.balanceRepo.SavedTransactions, 1)
	winTx := env.balanceRepo.SavedTransactions[0]
	assert.Equal(t, entity.TransactionTypeWin, winTx.Type)
	assert.True(t, dec("95").Equal(winTx.BalanceBefore))
	assert.True(t, dec("105").Equal(winTx.BalanceAfter))
	assert.Contains(t, env.publisher.Published, entity.BetSettledRoutingKey)
}

func TestGetRecommendedBetExternal(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.api.On("GetRecommendedBet", mock.Anything, mock.Anything).Return(&webapi.RecommendedBetResult{CallResult: okResult(200), Amount: 3})

	resp, err := env.uc.GetRecommendedBet(context.Background(), 1)

	assert.NoError(t, err)
	assert.Equal(t, 3, resp.RecommendedAmount)
	assert.Equal(t, entity.RecommendationSourceExternal, resp.Source)
}

func TestGetRecommendedBetFallback(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.api.On("GetRecommendedBet", mock.Anything, mock.Anything).Return(&webapi.RecommendedBetResult{
		CallResult: failedResult(apperrors.CodeExternalAPIUnavailable, "недоступен", 503),
	})
	// floor(20 * 0.25) = 5, попадает точно в верхнюю границу
	env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("20")}, nil)

	resp, err := env.uc.GetRecommendedBet(context.Background(), 1)

	assert.NoError(t, err)
	assert.Equal(t, 5, resp.RecommendedAmount)
	assert.Equal(t, entity.RecommendationSourceFallback, resp.Source)
}

func TestGetRecommendedBetFallbackClamping(t *testing.T) {
	cases := []struct {
		balance  string
		expected int
	}{
		{"2", 1},    // floor(0.5) = 0 -> нижняя граница
		{"8", 2},    // floor(2) = 2
		{"1000", 5}, // floor(250) -> верхняя граница
	}

	for _, tc := range cases {
		env := newBettingTestEnv(t, StrictPolicy{})
		env.accountRepo.On("GetActiveByUserID", mock.Anything, uint(1)).Return(nil, repo.ErrExternalAccountNotFound)
		env.balanceRepo.On("GetByUserID", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec(tc.balance)}, nil)

		resp, err := env.uc.GetRecommendedBet(context.Background(), 1)

		assert.NoError(t, err)
		assert.Equal(t, tc.expected, resp.RecommendedAmount, "баланс %s", tc.balance)
		assert.Equal(t, entity.RecommendationSourceFallback, resp.Source)
	}
}

func TestProcessPendingBets(t *testing.T) {
	env := newBettingTestEnv(t, StrictPolicy{})
	env.withAccount(1, 7, "secret")

	env.betRepo.On("ListPending", mock.Anything, 50).Return([]entity.Bet{
		{ID: 10, UserID: 1, ExternalBetID: "ext-45", Amount: dec("5"), Status: entity.BetStatusPending},
	}, nil)
	env.api.On("GetWinResult", mock.Anything, mock.Anything, "ext-45").Return(&webapi.WinResult{CallResult: okResult(200), WinAmount: decimal.Zero})
	env.api.On("GetBalance", mock.Anything, mock.Anything).Return(&webapi.BalanceResult{CallResult: okResult(200), Balance: dec("95")})

	env.balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	env.balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(&entity.Balance{UserID: 1, Balance: dec("95")}, nil)
	env.betRepo.On("UpdateTx", mock.Anything, mock.Anything).Return(nil)
	env.balanceRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	env.publisher.On("PublishMessage", entity.BettingEventsExchange, mock.Anything, mock.Anything).Return(nil)

	env.uc.ProcessPendingBets(context.Background())

	// Проигрыш при досверке не пишет транзакцию выигрыша
	assert.Len(t, env.balanceRepo.SavedTransactions, 0)
	env.betRepo.AssertCalled(t, "UpdateTx", mock.Anything, mock.Anything)
}

// statefulUpstream фейковый внешний API с реальным состоянием баланса:
// каждое размещение списывает ставку, баланс читается из текущего состояния
type statefulUpstream struct {
	mu      sync.Mutex
	balance decimal.Decimal
	nextBet int
}

func (f *statefulUpstream) Authenticate(ctx context.Context, creds webapi.Credentials) *webapi.AuthResult {
	return &webapi.AuthResult{CallResult: okResult(200)}
}

func (f *statefulUpstream) GetBalance(ctx context.Context, creds webapi.Credentials) *webapi.BalanceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &webapi.BalanceResult{CallResult: okResult(200), Balance: f.balance}
}

func (f *statefulUpstream) SetBalance(ctx context.Context, creds webapi.Credentials, amount decimal.Decimal) *webapi.BalanceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = amount
	return &webapi.BalanceResult{CallResult: okResult(200), Balance: f.balance}
}

func (f *statefulUpstream) GetRecommendedBet(ctx context.Context, creds webapi.Credentials) *webapi.RecommendedBetResult {
	return &webapi.RecommendedBetResult{CallResult: okResult(200), Amount: 1}
}

func (f *statefulUpstream) PlaceBet(ctx context.Context, creds webapi.Credentials, amount int) *webapi.PlaceBetResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = f.balance.Sub(decimal.NewFromInt(int64(amount)))
	f.nextBet++
	return &webapi.PlaceBetResult{CallResult: okResult(200), BetID: fmt.Sprintf("ext-%d", f.nextBet)}
}

func (f *statefulUpstream) GetWinResult(ctx context.Context, creds webapi.Credentials, betID string) *webapi.WinResult {
	return &webapi.WinResult{CallResult: okResult(200), WinAmount: decimal.Zero}
}

func (f *statefulUpstream) Health(ctx context.Context) *webapi.HealthResult {
	return &webapi.HealthResult{CallResult: okResult(200)}
}

func TestPlaceBetConcurrentSameUserSerialized(t *testing.T) {
	cipher, err := crypto.NewCipher(testKeyHex, testIVHex)
	assert.NoError(t, err)

	betRepo := new(MockBetRepository)
	balanceRepo := new(MockBalanceRepository)
	accountRepo := new(MockExternalAccountRepository)
	publisher := new(MockPublisher)
	api := &statefulUpstream{balance: dec("100")}
	uc := NewBettingUseCase(betRepo, balanceRepo, accountRepo, api, StrictPolicy{}, cipher, publisher)

	accountRepo.On("GetActiveByUserID", mock.Anything, uint(1)).Return(&entity.ExternalAccount{
		UserID:          1,
		ExternalID:      7,
		SecretEncrypted: cipher.Encrypt("secret"),
		Active:          true,
	}, nil)

	shared := &entity.Balance{UserID: 1, Balance: dec("100")}
	balanceRepo.On("WithTransaction", mock.Anything).Return(nil)
	balanceRepo.On("GetForUpdate", mock.Anything, uint(1)).Return(shared, nil)
	balanceRepo.On("CreateTransactionTx", mock.Anything, mock.Anything).Return(nil)
	balanceRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	betRepo.On("CreateTx", mock.Anything, mock.Anything).Return(nil)
	publisher.On("PublishMessage", entity.BettingEventsExchange, mock.Anything, mock.Anything).Return(nil)

	// Два одновременных размещения одного пользователя: без сериализации оба
	// стартовали бы от баланса 100 и одно списание потерялось бы
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, placeErr := uc.PlaceBet(context.Background(), 1, entity.PlaceBetRequest{Amount: 5})
			assert.NoError(t, placeErr)
		}()
	}
	wg.Wait()

	// Оба списания учтены: локальный баланс совпадает с внешним
	assert.True(t, dec("90").Equal(shared.Balance), "локальный баланс %s", shared.Balance)
	assert.True(t, api.balance.Equal(shared.Balance), "внешний баланс %s", api.balance)

	// Цепочка журнала непрерывна: второе списание стартует с итога первого
	txs := balanceRepo.SavedTransactions
	assert.Len(t, txs, 2)
	assert.True(t, dec("100").Equal(txs[0].BalanceBefore))
	assert.True(t, dec("95").Equal(txs[0].BalanceAfter))
	assert.True(t, txs[1].BalanceBefore.Equal(txs[0].BalanceAfter))
	assert.True(t, dec("90").Equal(txs[1].BalanceAfter))
}
