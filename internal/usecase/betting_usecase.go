package usecase

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/internal/repo"
	"github.com/director74/bet_integration/internal/usecase/webapi"
	"github.com/director74/bet_integration/pkg/crypto"
	apperrors "github.com/director74/bet_integration/pkg/errors"
)

// Стартовый баланс, которым внешний API инициализирует неинициализированного
// пользователя (нулевой баланс трактуется как "не инициализирован")
var defaultExternalStake = decimal.NewFromInt(1000)

// userLocks сериализует ставочные операции одного пользователя. Окно от чтения
// авторитетного баланса до фиксации в базе должно выполняться целиком под
// одной блокировкой: два конкурентных размещения, стартовавших от одного
// баланса, теряют одно списание и рвут цепочку журнала.
type userLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[uint]*sync.Mutex)}
}

// Lock блокирует операции пользователя и возвращает функцию разблокировки
func (l *userLocks) Lock(userID uint) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// BettingUseCase реализует размещение ставок и расчет результатов. Внешний API
// авторитетен для предбетового баланса; локальный журнал ведется так, чтобы
// цепочка balance_before/balance_after всегда сходилась.
type BettingUseCase struct {
	betRepo     repo.BetRepository
	balanceRepo repo.BalanceRepository
	accountRepo repo.ExternalAccountRepository
	api         ExternalBettingAPI
	policy      SettlementPolicy
	cipher      *crypto.Cipher
	publisher   EventPublisher
	users       *userLocks
}

func NewBettingUseCase(
	betRepo repo.BetRepository,
	balanceRepo repo.BalanceRepository,
	accountRepo repo.ExternalAccountRepository,
	api ExternalBettingAPI,
	policy SettlementPolicy,
	cipher *crypto.Cipher,
	publisher EventPublisher,
) *BettingUseCase {
	return &BettingUseCase{
		betRepo:     betRepo,
		balanceRepo: balanceRepo,
		accountRepo: accountRepo,
		api:         api,
		policy:      policy,
		cipher:      cipher,
		publisher:   publisher,
		users:       newUserLocks(),
	}
}

// PlaceBet размещает ставку. Основной путь: аутентификация во внешнем API,
// чтение авторитетного баланса, размещение, запрос результата и фиксация всего
// в одной транзакции базы. При отказе аутентификации поведение определяет
// политика деградации; при отказе запроса результата ставка остается pending
// и досчитывается фоновой сверкой.
func (uc *BettingUseCase) PlaceBet(ctx context.Context, userID uint, req entity.PlaceBetRequest) (*entity.PlaceBetResponse, error) {
	if req.Amount < entity.MinBetAmount || req.Amount > entity.MaxBetAmount {
		return nil, apperrors.NewInvalidBetAmountError(req.Amount)
	}
	amount := decimal.NewFromInt(int64(req.Amount))

	// Сериализация на пользователе: чтение баланса, проверка достаточности,
	// размещение и фиксация держатся под одной блокировкой целиком
	unlock := uc.users.Lock(userID)
	defer unlock()

	creds, err := uc.credentialsFor(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrExternalAccountNotFound) {
			if uc.policy.AllowDegraded() {
				return uc.placeBetSimulated(ctx, userID, amount)
			}
			return nil, apperrors.NewAuthenticationFailedError("внешний аккаунт пользователя не настроен")
		}
		return nil, apperrors.NewInternalServerError(err)
	}

	auth := uc.api.Authenticate(ctx, creds)
	if !auth.Success {
		if uc.policy.AllowDegraded() {
			log.Printf("Внешний API отказал в аутентификации (user=%d), ставка рассчитывается локально", userID)
			return uc.placeBetSimulated(ctx, userID, amount)
		}
		return nil, apperrors.NewAuthenticationFailedError(apiErrorMessage(auth.Error))
	}

	// Предбетовый баланс внешнего API авторитетен. Ноль означает
	// неинициализированного пользователя.
	balRes := uc.api.GetBalance(ctx, creds)
	if !balRes.Success {
		return nil, apperrors.NewBalanceSyncError(apiErrorMessage(balRes.Error))
	}
	preBalance := balRes.Balance
	if preBalance.IsZero() {
		setRes := uc.api.SetBalance(ctx, creds, defaultExternalStake)
		if !setRes.Success {
			return nil, apperrors.NewBalanceSyncError(apiErrorMessage(setRes.Error))
		}
		preBalance = setRes.Balance
	}

	if preBalance.LessThan(amount) {
		return nil, apperrors.NewInsufficientBalanceError("")
	}

	placeRes := uc.api.PlaceBet(ctx, creds, req.Amount)
	if !placeRes.Success {
		// Состояние не менялось, клиент может безопасно повторить
		return nil, mapAPIError(placeRes.Error)
	}

	winRes := uc.api.GetWinResult(ctx, creds, placeRes.BetID)
	if !winRes.Success {
		return uc.persistPendingBet(ctx, userID, amount, preBalance, placeRes.BetID, winRes.Error)
	}

	// Постбетовый баланс сохраняется как диагностический снимок; при отказе
	// чтения он вычисляется из предбетового
	var externalAfter decimal.Decimal
	postRes := uc.api.GetBalance(ctx, creds)
	if postRes.Success {
		externalAfter = postRes.Balance
	} else {
		externalAfter = preBalance.Sub(amount).Add(winRes.WinAmount)
	}

	return uc.persistSettledBet(ctx, settledBet{
		userID:        userID,
		amount:        amount,
		winAmount:     winRes.WinAmount,
		externalBetID: placeRes.BetID,
		preBalance:    preBalance,
		externalAfter: &externalAfter,
		simulated:     false,
	})
}

// placeBetSimulated рассчитывает ставку локально без обращений к внешнему API.
// Авторитетен локальный баланс.
func (uc *BettingUseCase) placeBetSimulated(ctx context.Context, userID uint, amount decimal.Decimal) (*entity.PlaceBetResponse, error) {
	balance, err := uc.balanceRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrBalanceNotFound) {
			return nil, apperrors.NewBalanceNotFoundError(userID)
		}
		return nil, apperrors.NewInternalServerError(err)
	}
	if balance.Balance.LessThan(amount) {
		return nil, apperrors.NewInsufficientBalanceError("")
	}

	outcome := uc.policy.Settle(amount)

	return uc.persistSettledBet(ctx, settledBet{
		userID:        userID,
		amount:        amount,
		winAmount:     outcome.WinAmount,
		externalBetID: outcome.BetID,
		preBalance:    balance.Balance,
		externalAfter: nil,
		simulated:     true,
	})
}

type settledBet struct {
	userID        uint
	amount        decimal.Decimal
	winAmount     decimal.Decimal
	externalBetID string
	preBalance    decimal.Decimal
	externalAfter *decimal.Decimal
	simulated     bool
}

// persistSettledBet фиксирует рассчитанную ставку: запись ставки, транзакция
// списания, транзакция выигрыша (при выигрыше) и итоговый баланс — все в одной
// транзакции базы под блокировкой строки баланса.
func (uc *BettingUseCase) persistSettledBet(ctx context.Context, s settledBet) (*entity.PlaceBetResponse, error) {
	now := time.Now()
	afterBet := s.preBalance.Sub(s.amount)
	final := afterBet.Add(s.winAmount)

	bet := &entity.Bet{
		UserID:        s.userID,
		ExternalBetID: s.externalBetID,
		Amount:        s.amount,
		Status:        entity.BetStatusCompleted,
		WinAmount:     &s.winAmount,
		Simulated:     s.simulated,
		CompletedAt:   &now,
	}

	err := uc.balanceRepo.WithTransaction(ctx, func(tx *gorm.DB) error {
		balance, err := uc.balanceRepo.GetForUpdate(tx, s.userID)
		if err != nil {
			if !errors.Is(err, repo.ErrBalanceNotFound) {
				return err
			}
			balance = &entity.Balance{UserID: s.userID, Balance: s.preBalance}
			if err := uc.balanceRepo.CreateTx(tx, balance); err != nil {
				return err
			}
		}

		if err := uc.betRepo.CreateTx(tx, bet); err != nil {
			return err
		}

		betTx := &entity.Transaction{
			UserID:        s.userID,
			BetID:         &bet.ID,
			Type:          entity.TransactionTypeBet,
			Amount:        s.amount.Neg(),
			BalanceBefore: s.preBalance,
			BalanceAfter:  afterBet,
			Description:   "Ставка " + s.externalBetID,
		}
		if err := uc.balanceRepo.CreateTransactionTx(tx, betTx); err != nil {
			return err
		}

		if s.winAmount.IsPositive() {
			winTx := &entity.Transaction{
				UserID:        s.userID,
				BetID:         &bet.ID,
				Type:          entity.TransactionTypeWin,
				Amount:        s.winAmount,
				BalanceBefore: afterBet,
				BalanceAfter:  final,
				Description:   "Выигрыш по ставке " + s.externalBetID,
			}
			if err := uc.balanceRepo.CreateTransactionTx(tx, winTx); err != nil {
				return err
			}
		}

		balance.Balance = final
		if s.externalAfter != nil {
			balance.ExternalBalance = s.externalAfter
			checked := time.Now()
			balance.LastCheckedAt = &checked
		}
		return uc.balanceRepo.SaveTx(tx, balance)
	})
	if err != nil {
		return nil, apperrors.NewInternalServerError(err)
	}

	uc.publish(entity.BetPlacedRoutingKey, entity.BetPlacedEvent{
		BetID:         bet.ID,
		UserID:        s.userID,
		ExternalBetID: s.externalBetID,
		Amount:        s.amount,
		Simulated:     s.simulated,
		PlacedAt:      bet.CreatedAt,
	})
	uc.publish(entity.BetSettledRoutingKey, entity.BetSettledEvent{
		BetID:     bet.ID,
		UserID:    s.userID,
		Amount:    s.amount,
		WinAmount: s.winAmount,
		Won:       s.winAmount.IsPositive(),
		Simulated: s.simulated,
		SettledAt: now,
	})

	return &entity.PlaceBetResponse{
		ID:            bet.ID,
		Amount:        s.amount,
		Status:        bet.Status,
		ExternalBetID: s.externalBetID,
		WinAmount:     &s.winAmount,
		BalanceBefore: s.preBalance,
		BalanceAfter:  final,
		Simulated:     s.simulated,
		CreatedAt:     bet.CreatedAt,
	}, nil
}

// persistPendingBet фиксирует ставку, размещенную во внешнем API, результат
// которой получить не удалось. Списание записывается сразу, выигрыш досчитает
// фоновая сверка.
func (uc *BettingUseCase) persistPendingBet(ctx context.Context, userID uint, amount, preBalance decimal.Decimal, externalBetID string, cause *webapi.APIError) (*entity.PlaceBetResponse, error) {
	afterBet := preBalance.Sub(amount)

	bet := &entity.Bet{
		UserID:        userID,
		ExternalBetID: externalBetID,
		Amount:        amount,
		Status:        entity.BetStatusPending,
	}

	err := uc.balanceRepo.WithTransaction(ctx, func(tx *gorm.DB) error {
		balance, err := uc.balanceRepo.GetForUpdate(tx, userID)
		if err != nil {
			if !errors.Is(err, repo.ErrBalanceNotFound) {
				return err
			}
			balance = &entity.Balance{UserID: userID, Balance: preBalance}
			if err := uc.balanceRepo.CreateTx(tx, balance); err != nil {
				return err
			}
		}

		if err := uc.betRepo.CreateTx(tx, bet); err != nil {
			return err
		}

		betTx := &entity.Transaction{
			UserID:        userID,
			BetID:         &bet.ID,
			Type:          entity.TransactionTypeBet,
			Amount:        amount.Neg(),
			BalanceBefore: preBalance,
			BalanceAfter:  afterBet,
			Description:   "Ставка " + externalBetID + " (результат не получен)",
		}
		if err := uc.balanceRepo.CreateTransactionTx(tx, betTx); err != nil {
			return err
		}

		balance.Balance = afterBet
		return uc.balanceRepo.SaveTx(tx, balance)
	})
	if err != nil {
		return nil, apperrors.NewInternalServerError(err)
	}

	log.Printf("Ставка %d (внешний id %s) оставлена в pending: %s", bet.ID, externalBetID, apiErrorMessage(cause))

	uc.publish(entity.BetPlacedRoutingKey, entity.BetPlacedEvent{
		BetID:         bet.ID,
		UserID:        userID,
		ExternalBetID: externalBetID,
		Amount:        amount,
		PlacedAt:      bet.CreatedAt,
	})
	uc.publish(entity.ReconciliationRequiredRoutingKey, entity.BalanceReconciliationEvent{
		BetID:         bet.ID,
		UserID:        userID,
		ExternalBetID: externalBetID,
		Reason:        apiErrorMessage(cause),
		OccurredAt:    time.Now(),
	})

	return &entity.PlaceBetResponse{
		ID:            bet.ID,
		Amount:        amount,
		Status:        entity.BetStatusPending,
		ExternalBetID: externalBetID,
		BalanceBefore: preBalance,
		BalanceAfter:  afterBet,
		CreatedAt:     bet.CreatedAt,
	}, nil
}

// CheckBetResult возвращает результат ставки. Завершенная ставка отдается из
// базы без обращений к внешнему API; pending досчитывается по запросу.
func (uc *BettingUseCase) CheckBetResult(ctx context.Context, userID, betID uint) (*entity.BetResultResponse, error) {
	bet, err := uc.betRepo.GetByID(ctx, betID)
	if err != nil {
		if errors.Is(err, repo.ErrBetNotFound) {
			return nil, apperrors.NewBetNotFoundError(betID)
		}
		return nil, apperrors.NewInternalServerError(err)
	}
	// Чужие ставки неотличимы от несуществующих
	if bet.UserID != userID {
		return nil, apperrors.NewBetNotFoundError(betID)
	}

	if bet.Status == entity.BetStatusPending {
		if err := uc.settlePending(ctx, bet); err != nil {
			return nil, err
		}
	}

	return &entity.BetResultResponse{
		ID:            bet.ID,
		ExternalBetID: bet.ExternalBetID,
		Amount:        bet.Amount,
		Status:        bet.Status,
		WinAmount:     bet.WinAmount,
		CompletedAt:   bet.CompletedAt,
	}, nil
}

// settlePending запрашивает результат pending-ставки и завершает её. Ставка
// обновляется в bet по месту. Держит ту же пользовательскую блокировку, что и
// размещение, чтобы досверка не пересекалась с новой ставкой.
func (uc *BettingUseCase) settlePending(ctx context.Context, bet *entity.Bet) error {
	unlock := uc.users.Lock(bet.UserID)
	defer unlock()

	creds, err := uc.credentialsFor(ctx, bet.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrExternalAccountNotFound) {
			return apperrors.NewAuthenticationFailedError("внешний аккаунт пользователя не настроен")
		}
		return apperrors.NewInternalServerError(err)
	}

	winRes := uc.api.GetWinResult(ctx, creds, bet.ExternalBetID)
	if !winRes.Success {
		// Ставка остается pending до следующей попытки
		return mapAPIError(winRes.Error)
	}

	var externalAfter *decimal.Decimal
	if postRes := uc.api.GetBalance(ctx, creds); postRes.Success {
		externalAfter = &postRes.Balance
	}

	now := time.Now()
	winAmount := winRes.WinAmount

	err = uc.balanceRepo.WithTransaction(ctx, func(tx *gorm.DB) error {
		balance, err := uc.balanceRepo.GetForUpdate(tx, bet.UserID)
		if err != nil {
			return err
		}

		bet.Status = entity.BetStatusCompleted
		bet.WinAmount = &winAmount
		bet.CompletedAt = &now
		if err := uc.betRepo.UpdateTx(tx, bet); err != nil {
			return err
		}

		if winAmount.IsPositive() {
			winTx := &entity.Transaction{
				UserID:        bet.UserID,
				BetID:         &bet.ID,
				Type:          entity.TransactionTypeWin,
				Amount:        winAmount,
				BalanceBefore: balance.Balance,
				BalanceAfter:  balance.Balance.Add(winAmount),
				Description:   "Выигрыш по ставке " + bet.ExternalBetID + " (досверка)",
			}
			if err := uc.balanceRepo.CreateTransactionTx(tx, winTx); err != nil {
				return err
			}
			balance.Balance = balance.Balance.Add(winAmount)
		}

		if externalAfter != nil {
			balance.ExternalBalance = externalAfter
			checked := time.Now()
			balance.LastCheckedAt = &checked
		}
		return uc.balanceRepo.SaveTx(tx, balance)
	})
	if err != nil {
		return apperrors.NewInternalServerError(err)
	}

	uc.publish(entity.BetSettledRoutingKey, entity.BetSettledEvent{
		BetID:     bet.ID,
		UserID:    bet.UserID,
		Amount:    bet.Amount,
		WinAmount: winAmount,
		Won:       winAmount.IsPositive(),
		Simulated: bet.Simulated,
		SettledAt: now,
	})

	return nil
}

// GetRecommendedBet возвращает рекомендованную сумму ставки. При любом отказе
// внешнего API используется локальная эвристика: 25% локального баланса,
// округленные вниз и зажатые в допустимые границы. Источник значения всегда
// помечается, локальная эвристика не выдается за внешнюю рекомендацию.
func (uc *BettingUseCase) GetRecommendedBet(ctx context.Context, userID uint) (*entity.RecommendedBetResponse, error) {
	creds, err := uc.credentialsFor(ctx, userID)
	if err == nil {
		if res := uc.api.GetRecommendedBet(ctx, creds); res.Success {
			return &entity.RecommendedBetResponse{
				RecommendedAmount: res.Amount,
				Source:            entity.RecommendationSourceExternal,
			}, nil
		}
	} else if !errors.Is(err, repo.ErrExternalAccountNotFound) {
		return nil, apperrors.NewInternalServerError(err)
	}

	balance, err := uc.balanceRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrBalanceNotFound) {
			return nil, apperrors.NewBalanceNotFoundError(userID)
		}
		return nil, apperrors.NewInternalServerError(err)
	}

	quarter := balance.Balance.Mul(decimal.NewFromFloat(0.25)).Floor()
	recommended := int(quarter.IntPart())
	if recommended < entity.MinBetAmount {
		recommended = entity.MinBetAmount
	}
	if recommended > entity.MaxBetAmount {
		recommended = entity.MaxBetAmount
	}

	return &entity.RecommendedBetResponse{
		RecommendedAmount: recommended,
		Source:            entity.RecommendationSourceFallback,
	}, nil
}

// ListBets возвращает страницу ставок пользователя вместе со статистикой
func (uc *BettingUseCase) ListBets(ctx context.Context, userID uint, page, limit int) (*entity.ListBetsResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	bets, total, err := uc.betRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.NewInternalServerError(err)
	}

	stats, err := uc.betRepo.GetUserStats(ctx, userID)
	if err != nil {
		return nil, apperrors.NewInternalServerError(err)
	}

	resp := &entity.ListBetsResponse{
		Bets:  make([]entity.BetResponse, 0, len(bets)),
		Stats: stats,
		Total: total,
		Page:  page,
		Limit: limit,
	}
	for _, b := range bets {
		resp.Bets = append(resp.Bets, entity.BetResponse{
			ID:            b.ID,
			ExternalBetID: b.ExternalBetID,
			Amount:        b.Amount,
			Status:        b.Status,
			WinAmount:     b.WinAmount,
			CreatedAt:     b.CreatedAt,
			CompletedAt:   b.CompletedAt,
		})
	}
	return resp, nil
}

// ProcessPendingBets досчитывает зависшие pending-ставки. Вызывается фоновым
// воркером по расписанию; отказ по одной ставке не прерывает обход.
func (uc *BettingUseCase) ProcessPendingBets(ctx context.Context) {
	bets, err := uc.betRepo.ListPending(ctx, 50)
	if err != nil {
		apperrors.LogError(err, "ProcessPendingBets")
		return
	}
	if len(bets) == 0 {
		return
	}

	log.Printf("Досверка: найдено %d pending-ставок", len(bets))
	for i := range bets {
		if err := uc.settlePending(ctx, &bets[i]); err != nil {
			log.Printf("Досверка ставки %d не удалась: %v", bets[i].ID, err)
		}
	}
}

// credentialsFor возвращает расшифрованные учетные данные пользователя для
// внешнего API
func (uc *BettingUseCase) credentialsFor(ctx context.Context, userID uint) (webapi.Credentials, error) {
	account, err := uc.accountRepo.GetActiveByUserID(ctx, userID)
	if err != nil {
		return webapi.Credentials{}, err
	}

	secret, err := uc.cipher.Decrypt(account.SecretEncrypted)
	if err != nil {
		return webapi.Credentials{}, err
	}

	return webapi.Credentials{
		ExternalID: account.ExternalID,
		Secret:     secret,
	}, nil
}

func (uc *BettingUseCase) publish(routingKey string, event interface{}) {
	if uc.publisher == nil {
		return
	}
	if err := uc.publisher.PublishMessage(entity.BettingEventsExchange, routingKey, event); err != nil {
		log.Printf("Ошибка публикации события %s: %v", routingKey, err)
	}
}

// mapAPIError превращает типизированную ошибку клиента внешнего API в ошибку сервиса
func mapAPIError(apiErr *webapi.APIError) error {
	if apiErr == nil {
		return apperrors.NewExternalAPIUnavailableError("")
	}
	if apiErr.Code == apperrors.CodeExternalAPIUnavailable {
		return apperrors.NewExternalAPIUnavailableError(apiErr.Message)
	}
	return apperrors.NewExternalAPIError(apiErr.Message)
}

func apiErrorMessage(apiErr *webapi.APIError) string {
	if apiErr == nil {
		return ""
	}
	return apiErr.Message
}
