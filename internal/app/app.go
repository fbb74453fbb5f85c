package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/director74/bet_integration/config"
	httpController "github.com/director74/bet_integration/internal/controller/http"
	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/internal/repo"
	"github.com/director74/bet_integration/internal/usecase"
	"github.com/director74/bet_integration/internal/usecase/webapi"
	"github.com/director74/bet_integration/pkg/auth"
	"github.com/director74/bet_integration/pkg/crypto"
	"github.com/director74/bet_integration/pkg/database"
	"github.com/director74/bet_integration/pkg/errors"
	"github.com/director74/bet_integration/pkg/idempotency"
	"github.com/director74/bet_integration/pkg/messaging"
	"github.com/director74/bet_integration/pkg/rabbitmq"
)

// App представляет приложение
type App struct {
	config         *config.Config
	httpServer     *http.Server
	jwtManager     *auth.JWTManager
	db             *gorm.DB
	rabbitMQ       *rabbitmq.RabbitMQ
	bettingUseCase *usecase.BettingUseCase

	stopReconcile context.CancelFunc
}

func NewApp(cfg *config.Config) (*App, error) {
	db, err := database.NewPostgresDB(cfg.Postgres)
	if err != nil {
		return nil, errors.AppendPrefix(err, "не удалось подключиться к базе данных")
	}

	if err := database.AutoMigrateWithCleanup(db,
		&entity.User{},
		&entity.ExternalAccount{},
		&entity.Balance{},
		&entity.Transaction{},
		&entity.Bet{},
		&entity.IdempotencyRecord{},
	); err != nil {
		return nil, errors.AppendPrefix(err, "не удалось выполнить миграцию")
	}

	// RabbitMQ опционален: без него сервис работает, события не публикуются
	var rmq *rabbitmq.RabbitMQ
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.InitRabbitMQ(cfg.RabbitMQ)
		if err != nil {
			database.CloseDB(db)
			return nil, errors.AppendPrefix(err, "не удалось подключиться к RabbitMQ")
		}

		exchanges := map[string]string{
			entity.BettingEventsExchange: "topic",
		}
		if err := messaging.SetupExchangesAndQueues(rmq, exchanges, nil); err != nil {
			database.CloseDB(db)
			rmq.Close()
			return nil, errors.AppendPrefix(err, "ошибка при настройке RabbitMQ")
		}
	} else {
		log.Println("RabbitMQ выключен конфигурацией, события публиковаться не будут")
	}

	cipher, err := crypto.NewCipher(cfg.Crypto.EncryptionKeyHex, cfg.Crypto.EncryptionIVHex)
	if err != nil {
		database.CloseDB(db)
		if rmq != nil {
			rmq.Close()
		}
		return nil, errors.AppendPrefix(err, "не удалось инициализировать шифрование секретов")
	}

	jwtConfig := auth.NewConfig(cfg.JWT.SigningKey)
	jwtConfig.TokenTTL = cfg.JWT.TokenTTL
	jwtConfig.TokenIssuer = cfg.JWT.TokenIssuer
	jwtConfig.TokenAudiences = cfg.JWT.TokenAudiences
	jwtManager := auth.NewJWTManager(jwtConfig)

	// Репозитории
	userRepo := repo.NewUserRepository(db)
	accountRepo := repo.NewExternalAccountRepository(db)
	balanceRepo := repo.NewBalanceRepository(db)
	betRepo := repo.NewBetRepository(db)
	idempotencyStore := repo.NewIdempotencyRepository(db)

	// Клиент внешнего беттинг-API и политика деградации
	bettingClient := webapi.NewBettingClient(&cfg.ExternalAPI)
	policy := usecase.NewSettlementPolicy(cfg.FallbackMode)

	var publisher usecase.EventPublisher
	if rmq != nil {
		publisher = rmq
	}

	// Use cases
	authUseCase := usecase.NewAuthUseCase(userRepo, jwtManager)
	bettingUseCase := usecase.NewBettingUseCase(betRepo, balanceRepo, accountRepo, bettingClient, policy, cipher, publisher)
	balanceUseCase := usecase.NewBalanceUseCase(balanceRepo, accountRepo, bettingClient, cipher)

	// Тестовые пользователи создаются до приема трафика
	if err := seedTestAccounts(context.Background(), cfg.TestAccounts, userRepo, accountRepo, cipher); err != nil {
		log.Printf("ВНИМАНИЕ: не удалось создать тестовых пользователей: %v", err)
	}

	authMiddleware := auth.NewAuthMiddleware(jwtManager)
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore, cfg.IdempotencyLockTimeout)

	authHandler := httpController.NewAuthHandler(authUseCase)
	betHandler := httpController.NewBetHandler(bettingUseCase)
	balanceHandler := httpController.NewBalanceHandler(balanceUseCase)

	router := gin.Default()

	router.Use(errors.RecoveryMiddleware())
	router.Use(errors.ErrorMiddleware())

	router.NoRoute(errors.NotFoundHandler())
	router.NoMethod(errors.MethodNotAllowedHandler())

	// Health отдает и состояние внешнего API, не влияя на собственный статус
	router.GET("/health", func(c *gin.Context) {
		externalStatus := "ok"
		if res := bettingClient.Health(c.Request.Context()); !res.Success {
			externalStatus = "unavailable"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"external_api": externalStatus,
		})
	})

	authHandler.RegisterRoutes(router)
	betHandler.RegisterRoutes(router, authMiddleware, idempotencyMiddleware)
	balanceHandler.RegisterRoutes(router, authMiddleware, idempotencyMiddleware)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &App{
		config:         cfg,
		httpServer:     httpServer,
		jwtManager:     jwtManager,
		db:             db,
		rabbitMQ:       rmq,
		bettingUseCase: bettingUseCase,
	}, nil
}

// Run запускает приложение
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Фоновая досверка pending-ставок
	reconcileCtx, stopReconcile := context.WithCancel(context.Background())
	a.stopReconcile = stopReconcile
	go a.runReconciliation(reconcileCtx)

	go func() {
		log.Printf("HTTP сервер запущен на порту %s", a.config.HTTP.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ошибка запуска HTTP сервера: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Получен сигнал завершения, закрываем приложение...")
	case <-ctx.Done():
		log.Println("Контекст завершен, закрываем приложение...")
	}

	return a.Shutdown()
}

// runReconciliation периодически досчитывает зависшие pending-ставки
func (a *App) runReconciliation(ctx context.Context) {
	ticker := time.NewTicker(a.config.ReconcileInterval)
	defer ticker.Stop()

	log.Printf("Фоновая досверка ставок запущена с периодом %s", a.config.ReconcileInterval)
	for {
		select {
		case <-ticker.C:
			a.bettingUseCase.ProcessPendingBets(ctx)
		case <-ctx.Done():
			log.Println("Фоновая досверка ставок остановлена")
			return
		}
	}
}

// Shutdown корректно завершает работу приложения
func (a *App) Shutdown() error {
	errGroup := errors.NewErrorGroup()

	if a.stopReconcile != nil {
		a.stopReconcile()
	}

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.httpServer.Shutdown(ctx); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии HTTP сервера")
		}
	}

	if a.rabbitMQ != nil {
		a.rabbitMQ.Close()
	}

	if a.db != nil {
		if err := database.CloseDB(a.db); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии соединения с базой данных")
		}
	}

	if errGroup.HasErrors() {
		errors.LogError(errGroup, "Shutdown")
		return errGroup
	}

	log.Println("Приложение успешно завершено")
	return nil
}

// seedTestAccounts создает тестовых пользователей и их внешние аккаунты.
// Существующие пользователи не трогаются, секреты сохраняются только в
// зашифрованном виде.
func seedTestAccounts(ctx context.Context, accounts []config.TestAccount, userRepo repo.UserRepository, accountRepo repo.ExternalAccountRepository, cipher *crypto.Cipher) error {
	for _, acc := range accounts {
		if _, err := userRepo.GetByUsername(ctx, acc.Username); err == nil {
			continue
		}

		passwordHash, err := auth.HashPassword(acc.Password)
		if err != nil {
			return errors.AppendPrefix(err, "не удалось захешировать пароль")
		}

		user := &entity.User{
			Username: acc.Username,
			Password: passwordHash,
		}
		if err := userRepo.Create(ctx, user); err != nil {
			return errors.AppendPrefix(err, "не удалось создать пользователя "+acc.Username)
		}

		account := &entity.ExternalAccount{
			UserID:          user.ID,
			ExternalID:      acc.ExternalID,
			SecretEncrypted: cipher.Encrypt(acc.Secret),
			Active:          true,
		}
		if err := accountRepo.Create(ctx, account); err != nil {
			return errors.AppendPrefix(err, "не удалось создать внешний аккаунт для "+acc.Username)
		}

		log.Printf("Создан тестовый пользователь %s (внешний id %d)", acc.Username, acc.ExternalID)
	}

	return nil
}
