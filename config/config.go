package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/pkg/config"
)

// Ключ и nonce шифрования секретов по умолчанию. Используются только для
// локальной разработки, в любом окружении задаются через ENCRYPTION_KEY и
// ENCRYPTION_IV.
const (
	devEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	devEncryptionIV  = "000102030405060708090a0b"
)

// Config содержит конфигурацию сервиса ставок
type Config struct {
	HTTP        config.HTTPConfig
	Postgres    config.PostgresConfig
	RabbitMQ    config.RabbitMQConfig
	JWT         config.JWTConfig
	ExternalAPI config.ExternalAPIConfig
	Crypto      config.CryptoConfig

	// FallbackMode поведение при недоступности внешнего API: strict или simulate
	FallbackMode string
	// ReconcileInterval период фоновой досверки pending-ставок
	ReconcileInterval time.Duration
	// IdempotencyLockTimeout время жизни блокировки ключа идемпотентности
	IdempotencyLockTimeout time.Duration
	// TestAccounts тестовые пользователи, создаваемые при старте
	TestAccounts []TestAccount
}

// TestAccount описывает тестового пользователя с учетными данными внешнего API
type TestAccount struct {
	Username   string
	Password   string
	ExternalID int
	Secret     string
}

func NewConfig() (*Config, error) {
	commonConfig := config.LoadCommonConfig("bet_integration", "8080")
	jwtConfig := config.LoadJWTConfig("bet-integration-auth")
	externalConfig := config.LoadExternalAPIConfig()
	cryptoConfig := config.LoadCryptoConfig()

	if cryptoConfig.EncryptionKeyHex == "" {
		cryptoConfig.EncryptionKeyHex = devEncryptionKey
	}
	if cryptoConfig.EncryptionIVHex == "" {
		cryptoConfig.EncryptionIVHex = devEncryptionIV
	}

	testAccounts, err := parseTestAccounts(config.GetEnv("TEST_ACCOUNTS", ""))
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTP:                   commonConfig.HTTP,
		Postgres:               commonConfig.Postgres,
		RabbitMQ:               commonConfig.RabbitMQ,
		JWT:                    *jwtConfig,
		ExternalAPI:            *externalConfig,
		Crypto:                 *cryptoConfig,
		FallbackMode:           config.GetEnv("EXTERNAL_FALLBACK_MODE", "strict"),
		ReconcileInterval:      config.GetEnvAsDuration("RECONCILE_INTERVAL", 5*time.Minute),
		IdempotencyLockTimeout: config.GetEnvAsDuration("IDEMPOTENCY_LOCK_TIMEOUT", 5*time.Second),
		TestAccounts:           testAccounts,
	}, nil
}

// parseTestAccounts разбирает строку вида
// "username:password:externalID:secret;username:password:externalID:secret"
func parseTestAccounts(raw string) ([]TestAccount, error) {
	if raw == "" {
		return nil, nil
	}

	var accounts []TestAccount
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Split(part, ":")
		if len(fields) != 4 {
			return nil, fmt.Errorf("некорректная запись TEST_ACCOUNTS: %q", part)
		}

		externalID, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("некорректный внешний ID в TEST_ACCOUNTS: %q", fields[2])
		}
		if externalID < entity.MinExternalID || externalID > entity.MaxExternalID {
			return nil, fmt.Errorf("внешний ID в TEST_ACCOUNTS вне диапазона [%d, %d]: %d",
				entity.MinExternalID, entity.MaxExternalID, externalID)
		}

		accounts = append(accounts, TestAccount{
			Username:   fields[0],
			Password:   fields[1],
			ExternalID: externalID,
			Secret:     fields[3],
		})
	}

	return accounts, nil
}
