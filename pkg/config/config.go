package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CommonConfig содержит общую конфигурацию сервиса
type CommonConfig struct {
	HTTP     HTTPConfig
	Postgres PostgresConfig
	RabbitMQ RabbitMQConfig
}

// HTTPConfig содержит настройки HTTP сервера
type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig содержит настройки базы данных PostgreSQL
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RabbitMQConfig содержит настройки RabbitMQ
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
	Enabled  bool
}

// JWTConfig содержит настройки для JWT
type JWTConfig struct {
	SigningKey     string
	TokenTTL       time.Duration
	TokenIssuer    string
	TokenAudiences []string
}

// ExternalAPIConfig содержит настройки клиента внешнего беттинг-API
type ExternalAPIConfig struct {
	BaseURL        string
	MaxRetries     int
	RetryDelay     time.Duration
	HealthTimeout  time.Duration
	BalanceTimeout time.Duration
	AuthTimeout    time.Duration
	BetTimeout     time.Duration
}

// CryptoConfig содержит ключ и nonce для шифрования секретов внешних аккаунтов.
// Значения задаются hex-строками через окружение и никогда не хранятся в коде.
type CryptoConfig struct {
	EncryptionKeyHex string
	EncryptionIVHex  string
}

// LoadCommonConfig загружает общую конфигурацию из переменных окружения
func LoadCommonConfig(serviceName string, port string) *CommonConfig {
	// Загружаем переменные окружения из .env файла, если он существует
	godotenv.Load()

	return &CommonConfig{
		HTTP: HTTPConfig{
			Port:         GetEnv("HTTP_PORT", port),
			ReadTimeout:  GetEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: GetEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     GetEnv("POSTGRES_HOST", "localhost"),
			Port:     GetEnv("POSTGRES_PORT", "5432"),
			User:     GetEnv("POSTGRES_USER", "postgres"),
			Password: GetEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:   GetEnv("POSTGRES_DB", serviceName),
			SSLMode:  GetEnv("POSTGRES_SSLMODE", "disable"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     GetEnv("RABBITMQ_HOST", "localhost"),
			Port:     GetEnv("RABBITMQ_PORT", "5672"),
			User:     GetEnv("RABBITMQ_USER", "guest"),
			Password: GetEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    GetEnv("RABBITMQ_VHOST", "/"),
			Enabled:  GetEnvAsBool("RABBITMQ_ENABLED", true),
		},
	}
}

// LoadJWTConfig загружает конфигурацию JWT из переменных окружения
func LoadJWTConfig(serviceName string) *JWTConfig {
	return &JWTConfig{
		SigningKey:     GetEnv("JWT_SIGNING_KEY", ""),
		TokenTTL:       GetEnvAsDuration("JWT_TOKEN_TTL", 24*time.Hour),
		TokenIssuer:    GetEnv("JWT_TOKEN_ISSUER", serviceName),
		TokenAudiences: strings.Split(GetEnv("JWT_TOKEN_AUDIENCES", "betting-clients"), ","),
	}
}

// LoadExternalAPIConfig загружает настройки клиента внешнего API.
// Короткие операции падают быстро, финансовые получают больший бюджет времени.
func LoadExternalAPIConfig() *ExternalAPIConfig {
	return &ExternalAPIConfig{
		BaseURL:        GetEnv("EXTERNAL_API_URL", "http://localhost:9000"),
		MaxRetries:     GetEnvAsInt("EXTERNAL_API_MAX_RETRIES", 3),
		RetryDelay:     GetEnvAsDuration("EXTERNAL_API_RETRY_DELAY", time.Second),
		HealthTimeout:  GetEnvAsDuration("EXTERNAL_API_HEALTH_TIMEOUT", 2*time.Second),
		BalanceTimeout: GetEnvAsDuration("EXTERNAL_API_BALANCE_TIMEOUT", 3*time.Second),
		AuthTimeout:    GetEnvAsDuration("EXTERNAL_API_AUTH_TIMEOUT", 5*time.Second),
		BetTimeout:     GetEnvAsDuration("EXTERNAL_API_BET_TIMEOUT", 10*time.Second),
	}
}

// LoadCryptoConfig загружает ключи шифрования секретов
func LoadCryptoConfig() *CryptoConfig {
	return &CryptoConfig{
		EncryptionKeyHex: GetEnv("ENCRYPTION_KEY", ""),
		EncryptionIVHex:  GetEnv("ENCRYPTION_IV", ""),
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	valueStr := GetEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := GetEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
