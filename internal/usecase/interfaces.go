package usecase

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/director74/bet_integration/internal/usecase/webapi"
)

// ExternalBettingAPI интерфейс клиента внешнего беттинг-API. Методы не
// возвращают error: результат вызова всегда типизирован, вызывающая сторона
// ветвится по Success.
type ExternalBettingAPI interface {
	Authenticate(ctx context.Context, creds webapi.Credentials) *webapi.AuthResult
	GetBalance(ctx context.Context, creds webapi.Credentials) *webapi.BalanceResult
	SetBalance(ctx context.Context, creds webapi.Credentials, amount decimal.Decimal) *webapi.BalanceResult
	GetRecommendedBet(ctx context.Context, creds webapi.Credentials) *webapi.RecommendedBetResult
	PlaceBet(ctx context.Context, creds webapi.Credentials, amount int) *webapi.PlaceBetResult
	GetWinResult(ctx context.Context, creds webapi.Credentials, betID string) *webapi.WinResult
	Health(ctx context.Context) *webapi.HealthResult
}

// EventPublisher интерфейс публикации доменных событий. Реализация может
// отсутствовать (RabbitMQ выключен конфигурацией), вызывающие стороны обязаны
// переживать nil.
type EventPublisher interface {
	PublishMessage(exchange, routingKey string, message interface{}) error
}
