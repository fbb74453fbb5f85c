package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/director74/bet_integration/pkg/config"
	"github.com/director74/bet_integration/pkg/crypto"
	apperrors "github.com/director74/bet_integration/pkg/errors"
)

// Credentials учетные данные пользователя во внешнем API. Секрет уже расшифрован
// вызывающей стороной и живет только в памяти на время вызова.
type Credentials struct {
	ExternalID int
	Secret     string
}

// APIError типизированная ошибка вызова внешнего API
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// CallResult результат одного вызова внешнего API. Клиент никогда не возвращает
// ошибку как error: вызывающая сторона ветвится по Success и не вправе
// предполагать доступность внешней системы.
type CallResult struct {
	Success    bool
	StatusCode int
	Duration   time.Duration
	Error      *APIError
}

// AuthResult результат аутентификации
type AuthResult struct {
	CallResult
}

// BalanceResult результат чтения или записи баланса
type BalanceResult struct {
	CallResult
	Balance decimal.Decimal
}

// RecommendedBetResult результат запроса рекомендованной ставки
type RecommendedBetResult struct {
	CallResult
	Amount int
}

// PlaceBetResult результат размещения ставки
type PlaceBetResult struct {
	CallResult
	BetID string
}

// WinResult результат запроса выигрыша. WinAmount = 0 означает проигрыш.
type WinResult struct {
	CallResult
	WinAmount decimal.Decimal
}

// HealthResult результат проверки доступности внешнего API
type HealthResult struct {
	CallResult
}

// BettingClient HTTP клиент внешнего беттинг-API. Каждый запрос подписывается
// HMAC-SHA512 от JSON тела секретом пользователя; подпись и внешний id уходят
// в заголовках. Повторы: до maxRetries попыток с линейно растущей задержкой,
// 4xx не повторяются, 5xx и сетевые ошибки повторяются.
type BettingClient struct {
	baseURL    string
	maxRetries int
	retryDelay time.Duration

	healthTimeout  time.Duration
	balanceTimeout time.Duration
	authTimeout    time.Duration
	betTimeout     time.Duration

	httpClient *http.Client
}

func NewBettingClient(cfg *config.ExternalAPIConfig) *BettingClient {
	return &BettingClient{
		baseURL:        cfg.BaseURL,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		healthTimeout:  cfg.HealthTimeout,
		balanceTimeout: cfg.BalanceTimeout,
		authTimeout:    cfg.AuthTimeout,
		betTimeout:     cfg.BetTimeout,
		httpClient:     &http.Client{},
	}
}

// Authenticate выполняет POST /auth с пустым телом. Доверие не кешируется:
// каждый последующий вызов заново подтверждается подписью.
func (c *BettingClient) Authenticate(ctx context.Context, creds Credentials) *AuthResult {
	res := &AuthResult{}
	res.CallResult, _ = c.doSigned(ctx, http.MethodPost, "/auth", creds, nil, c.authTimeout)
	return res
}

// GetBalance читает баланс пользователя во внешнем API
func (c *BettingClient) GetBalance(ctx context.Context, creds Credentials) *BalanceResult {
	res := &BalanceResult{}
	var body []byte
	res.CallResult, body = c.doSigned(ctx, http.MethodPost, "/balance", creds, nil, c.balanceTimeout)
	if !res.Success {
		return res
	}

	var payload struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		res.fail(apperrors.CodeExternalAPIError, fmt.Sprintf("некорректный ответ на запрос баланса: %v", err))
		return res
	}
	res.Balance = payload.Balance
	return res
}

// SetBalance устанавливает баланс пользователя во внешнем API. Наличие поля
// balance в теле отличает запись от чтения.
func (c *BettingClient) SetBalance(ctx context.Context, creds Credentials, amount decimal.Decimal) *BalanceResult {
	res := &BalanceResult{}
	req := map[string]interface{}{"balance": amount}
	var body []byte
	res.CallResult, body = c.doSigned(ctx, http.MethodPost, "/balance", creds, req, c.balanceTimeout)
	if !res.Success {
		return res
	}

	var payload struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Внешний API мог подтвердить запись без тела: считаем записанное значение итоговым
		res.Balance = amount
		return res
	}
	res.Balance = payload.Balance
	return res
}

// GetRecommendedBet запрашивает рекомендованную сумму ставки
func (c *BettingClient) GetRecommendedBet(ctx context.Context, creds Credentials) *RecommendedBetResult {
	res := &RecommendedBetResult{}
	var body []byte
	res.CallResult, body = c.doSigned(ctx, http.MethodGet, "/bet", creds, nil, c.betTimeout)
	if !res.Success {
		return res
	}

	var payload struct {
		Bet int `json:"bet"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		res.fail(apperrors.CodeExternalAPIError, fmt.Sprintf("некорректный ответ на запрос рекомендации: %v", err))
		return res
	}
	res.Amount = payload.Bet
	return res
}

// PlaceBet размещает ставку во внешнем API. Сумма валидируется вызывающей
// стороной до вызова.
func (c *BettingClient) PlaceBet(ctx context.Context, creds Credentials, amount int) *PlaceBetResult {
	res := &PlaceBetResult{}
	req := map[string]interface{}{"bet": amount}
	var body []byte
	res.CallResult, body = c.doSigned(ctx, http.MethodPost, "/bet", creds, req, c.betTimeout)
	if !res.Success {
		return res
	}

	var payload struct {
		BetID string `json:"bet_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.BetID == "" {
		res.fail(apperrors.CodeExternalAPIError, "внешний API не вернул идентификатор ставки")
		return res
	}
	res.BetID = payload.BetID
	return res
}

// GetWinResult запрашивает результат ставки. Нулевой выигрыш означает проигрыш.
func (c *BettingClient) GetWinResult(ctx context.Context, creds Credentials, betID string) *WinResult {
	res := &WinResult{}
	req := map[string]interface{}{"bet_id": betID}
	var body []byte
	res.CallResult, body = c.doSigned(ctx, http.MethodPost, "/win", creds, req, c.betTimeout)
	if !res.Success {
		return res
	}

	var payload struct {
		Win decimal.Decimal `json:"win"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		res.fail(apperrors.CodeExternalAPIError, fmt.Sprintf("некорректный ответ на запрос выигрыша: %v", err))
		return res
	}
	res.WinAmount = payload.Win
	return res
}

// Health проверяет доступность внешнего API. Запрос не подписывается.
func (c *BettingClient) Health(ctx context.Context) *HealthResult {
	res := &HealthResult{}
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		res.Duration = time.Since(start)
		res.fail(apperrors.CodeExternalAPIUnavailable, fmt.Sprintf("ошибка при создании запроса: %v", err))
		return res
	}

	resp, err := c.httpClient.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.fail(apperrors.CodeExternalAPIUnavailable, fmt.Sprintf("внешний API недоступен: %v", err))
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.fail(apperrors.CodeExternalAPIUnavailable, fmt.Sprintf("неуспешный ответ health-проверки: %s", resp.Status))
		res.Error.StatusCode = resp.StatusCode
		return res
	}

	res.Success = true
	return res
}

// doSigned выполняет подписанный запрос с повторами. Возвращает результат и
// тело последнего ответа. Повторяются только 5xx и сетевые ошибки; задержка
// между попытками растет линейно (retryDelay * номер попытки).
func (c *BettingClient) doSigned(ctx context.Context, method, path string, creds Credentials, reqBody interface{}, timeout time.Duration) (CallResult, []byte) {
	result := CallResult{}
	start := time.Now()

	var bodyJSON []byte
	if reqBody != nil {
		var err error
		bodyJSON, err = json.Marshal(reqBody)
		if err != nil {
			result.Duration = time.Since(start)
			result.Error = &APIError{Code: apperrors.CodeExternalAPIError, Message: fmt.Sprintf("ошибка при маршалинге запроса: %v", err)}
			return result, nil
		}
	}

	signature := crypto.SignPayload(creds.Secret, bodyJSON)
	url := c.baseURL + path

	var lastErr *APIError
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		status, respBody, apiErr := c.attempt(ctx, method, url, creds.ExternalID, signature, bodyJSON, timeout)

		attemptDur := time.Since(start)
		if apiErr == nil {
			log.Printf("[external-api] %s %s user=%d status=%d attempt=%d duration=%s response=%s",
				method, path, creds.ExternalID, status, attempt, attemptDur, truncateBody(respBody))
			result.Success = true
			result.StatusCode = status
			result.Duration = attemptDur
			return result, respBody
		}

		log.Printf("[external-api] %s %s user=%d status=%d attempt=%d duration=%s error=%s",
			method, path, creds.ExternalID, status, attempt, attemptDur, apiErr.Message)

		lastErr = apiErr
		result.StatusCode = status

		// Клиентская ошибка не лечится повтором
		if status >= 400 && status < 500 {
			result.Duration = time.Since(start)
			result.Error = apiErr
			return result, respBody
		}

		if attempt < c.maxRetries {
			select {
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				result.Duration = time.Since(start)
				result.Error = &APIError{Code: apperrors.CodeExternalAPIUnavailable, Message: fmt.Sprintf("запрос отменен: %v", ctx.Err())}
				return result, nil
			}
		}
	}

	result.Duration = time.Since(start)
	result.Error = lastErr
	if result.Error == nil {
		result.Error = &APIError{Code: apperrors.CodeExternalAPIUnavailable, Message: "внешний API недоступен"}
	}
	return result, nil
}

// attempt выполняет одну попытку запроса. Подпись и секрет в лог не попадают.
func (c *BettingClient) attempt(ctx context.Context, method, url string, externalID int, signature string, bodyJSON []byte, timeout time.Duration) (int, []byte, *APIError) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if bodyJSON != nil {
		reader = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return 0, nil, &APIError{Code: apperrors.CodeExternalAPIUnavailable, Message: fmt.Sprintf("ошибка при создании запроса: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("user-id", strconv.Itoa(externalID))
	req.Header.Set("x-signature", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &APIError{Code: apperrors.CodeExternalAPIUnavailable, Message: fmt.Sprintf("ошибка при выполнении запроса: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &APIError{Code: apperrors.CodeExternalAPIUnavailable, Message: fmt.Sprintf("ошибка при чтении ответа: %v", err), StatusCode: resp.StatusCode}
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return resp.StatusCode, respBody, &APIError{
			Code:       apperrors.CodeExternalAPIError,
			Message:    fmt.Sprintf("внешний API отклонил запрос: %s %s", resp.Status, truncateBody(respBody)),
			StatusCode: resp.StatusCode,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, respBody, &APIError{
			Code:       apperrors.CodeExternalAPIUnavailable,
			Message:    fmt.Sprintf("неуспешный ответ внешнего API: %s", resp.Status),
			StatusCode: resp.StatusCode,
		}
	}

	return resp.StatusCode, respBody, nil
}

func (r *CallResult) fail(code, message string) {
	r.Success = false
	r.Error = &APIError{Code: code, Message: message, StatusCode: r.StatusCode}
}

// truncateBody обрезает тело для аудит-лога
func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
