package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError представляет ошибку сервиса со стабильным кодом и HTTP-статусом
type ServiceError struct {
	Code    string      // Стабильный код из таксономии (CodeInsufficientBalance и т.д.)
	Status  int         // HTTP-статус
	Message string      // Сообщение об ошибке
	Details interface{} // Дополнительные детали для клиента (опционально)
	Err     error       // Исходная ошибка
}

// NewServiceError создает новую ошибку сервиса
func NewServiceError(code string, status int, message string, err error) *ServiceError {
	return &ServiceError{
		Code:    code,
		Status:  status,
		Message: message,
		Err:     err,
	}
}

// Error реализует интерфейс error
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap возвращает оригинальную ошибку
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails добавляет детали, которые уйдут клиенту в поле "details"
func (e *ServiceError) WithDetails(details interface{}) *ServiceError {
	e.Details = details
	return e
}

func NewValidationError(field, reason string) *ServiceError {
	message := fmt.Sprintf("Ошибка валидации поля '%s': %s", field, reason)
	return NewServiceError(CodeValidationError, http.StatusBadRequest, message, ErrBadRequest)
}

func NewInvalidBetAmountError(amount int) *ServiceError {
	message := fmt.Sprintf("Сумма ставки %d недопустима: ожидается целое число от 1 до 5", amount)
	return NewServiceError(CodeInvalidBetAmount, http.StatusBadRequest, message, ErrBadRequest)
}

func NewNotFoundError(resourceType string, id interface{}) *ServiceError {
	message := fmt.Sprintf("%s с ID=%v не найден", resourceType, id)
	return NewServiceError(CodeNotFound, http.StatusNotFound, message, ErrNotFound)
}

func NewUserNotFoundError(id interface{}) *ServiceError {
	message := fmt.Sprintf("Пользователь с ID=%v не найден", id)
	return NewServiceError(CodeUserNotFound, http.StatusNotFound, message, ErrNotFound)
}

func NewBetNotFoundError(id interface{}) *ServiceError {
	message := fmt.Sprintf("Ставка с ID=%v не найдена", id)
	return NewServiceError(CodeBetNotFound, http.StatusNotFound, message, ErrNotFound)
}

func NewBalanceNotFoundError(userID interface{}) *ServiceError {
	message := fmt.Sprintf("Баланс пользователя с ID=%v не найден", userID)
	return NewServiceError(CodeBalanceNotFound, http.StatusNotFound, message, ErrNotFound)
}

func NewUnauthorizedError(reason string) *ServiceError {
	message := "Требуется авторизация"
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return NewServiceError(CodeUnauthorized, http.StatusUnauthorized, message, ErrUnauthorized)
}

func NewInvalidCredentialsError() *ServiceError {
	return NewServiceError(CodeUnauthorized, http.StatusUnauthorized, "Неверное имя пользователя или пароль", ErrInvalidCredentials)
}

// NewAuthenticationFailedError означает отказ внешнего API в аутентификации пользователя
func NewAuthenticationFailedError(reason string) *ServiceError {
	message := "Не удалось аутентифицироваться во внешнем API"
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return NewServiceError(CodeAuthenticationFailed, http.StatusBadGateway, message, nil)
}

func NewInsufficientBalanceError(message string) *ServiceError {
	if message == "" {
		message = "Недостаточно средств на балансе"
	}
	return NewServiceError(CodeInsufficientBalance, http.StatusBadRequest, message, nil)
}

func NewExternalAPIError(reason string) *ServiceError {
	message := "Ошибка внешнего API"
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return NewServiceError(CodeExternalAPIError, http.StatusBadGateway, message, nil)
}

func NewExternalAPIUnavailableError(reason string) *ServiceError {
	message := "Внешний API недоступен"
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return NewServiceError(CodeExternalAPIUnavailable, http.StatusBadGateway, message, nil)
}

func NewBalanceSyncError(reason string) *ServiceError {
	message := "Не удалось синхронизировать баланс с внешним API"
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return NewServiceError(CodeBalanceSyncError, http.StatusBadGateway, message, nil)
}

func NewIdempotencyConflictError() *ServiceError {
	return NewServiceError(CodeIdempotencyConflict, http.StatusConflict, "Запрос с таким ключом идемпотентности уже обрабатывается", ErrAlreadyExists)
}

func NewInternalServerError(err error) *ServiceError {
	return NewServiceError(CodeInternalError, http.StatusInternalServerError, "Внутренняя ошибка сервера", err)
}

// ToHTTPResponse преобразует ошибку в HTTP-ответ вида {code, message, details?}
func ToHTTPResponse(err error) (int, HTTPErrorResponse) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Status, HTTPErrorResponse{
			Code:    se.Code,
			Message: se.Message,
			Details: se.Details,
		}
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, HTTPErrorResponse{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, HTTPErrorResponse{Code: CodeUnauthorized, Message: err.Error()}
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict, HTTPErrorResponse{Code: CodeValidationError, Message: err.Error()}
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, HTTPErrorResponse{Code: CodeValidationError, Message: err.Error()}
	default:
		// Сырые ошибки наружу не отдаем
		return http.StatusInternalServerError, HTTPErrorResponse{Code: CodeInternalError, Message: "Внутренняя ошибка сервера"}
	}
}
