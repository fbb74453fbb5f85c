package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/director74/bet_integration/pkg/errors"
)

// HeaderKey имя заголовка с клиентским ключом идемпотентности
const HeaderKey = "Idempotency-Key"

// DefaultLockTimeout время, после которого незавершенная блокировка считается брошенной
const DefaultLockTimeout = 5 * time.Second

// Record представляет состояние одного ключа идемпотентности.
// Жизненный цикл: absent -> locked (Resolved=false) -> resolved (ответ закеширован).
type Record struct {
	Key          string
	UserID       uint
	Endpoint     string
	RequestHash  string
	StatusCode   int
	ResponseBody []byte
	Resolved     bool
	LockedAt     time.Time
}

// Store хранилище записей идемпотентности с атомарной постановкой блокировки.
// Записи различаются тройкой (ключ, пользователь, эндпоинт): одинаковый
// клиентский ключ у разных пользователей или на разных эндпоинтах — разные
// записи.
type Store interface {
	// Acquire атомарно создает заблокированную запись. Если запись с той же
	// тройкой уже существует, возвращает её; брошенную блокировку (старше
	// lockTimeout, без ответа) перехватывает и возвращает acquired=true.
	Acquire(ctx context.Context, rec *Record, lockTimeout time.Duration) (existing *Record, acquired bool, err error)
	// Resolve сохраняет финальный ответ для записи
	Resolve(ctx context.Context, rec *Record, statusCode int, body []byte) error
	// Release снимает блокировку без сохранения ответа
	Release(ctx context.Context, rec *Record) error
}

// bodyCaptureWriter перехватывает тело ответа для кеширования
type bodyCaptureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware реализует защиту от повторного выполнения мутирующих запросов.
// Разрешенная запись отдается клиенту как есть; свежая блокировка дает 409;
// брошенная блокировка перехватывается (at-least-once при падении процесса).
func Middleware(store Store, lockTimeout time.Duration) gin.HandlerFunc {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.Next()
			return
		}

		var userID uint
		if v, exists := c.Get("user_id"); exists {
			if id, ok := v.(uint); ok {
				userID = id
			}
		}

		// Тело читается для хеша и возвращается обратно в запрос
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			apperrors.HandleGinError(c, apperrors.NewInternalServerError(err))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		hash := sha256.Sum256(body)
		rec := &Record{
			Key:         key,
			UserID:      userID,
			Endpoint:    c.Request.Method + " " + c.FullPath(),
			RequestHash: hex.EncodeToString(hash[:]),
			LockedAt:    time.Now(),
		}

		existing, acquired, err := store.Acquire(c.Request.Context(), rec, lockTimeout)
		if err != nil {
			apperrors.HandleGinError(c, apperrors.NewInternalServerError(err))
			return
		}

		if !acquired {
			if existing != nil && existing.Resolved {
				if existing.UserID != rec.UserID || existing.Endpoint != rec.Endpoint ||
					existing.RequestHash != rec.RequestHash {
					apperrors.HandleGinError(c, apperrors.NewServiceError(
						apperrors.CodeIdempotencyConflict, http.StatusConflict,
						"Ключ идемпотентности уже использован с другим запросом", nil))
					return
				}
				// Повторный запрос: отдаем закешированный ответ без побочных эффектов
				c.Data(existing.StatusCode, "application/json; charset=utf-8", existing.ResponseBody)
				c.Abort()
				return
			}
			apperrors.HandleGinError(c, apperrors.NewIdempotencyConflictError())
			return
		}

		writer := &bodyCaptureWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		status := writer.Status()
		if status >= http.StatusInternalServerError {
			// Серверную ошибку не кешируем: снимаем блокировку, чтобы клиент мог повторить
			if relErr := store.Release(context.Background(), rec); relErr != nil {
				apperrors.LogError(relErr, "Idempotency.Release")
			}
			return
		}

		if resErr := store.Resolve(context.Background(), rec, status, writer.buf.Bytes()); resErr != nil {
			apperrors.LogError(resErr, "Idempotency.Resolve")
		}
	}
}
