package entity

import (
	"time"

	"gorm.io/datatypes"
)

// IdempotencyRecord хранит состояние одного ключа идемпотентности: блокировку
// на время обработки запроса и закешированный финальный ответ. Ключ уникален
// в рамках пары (пользователь, эндпоинт): одинаковые ключи разных
// пользователей — независимые записи, чужой ответ по ним не отдается.
type IdempotencyRecord struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	Key          string         `json:"key" gorm:"size:128;uniqueIndex:idx_idempotency_scope;not null"`
	UserID       uint           `json:"user_id" gorm:"uniqueIndex:idx_idempotency_scope;not null"`
	Endpoint     string         `json:"endpoint" gorm:"size:200;uniqueIndex:idx_idempotency_scope;not null"`
	RequestHash  string         `json:"request_hash" gorm:"size:64;not null"`
	StatusCode   int            `json:"status_code"`
	ResponseBody datatypes.JSON `json:"response_body"`
	Resolved     bool           `json:"resolved" gorm:"not null;default:false"`
	LockedAt     time.Time      `json:"locked_at" gorm:"not null"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
