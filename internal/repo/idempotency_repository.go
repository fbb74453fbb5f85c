package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/pkg/idempotency"
)

// IdempotencyRepositoryImpl реализация хранилища идемпотентности на GORM.
// Атомарность постановки блокировки обеспечивает составной уникальный индекс
// по (ключ, пользователь, эндпоинт).
type IdempotencyRepositoryImpl struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) idempotency.Store {
	return &IdempotencyRepositoryImpl{
		db: db,
	}
}

func (r *IdempotencyRepositoryImpl) Acquire(ctx context.Context, rec *idempotency.Record, lockTimeout time.Duration) (*idempotency.Record, bool, error) {
	row := entity.IdempotencyRecord{
		Key:         rec.Key,
		UserID:      rec.UserID,
		Endpoint:    rec.Endpoint,
		RequestHash: rec.RequestHash,
		Resolved:    false,
		LockedAt:    rec.LockedAt,
	}

	err := r.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil, true, nil
	}

	// Вставка не прошла: скорее всего конфликт уникального индекса. Перечитываем
	// запись; если её нет, возвращаем исходную ошибку вставки.
	var existing entity.IdempotencyRecord
	findErr := r.db.WithContext(ctx).
		Where("key = ? AND user_id = ? AND endpoint = ?", rec.Key, rec.UserID, rec.Endpoint).
		First(&existing).Error
	if findErr != nil {
		return nil, false, err
	}

	if !existing.Resolved && time.Since(existing.LockedAt) > lockTimeout {
		// Брошенная блокировка: перехватываем через условный UPDATE, выигрывает
		// ровно один из конкурентов.
		res := r.db.WithContext(ctx).Model(&entity.IdempotencyRecord{}).
			Where("key = ? AND user_id = ? AND endpoint = ? AND resolved = ? AND locked_at < ?",
				rec.Key, rec.UserID, rec.Endpoint, false, time.Now().Add(-lockTimeout)).
			Updates(map[string]interface{}{
				"request_hash": rec.RequestHash,
				"locked_at":    rec.LockedAt,
			})
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected == 1 {
			return nil, true, nil
		}
	}

	return toRecord(&existing), false, nil
}

func (r *IdempotencyRepositoryImpl) Resolve(ctx context.Context, rec *idempotency.Record, statusCode int, body []byte) error {
	return r.db.WithContext(ctx).Model(&entity.IdempotencyRecord{}).
		Where("key = ? AND user_id = ? AND endpoint = ?", rec.Key, rec.UserID, rec.Endpoint).
		Updates(map[string]interface{}{
			"status_code":   statusCode,
			"response_body": body,
			"resolved":      true,
		}).Error
}

func (r *IdempotencyRepositoryImpl) Release(ctx context.Context, rec *idempotency.Record) error {
	return r.db.WithContext(ctx).
		Where("key = ? AND user_id = ? AND endpoint = ? AND resolved = ?", rec.Key, rec.UserID, rec.Endpoint, false).
		Delete(&entity.IdempotencyRecord{}).Error
}

func toRecord(row *entity.IdempotencyRecord) *idempotency.Record {
	return &idempotency.Record{
		Key:          row.Key,
		UserID:       row.UserID,
		Endpoint:     row.Endpoint,
		RequestHash:  row.RequestHash,
		StatusCode:   row.StatusCode,
		ResponseBody: []byte(row.ResponseBody),
		Resolved:     row.Resolved,
		LockedAt:     row.LockedAt,
	}
}
