package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/director74/bet_integration/internal/entity"
)

// ExternalAccountRepository интерфейс репозитория учетных данных внешнего API
type ExternalAccountRepository interface {
	Create(ctx context.Context, account *entity.ExternalAccount) error
	GetActiveByUserID(ctx context.Context, userID uint) (*entity.ExternalAccount, error)
	Update(ctx context.Context, account *entity.ExternalAccount) error
	DeactivateByUserID(ctx context.Context, userID uint) error
}

// ErrExternalAccountNotFound ошибка, когда активный внешний аккаунт не найден
var ErrExternalAccountNotFound = errors.New("внешний аккаунт не найден")

// ExternalAccountRepositoryImpl реализация репозитория внешних аккаунтов на GORM
type ExternalAccountRepositoryImpl struct {
	db *gorm.DB
}

func NewExternalAccountRepository(db *gorm.DB) ExternalAccountRepository {
	return &ExternalAccountRepositoryImpl{
		db: db,
	}
}

func (r *ExternalAccountRepositoryImpl) Create(ctx context.Context, account *entity.ExternalAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *ExternalAccountRepositoryImpl) GetActiveByUserID(ctx context.Context, userID uint) (*entity.ExternalAccount, error) {
	var account entity.ExternalAccount
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("created_at DESC").
		First(&account)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrExternalAccountNotFound
		}
		return nil, result.Error
	}
	return &account, nil
}

func (r *ExternalAccountRepositoryImpl) Update(ctx context.Context, account *entity.ExternalAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

// DeactivateByUserID деактивирует все аккаунты пользователя (ротация секрета)
func (r *ExternalAccountRepositoryImpl) DeactivateByUserID(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).Model(&entity.ExternalAccount{}).
		Where("user_id = ? AND active = ?", userID, true).
		Update("active", false).Error
}
