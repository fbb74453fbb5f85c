package repo

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/director74/bet_integration/internal/entity"
)

// BalanceRepository интерфейс репозитория баланса и журнала транзакций.
// Методы с суффиксом Tx работают внутри открытой транзакции базы данных:
// окно чтение-проверка-запись для одного пользователя должно выполняться
// под блокировкой его строки баланса.
type BalanceRepository interface {
	GetByUserID(ctx context.Context, userID uint) (*entity.Balance, error)
	Create(ctx context.Context, balance *entity.Balance) error
	Update(ctx context.Context, balance *entity.Balance) error
	GetForUpdate(tx *gorm.DB, userID uint) (*entity.Balance, error)
	CreateTx(tx *gorm.DB, balance *entity.Balance) error
	SaveTx(tx *gorm.DB, balance *entity.Balance) error
	CreateTransactionTx(tx *gorm.DB, transaction *entity.Transaction) error
	ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]entity.Transaction, int64, error)
	SumTransactionsByType(ctx context.Context, userID uint) (map[string]decimal.Decimal, error)
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ErrBalanceNotFound ошибка, когда запись баланса не найдена
var ErrBalanceNotFound = errors.New("баланс не найден")

// BalanceRepositoryImpl реализация репозитория баланса на GORM
type BalanceRepositoryImpl struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) BalanceRepository {
	return &BalanceRepositoryImpl{
		db: db,
	}
}

func (r *BalanceRepositoryImpl) GetByUserID(ctx context.Context, userID uint) (*entity.Balance, error) {
	var balance entity.Balance
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, result.Error
	}
	return &balance, nil
}

func (r *BalanceRepositoryImpl) Create(ctx context.Context, balance *entity.Balance) error {
	return r.db.WithContext(ctx).Create(balance).Error
}

func (r *BalanceRepositoryImpl) Update(ctx context.Context, balance *entity.Balance) error {
	return r.db.WithContext(ctx).Save(balance).Error
}

// GetForUpdate читает строку баланса под блокировкой FOR UPDATE. Конкурентные
// запросы одного пользователя сериализуются на этой строке.
func (r *BalanceRepositoryImpl) GetForUpdate(tx *gorm.DB, userID uint) (*entity.Balance, error) {
	var balance entity.Balance
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, result.Error
	}
	return &balance, nil
}

func (r *BalanceRepositoryImpl) CreateTx(tx *gorm.DB, balance *entity.Balance) error {
	return tx.Create(balance).Error
}

func (r *BalanceRepositoryImpl) SaveTx(tx *gorm.DB, balance *entity.Balance) error {
	return tx.Save(balance).Error
}

// CreateTransactionTx добавляет запись в журнал. Журнал только пополняется.
func (r *BalanceRepositoryImpl) CreateTransactionTx(tx *gorm.DB, transaction *entity.Transaction) error {
	return tx.Create(transaction).Error
}

func (r *BalanceRepositoryImpl) ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]entity.Transaction, int64, error) {
	var transactions []entity.Transaction
	var total int64

	r.db.WithContext(ctx).Model(&entity.Transaction{}).Where("user_id = ?", userID).Count(&total)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(limit).Offset(offset).
		Order("created_at DESC").
		Find(&transactions).Error

	return transactions, total, err
}

// SumTransactionsByType возвращает сумму знаковых сумм журнала по типам
func (r *BalanceRepositoryImpl) SumTransactionsByType(ctx context.Context, userID uint) (map[string]decimal.Decimal, error) {
	rows, err := r.db.WithContext(ctx).Model(&entity.Transaction{}).
		Select("type, COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Group("type").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]decimal.Decimal)
	for rows.Next() {
		var txType string
		var sum decimal.Decimal
		if err := rows.Scan(&txType, &sum); err != nil {
			return nil, err
		}
		sums[txType] = sum
	}

	return sums, rows.Err()
}

// WithTransaction выполняет функцию в транзакции базы данных
func (r *BalanceRepositoryImpl) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}
