package repo

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/director74/bet_integration/internal/entity"
)

// BetRepository интерфейс репозитория для работы со ставками
type BetRepository interface {
	Create(ctx context.Context, bet *entity.Bet) error
	CreateTx(tx *gorm.DB, bet *entity.Bet) error
	UpdateTx(tx *gorm.DB, bet *entity.Bet) error
	GetByID(ctx context.Context, id uint) (*entity.Bet, error)
	ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]entity.Bet, int64, error)
	ListPending(ctx context.Context, limit int) ([]entity.Bet, error)
	GetUserStats(ctx context.Context, userID uint) (entity.BetStats, error)
}

// ErrBetNotFound ошибка, когда ставка не найдена
var ErrBetNotFound = errors.New("ставка не найдена")

// BetRepositoryImpl реализация репозитория ставок на GORM
type BetRepositoryImpl struct {
	db *gorm.DB
}

func NewBetRepository(db *gorm.DB) BetRepository {
	return &BetRepositoryImpl{
		db: db,
	}
}

func (r *BetRepositoryImpl) Create(ctx context.Context, bet *entity.Bet) error {
	return r.db.WithContext(ctx).Create(bet).Error
}

// CreateTx создает ставку внутри открытой транзакции базы данных
func (r *BetRepositoryImpl) CreateTx(tx *gorm.DB, bet *entity.Bet) error {
	return tx.Create(bet).Error
}

// UpdateTx обновляет ставку внутри открытой транзакции базы данных
func (r *BetRepositoryImpl) UpdateTx(tx *gorm.DB, bet *entity.Bet) error {
	return tx.Save(bet).Error
}

func (r *BetRepositoryImpl) GetByID(ctx context.Context, id uint) (*entity.Bet, error) {
	var bet entity.Bet
	result := r.db.WithContext(ctx).First(&bet, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrBetNotFound
		}
		return nil, result.Error
	}
	return &bet, nil
}

func (r *BetRepositoryImpl) ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]entity.Bet, int64, error) {
	var bets []entity.Bet
	var total int64

	r.db.WithContext(ctx).Model(&entity.Bet{}).Where("user_id = ?", userID).Count(&total)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(limit).Offset(offset).
		Order("created_at DESC").
		Find(&bets).Error

	return bets, total, err
}

// ListPending возвращает ставки, застрявшие в статусе pending, для фоновой досверки
func (r *BetRepositoryImpl) ListPending(ctx context.Context, limit int) ([]entity.Bet, error) {
	var bets []entity.Bet
	err := r.db.WithContext(ctx).
		Where("status = ?", entity.BetStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&bets).Error
	return bets, err
}

// GetUserStats считает агрегированную статистику ставок пользователя
func (r *BetRepositoryImpl) GetUserStats(ctx context.Context, userID uint) (entity.BetStats, error) {
	var stats entity.BetStats

	row := r.db.WithContext(ctx).Model(&entity.Bet{}).
		Select("COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(win_amount), 0)").
		Where("user_id = ?", userID).
		Row()

	var totalWagered, totalWon decimal.Decimal
	if err := row.Scan(&stats.TotalBets, &totalWagered, &totalWon); err != nil {
		return entity.BetStats{}, err
	}
	stats.TotalWagered = totalWagered
	stats.TotalWon = totalWon

	return stats, nil
}
