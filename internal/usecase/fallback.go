package usecase

import (
	"log"
	"math/rand"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Режимы поведения при недоступности внешнего API
const (
	FallbackModeStrict   = "strict"
	FallbackModeSimulate = "simulate"
)

// SettlementOutcome результат локального расчета ставки
type SettlementOutcome struct {
	BetID     string
	WinAmount decimal.Decimal
}

// SettlementPolicy определяет поведение при недоступности внешнего API:
// либо жесткий отказ, либо локальная симуляция расчета. Режимы никогда не
// смешиваются, выбор делается конфигурацией при старте.
type SettlementPolicy interface {
	// AllowDegraded сообщает, разрешено ли продолжать без внешнего API
	AllowDegraded() bool
	// Settle локально рассчитывает ставку заданной суммы
	Settle(amount decimal.Decimal) SettlementOutcome
}

// StrictPolicy запрещает деградацию: без подтверждения внешнего API ставка
// не принимается.
type StrictPolicy struct{}

func (StrictPolicy) AllowDegraded() bool { return false }

func (StrictPolicy) Settle(amount decimal.Decimal) SettlementOutcome {
	// Недостижимо при AllowDegraded() == false
	return SettlementOutcome{}
}

// SimulatedPolicy рассчитывает ставку локально: монетка 50/50, выигрыш равен
// удвоенной сумме ставки. Идентификатор помечается префиксом local-, чтобы
// симулированная ставка не выдавалась за подтвержденную внешним API.
type SimulatedPolicy struct{}

func (SimulatedPolicy) AllowDegraded() bool { return true }

func (SimulatedPolicy) Settle(amount decimal.Decimal) SettlementOutcome {
	outcome := SettlementOutcome{
		BetID: "local-" + uuid.NewString(),
	}
	if rand.Intn(2) == 1 {
		outcome.WinAmount = amount.Mul(decimal.NewFromInt(2))
	} else {
		outcome.WinAmount = decimal.Zero
	}
	return outcome
}

// NewSettlementPolicy выбирает политику по значению конфигурации. Неизвестный
// режим трактуется как strict.
func NewSettlementPolicy(mode string) SettlementPolicy {
	switch mode {
	case FallbackModeSimulate:
		return SimulatedPolicy{}
	case FallbackModeStrict:
		return StrictPolicy{}
	default:
		log.Printf("Неизвестный режим деградации %q, используется strict", mode)
		return StrictPolicy{}
	}
}
