package bag

import "github.com/shopspring/decimal"

// MinorUnits переводит денежную сумму в минимальные единицы валюты.
// Округление банковское (до чётного) — так же округляет платёжный провайдер.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).RoundBank(0).IntPart()
}

// FromMinorUnits восстанавливает денежную сумму из минимальных единиц валюты.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
