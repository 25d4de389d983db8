package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount возвращается для сумм, которые не выражаются целым числом копеек в int64.
var ErrInvalidAmount = errors.New("invalid amount")

// ToCents переводит сумму в копейки.
func ToCents(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: more than 2 decimal places", ErrInvalidAmount)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return shifted.IntPart(), nil
}

// FromCents переводит копейки в сумму.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
