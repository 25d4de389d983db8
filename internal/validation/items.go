// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MaxNameLength ограничивает длину названий категорий и товаров в символах.
const MaxNameLength = 128

// MaxAmount ограничивает модуль любой суммы: цены, пополнения или изменения баланса.
var MaxAmount = decimal.NewFromInt(1_000_000_000)

var (
	// ErrEmptyName возвращается для пустого названия.
	ErrEmptyName = errors.New("name must not be empty")
	// ErrNameTooLong возвращается для названия длиннее MaxNameLength.
	ErrNameTooLong = errors.New("name is too long")
	// ErrNonPositiveAmount возвращается для нулевой или отрицательной суммы.
	ErrNonPositiveAmount = errors.New("amount must be positive")
	// ErrAmountPrecision возвращается для суммы с точностью больше копейки.
	ErrAmountPrecision = errors.New("amount must have at most 2 decimal places")
	// ErrAmountTooLarge возвращается для суммы, по модулю большей MaxAmount.
	ErrAmountTooLarge = errors.New("amount is too large")
)

// ParseItemLines разбивает текст на содержимое единиц товара: каждая непустая строка даёт одну единицу.
// Пробелы по краям строки отбрасываются, повторы сохраняются.
func ParseItemLines(text string) []string {
	lines := strings.Split(text, "\n")
	items := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, line)
	}
	return items
}

// Name проверяет название и возвращает его без пробелов по краям.
func Name(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// Amount проверяет, что сумма выражается целым числом копеек и не превышает MaxAmount по модулю.
func Amount(amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(2)) {
		return ErrAmountPrecision
	}
	if amount.Abs().GreaterThan(MaxAmount) {
		return ErrAmountTooLarge
	}
	return nil
}

// PositiveAmount проверяет, что сумма больше нуля и проходит Amount.
func PositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return Amount(amount)
}
