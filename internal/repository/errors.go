// Package repository содержит реализации хранилища магазина в PostgreSQL и SQLite.
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserBlocked возвращается при попытке покупки заблокированным пользователем.
	ErrUserBlocked = errors.New("user is blocked")
	// ErrCategoryNotFound возвращается, если категория не найдена.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrCategoryNotEmpty возвращается при удалении категории, в которой остались товары.
	ErrCategoryNotEmpty = errors.New("category still has products")
	// ErrProductNotFound возвращается, если товар не найден или снят с продажи.
	ErrProductNotFound = errors.New("product not found")
	// ErrNoUnsoldItem возвращается, если у товара не осталось непроданных единиц.
	ErrNoUnsoldItem = errors.New("no unsold product item")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPaymentNotFound возвращается, если заявка на пополнение не найдена.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentNotPending возвращается при смене статуса уже закрытой заявки.
	ErrPaymentNotPending = errors.New("payment is not pending")
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern строит шаблон LIKE для поиска подстроки с экранированием символом \.
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

// rowScanner покрывает pgx.Row, pgx.Rows, *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// InsufficientBalanceError уточняет ErrInsufficientBalance суммами, видимыми внутри транзакции.
type InsufficientBalanceError struct {
	Needed decimal.Decimal
	Have   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s, have %s", e.Needed.StringFixed(2), e.Have.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
