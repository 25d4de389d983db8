// Package model содержит доменные сущности витрины цифровых товаров.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
)

// User представляет покупателя. Идентификатор назначается мессенджером.
type User struct {
	ID             int64
	FirstName      string
	Username       *string
	Balance        decimal.Decimal
	PurchasesCount int64
	Blocked        bool
	CreatedAt      time.Time
}

// Category описывает раздел каталога.
type Category struct {
	ID          int64
	Name        string
	Description string
	Active      bool
	Position    int
	CreatedAt   time.Time
}

// Product описывает товар. StockCount хранит кэш количества непроданных единиц.
type Product struct {
	ID           int64
	CategoryID   int64
	CategoryName string
	Name         string
	Description  string
	Price        decimal.Decimal
	StockCount   int
	Active       bool
	Position     int
	CreatedAt    time.Time
}

// ProductItem описывает одну единицу цифрового товара. Переход в проданное состояние необратим.
type ProductItem struct {
	ID        int64
	ProductID int64
	Payload   string
	Sold      bool
	SoldTo    *int64
	SoldAt    *time.Time
	CreatedAt time.Time
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusCompleted OrderStatus = "completed"
)

// Order описывает запись журнала покупок. Название товара хранится как снимок на момент покупки.
type Order struct {
	ID          int64
	UserID      int64
	ProductName string
	Amount      decimal.Decimal
	Status      OrderStatus
	CreatedAt   time.Time
}

// PaymentStatus описывает статус заявки на пополнение.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Payment описывает заявку на пополнение баланса.
type Payment struct {
	ID        uuid.UUID
	UserID    int64
	Amount    decimal.Decimal
	Method    string
	Status    PaymentStatus
	CreatedAt time.Time
}

// Purchase содержит результат успешной покупки.
// Payload предназначен только покупателю и не должен попадать в логи.
type Purchase struct {
	OrderID     int64
	ItemID      int64
	ProductID   int64
	ProductName string
	Payload     string
	Charged     decimal.Decimal
	Balance     decimal.Decimal
	PurchasedAt time.Time
}

// MarshalLogObject пишет покупку в лог без содержимого товара.
func (p Purchase) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("order_id", p.OrderID)
	enc.AddInt64("item_id", p.ItemID)
	enc.AddInt64("product_id", p.ProductID)
	enc.AddString("product_name", p.ProductName)
	enc.AddString("charged", p.Charged.StringFixed(2))
	enc.AddString("balance", p.Balance.StringFixed(2))
	return nil
}

// StockDrift описывает расхождение кэша остатка с фактическим количеством единиц.
type StockDrift struct {
	ProductID int64
	Cached    int
	Actual    int
}

// Statistics содержит сводку для администратора.
type Statistics struct {
	UsersCount       int64           `json:"users_count"`
	OrdersCount      int64           `json:"orders_count"`
	Revenue          decimal.Decimal `json:"revenue"`
	ActiveCategories int64           `json:"active_categories"`
	ActiveProducts   int64           `json:"active_products"`
	ItemsInStock     int64           `json:"items_in_stock"`
}
