package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmeshcher/shopbot/internal/model"
)

// Purchase атомарно продаёт одну единицу товара пользователю.
// BEGIN IMMEDIATE берёт блокировку записи до первого чтения, поэтому проверки и списание
// видят одно и то же состояние.
func (r *SQLiteRepository) Purchase(ctx context.Context, userID, productID int64) (*model.Purchase, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		productName string
		priceCents  int64
		active      bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT name, price_cents, is_active FROM products WHERE id = ?`,
		productID,
	).Scan(&productName, &priceCents, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("select product: %w", err)
	}
	if !active {
		return nil, ErrProductNotFound
	}

	var (
		balanceCents int64
		blocked      bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT balance_cents, is_blocked FROM users WHERE id = ?`,
		userID,
	).Scan(&balanceCents, &blocked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	if blocked {
		return nil, ErrUserBlocked
	}
	if balanceCents < priceCents {
		return nil, &InsufficientBalanceError{
			Needed: model.FromCents(priceCents),
			Have:   model.FromCents(balanceCents),
		}
	}

	now := time.Now().UTC()
	var (
		itemID  int64
		payload string
	)
	err = tx.QueryRowContext(ctx,
		`UPDATE product_items SET is_sold = 1, sold_to = ?, sold_at = ?
		 WHERE id = (
			SELECT id FROM product_items
			WHERE product_id = ? AND is_sold = 0
			ORDER BY id
			LIMIT 1
		 )
		 RETURNING id, payload`,
		userID, now, productID,
	).Scan(&itemID, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoUnsoldItem
		}
		return nil, fmt.Errorf("claim product item: %w", err)
	}

	var newBalanceCents int64
	err = tx.QueryRowContext(ctx,
		`UPDATE users SET balance_cents = balance_cents - ?, purchases_count = purchases_count + 1
		 WHERE id = ? RETURNING balance_cents`,
		priceCents, userID,
	).Scan(&newBalanceCents)
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}

	if _, err := recomputeStockSQLite(ctx, tx, productID); err != nil {
		return nil, err
	}

	var orderID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, product_name, amount_cents, status, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`,
		userID, productName, priceCents, string(model.OrderStatusCompleted), now,
	).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.Purchase{
		OrderID:     orderID,
		ItemID:      itemID,
		ProductID:   productID,
		ProductName: productName,
		Payload:     payload,
		Charged:     model.FromCents(priceCents),
		Balance:     model.FromCents(newBalanceCents),
		PurchasedAt: now,
	}, nil
}

// GetOrdersByUser возвращает последние заказы пользователя, новые первыми.
func (r *SQLiteRepository) GetOrdersByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, product_name, amount_cents, status, created_at
		 FROM orders
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var (
			o           model.Order
			amountCents int64
			status      string
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.ProductName, &amountCents, &status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Amount = model.FromCents(amountCents)
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return orders, nil
}

// CreatePayment сохраняет заявку на пополнение.
func (r *SQLiteRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	amountCents, err := model.ToCents(p.Amount)
	if err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO payments (id, user_id, amount_cents, method, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.UserID, amountCents, p.Method, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetPaymentsByUser возвращает заявки на пополнение пользователя, новые первыми.
func (r *SQLiteRepository) GetPaymentsByUser(ctx context.Context, userID int64, limit int) ([]model.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, amount_cents, method, status, created_at
		 FROM payments
		 WHERE user_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var (
			p           model.Payment
			id          string
			amountCents int64
			status      string
		)
		if err := rows.Scan(&id, &p.UserID, &amountCents, &p.Method, &status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse payment id: %w", err)
		}
		p.Amount = model.FromCents(amountCents)
		p.Status = model.PaymentStatus(status)
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return payments, nil
}

// SetPaymentStatus закрывает заявку со статусом pending. Завершённая заявка
// зачисляет сумму на баланс пользователя в той же транзакции.
func (r *SQLiteRepository) SetPaymentStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) (*model.Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		p           = model.Payment{ID: id}
		amountCents int64
		current     string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, amount_cents, method, status, created_at FROM payments WHERE id = ?`,
		id.String(),
	).Scan(&p.UserID, &amountCents, &p.Method, &current, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("select payment: %w", err)
	}
	if model.PaymentStatus(current) != model.PaymentStatusPending {
		return nil, ErrPaymentNotPending
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = ? WHERE id = ?`,
		string(status), id.String(),
	); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}

	if status == model.PaymentStatusCompleted {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET balance_cents = balance_cents + ? WHERE id = ?`,
			amountCents, p.UserID,
		); err != nil {
			return nil, fmt.Errorf("credit balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	p.Amount = model.FromCents(amountCents)
	p.Status = status
	return &p, nil
}
