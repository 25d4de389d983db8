package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/shopspring/decimal"
)

// PostgresRepository предоставляет доступ к хранилищу магазина в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// pgQuerier объединяет пул и транзакцию для запросов, которые выполняются в обоих контекстах.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := runMigrations(ctx, db, "postgres", "migrations/postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// withRetry повторяет fn при конфликте сериализации, дедлоке или обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delays[i]):
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// UpsertUser регистрирует пользователя или обновляет его имя. Возвращает true, если запись создана.
func (r *PostgresRepository) UpsertUser(ctx context.Context, id int64, firstName string, username *string) (bool, error) {
	var created bool
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, first_name, username, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, username = EXCLUDED.username
		 RETURNING (xmax = 0)`,
		id, firstName, username, time.Now().UTC(),
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert user: %w", err)
	}
	return created, nil
}

const pgUserColumns = `id, first_name, username, balance_cents, purchases_count, is_blocked, created_at`

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u            model.User
		balanceCents int64
	)
	if err := row.Scan(&u.ID, &u.FirstName, &u.Username, &balanceCents, &u.PurchasesCount, &u.Blocked, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Balance = model.FromCents(balanceCents)
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) queryUsers(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return users, nil
}

// ListUsers возвращает страницу пользователей, новые первыми.
func (r *PostgresRepository) ListUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	return r.queryUsers(ctx,
		`SELECT `+pgUserColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
}

// SearchUsers ищет пользователей по идентификатору, имени или username.
func (r *PostgresRepository) SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	query = strings.TrimPrefix(strings.TrimSpace(query), "@")
	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		return r.queryUsers(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id)
	}

	pattern := containsPattern(query)
	return r.queryUsers(ctx,
		`SELECT `+pgUserColumns+` FROM users
		 WHERE username ILIKE $1 ESCAPE '\' OR first_name ILIKE $1 ESCAPE '\'
		 ORDER BY id LIMIT $2`,
		pattern, limit,
	)
}

// CountUsers возвращает число зарегистрированных пользователей.
func (r *PostgresRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// ListUserIDs возвращает идентификаторы пользователей после afterID по возрастанию.
func (r *PostgresRepository) ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select user ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect user ids: %w", err)
	}
	return ids, nil
}

// SetUserBlocked устанавливает признак блокировки пользователя.
func (r *PostgresRepository) SetUserBlocked(ctx context.Context, id int64, blocked bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_blocked = $2 WHERE id = $1`, id, blocked)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AdjustBalance изменяет баланс на delta и возвращает новое значение.
func (r *PostgresRepository) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	deltaCents, err := model.ToCents(delta)
	if err != nil {
		return decimal.Zero, err
	}

	var balanceCents int64
	err = r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`UPDATE users SET balance_cents = balance_cents + $2 WHERE id = $1 RETURNING balance_cents`,
			id, deltaCents,
		).Scan(&balanceCents)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("adjust balance: %w", err)
	}
	return model.FromCents(balanceCents), nil
}

// GetSetting возвращает значение настройки и признак её наличия.
func (r *PostgresRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}

// SetSetting сохраняет значение настройки, перезаписывая прежнее.
func (r *PostgresRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// SetSettingIfAbsent сохраняет значение, только если ключа ещё нет.
func (r *PostgresRepository) SetSettingIfAbsent(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("init setting: %w", err)
	}
	return nil
}

// GetStatistics собирает сводку по магазину.
func (r *PostgresRepository) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	var (
		s            model.Statistics
		revenueCents int64
	)
	err := r.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM orders),
			(SELECT COALESCE(SUM(amount_cents), 0) FROM orders WHERE status = $1),
			(SELECT COUNT(*) FROM categories WHERE is_active),
			(SELECT COUNT(*) FROM products WHERE is_active),
			(SELECT COUNT(*) FROM product_items WHERE NOT is_sold)`,
		string(model.OrderStatusCompleted),
	).Scan(&s.UsersCount, &s.OrdersCount, &revenueCents, &s.ActiveCategories, &s.ActiveProducts, &s.ItemsInStock)
	if err != nil {
		return nil, fmt.Errorf("get statistics: %w", err)
	}
	s.Revenue = model.FromCents(revenueCents)
	return &s, nil
}
