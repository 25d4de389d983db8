package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/shopspring/decimal"
)

// SQLiteRepository хранит данные магазина в файле SQLite.
// Пишущие транзакции открываются как BEGIN IMMEDIATE, поэтому писатели строго сериализованы.
type SQLiteRepository struct {
	db *sql.DB
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLiteRepository открывает файл БД (или ":memory:") и применяет миграции.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
	}

	dsn := path + "?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000"
	if !memory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// каждое соединение к :memory: видит собственную пустую БД
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, db, "sqlite3", "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// Ping проверяет доступность БД.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close закрывает БД.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// UpsertUser регистрирует пользователя или обновляет его имя. Возвращает true, если запись создана.
func (r *SQLiteRepository) UpsertUser(ctx context.Context, id int64, firstName string, username *string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, first_name, username, created_at) VALUES (?, ?, ?, ?)`,
		id, firstName, username, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if inserted == 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET first_name = ?, username = ? WHERE id = ?`,
			firstName, username, id,
		)
		if err != nil {
			return false, fmt.Errorf("update user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return inserted == 1, nil
}

const sqliteUserColumns = `id, first_name, username, balance_cents, purchases_count, is_blocked, created_at`

// GetUser возвращает пользователя по идентификатору.
func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) queryUsers(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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
func (r *SQLiteRepository) ListUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	return r.queryUsers(ctx,
		`SELECT `+sqliteUserColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
}

// SearchUsers ищет пользователей по идентификатору, имени или username.
// LIKE в SQLite не различает регистр только для ASCII, поэтому кириллица ищется с учётом регистра.
func (r *SQLiteRepository) SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	query = strings.TrimPrefix(strings.TrimSpace(query), "@")
	if id, err := strconv.ParseInt(query, 10, 64); err == nil {
		return r.queryUsers(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
	}

	pattern := containsPattern(query)
	return r.queryUsers(ctx,
		`SELECT `+sqliteUserColumns+` FROM users
		 WHERE username LIKE ? ESCAPE '\' OR first_name LIKE ? ESCAPE '\'
		 ORDER BY id LIMIT ?`,
		pattern, pattern, limit,
	)
}

// CountUsers возвращает число зарегистрированных пользователей.
func (r *SQLiteRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// ListUserIDs возвращает идентификаторы пользователей после afterID по возрастанию.
func (r *SQLiteRepository) ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}

// SetUserBlocked устанавливает признак блокировки пользователя.
func (r *SQLiteRepository) SetUserBlocked(ctx context.Context, id int64, blocked bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_blocked = ? WHERE id = ?`, blocked, id)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(res, ErrUserNotFound)
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// AdjustBalance изменяет баланс на delta и возвращает новое значение.
func (r *SQLiteRepository) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	deltaCents, err := model.ToCents(delta)
	if err != nil {
		return decimal.Zero, err
	}

	var balanceCents int64
	err = r.db.QueryRowContext(ctx,
		`UPDATE users SET balance_cents = balance_cents + ? WHERE id = ? RETURNING balance_cents`,
		deltaCents, id,
	).Scan(&balanceCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("adjust balance: %w", err)
	}
	return model.FromCents(balanceCents), nil
}

// GetSetting возвращает значение настройки и признак её наличия.
func (r *SQLiteRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}

// SetSetting сохраняет значение настройки, перезаписывая прежнее.
func (r *SQLiteRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// SetSettingIfAbsent сохраняет значение, только если ключа ещё нет.
func (r *SQLiteRepository) SetSettingIfAbsent(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("init setting: %w", err)
	}
	return nil
}

// GetStatistics собирает сводку по магазину.
func (r *SQLiteRepository) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	var (
		s            model.Statistics
		revenueCents int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM orders),
			(SELECT COALESCE(SUM(amount_cents), 0) FROM orders WHERE status = ?),
			(SELECT COUNT(*) FROM categories WHERE is_active = 1),
			(SELECT COUNT(*) FROM products WHERE is_active = 1),
			(SELECT COUNT(*) FROM product_items WHERE is_sold = 0)`,
		string(model.OrderStatusCompleted),
	).Scan(&s.UsersCount, &s.OrdersCount, &revenueCents, &s.ActiveCategories, &s.ActiveProducts, &s.ItemsInStock)
	if err != nil {
		return nil, fmt.Errorf("get statistics: %w", err)
	}
	s.Revenue = model.FromCents(revenueCents)
	return &s, nil
}
