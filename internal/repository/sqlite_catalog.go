package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/shopbot/internal/model"
)

// CreateCategory сохраняет категорию и заполняет её ID и CreatedAt.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, c *model.Category) error {
	c.CreatedAt = time.Now().UTC()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO categories (name, description, is_active, position, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`,
		c.Name, c.Description, c.Active, c.Position, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

const sqliteCategoryColumns = `id, name, description, is_active, position, created_at`

// GetCategory возвращает категорию по идентификатору.
func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64) (*model.Category, error) {
	var c model.Category
	err := r.db.QueryRowContext(ctx, `SELECT `+sqliteCategoryColumns+` FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.Active, &c.Position, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// ListCategories возвращает категории в порядке отображения.
func (r *SQLiteRepository) ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteCategoryColumns+` FROM categories
		 WHERE is_active = 1 OR ? = 0
		 ORDER BY position, name, id`,
		activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	var res []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Active, &c.Position, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpdateCategory применяет патч к категории.
func (r *SQLiteRepository) UpdateCategory(ctx context.Context, id int64, patch model.CategoryPatch) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE categories SET
			name = COALESCE(?, name),
			description = COALESCE(?, description),
			is_active = COALESCE(?, is_active),
			position = COALESCE(?, position)
		 WHERE id = ?`,
		patch.Name, patch.Description, patch.Active, patch.Position, id,
	)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return requireAffected(res, ErrCategoryNotFound)
}

// DeleteCategory удаляет пустую категорию.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var products int64
	err = tx.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM products WHERE category_id = c.id) FROM categories c WHERE c.id = ?`,
		id,
	).Scan(&products)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("count products: %w", err)
	}
	if products > 0 {
		return ErrCategoryNotEmpty
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		if isForeignKeyViolation(err) {
			return ErrCategoryNotEmpty
		}
		return fmt.Errorf("delete category: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateProduct сохраняет товар с нулевым остатком и заполняет его ID и CreatedAt.
func (r *SQLiteRepository) CreateProduct(ctx context.Context, p *model.Product) error {
	priceCents, err := model.ToCents(p.Price)
	if err != nil {
		return err
	}

	p.StockCount = 0
	p.CreatedAt = time.Now().UTC()
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO products (category_id, name, description, price_cents, is_active, position, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		p.CategoryID, p.Name, p.Description, priceCents, p.Active, p.Position, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

const sqliteProductSelect = `SELECT p.id, p.category_id, COALESCE(c.name, ''), p.name, p.description,
	p.price_cents, p.stock_count, p.is_active, p.position, p.created_at
	FROM products p LEFT JOIN categories c ON c.id = p.category_id`

// GetProduct возвращает товар по идентификатору вместе с названием категории.
func (r *SQLiteRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, sqliteProductSelect+` WHERE p.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProducts возвращает товары по фильтру в порядке отображения.
func (r *SQLiteRepository) ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		sqliteProductSelect+`
		 WHERE (? IS NULL OR p.category_id = ?)
		   AND (? = 0 OR (p.is_active = 1 AND c.is_active = 1))
		 ORDER BY p.position, p.id`,
		filter.CategoryID, filter.CategoryID, filter.ActiveOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpdateProduct применяет патч к товару. Остаток патчем не меняется.
func (r *SQLiteRepository) UpdateProduct(ctx context.Context, id int64, patch model.ProductPatch) error {
	var priceCents *int64
	if patch.Price != nil {
		c, err := model.ToCents(*patch.Price)
		if err != nil {
			return err
		}
		priceCents = &c
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET
			category_id = COALESCE(?, category_id),
			name = COALESCE(?, name),
			description = COALESCE(?, description),
			price_cents = COALESCE(?, price_cents),
			is_active = COALESCE(?, is_active),
			position = COALESCE(?, position)
		 WHERE id = ?`,
		patch.CategoryID, patch.Name, patch.Description, priceCents, patch.Active, patch.Position, id,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("update product: %w", err)
	}
	return requireAffected(res, ErrProductNotFound)
}

// DeleteProduct удаляет товар вместе со всеми его единицами.
func (r *SQLiteRepository) DeleteProduct(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return requireAffected(res, ErrProductNotFound)
}

// AddProductItems добавляет единицы товара и пересчитывает остаток в одной транзакции.
func (r *SQLiteRepository) AddProductItems(ctx context.Context, productID int64, payloads []string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = ?`, productID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("select product: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO product_items (product_id, payload, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, payload := range payloads {
		if _, err := stmt.ExecContext(ctx, productID, payload, now); err != nil {
			return 0, fmt.Errorf("insert product item: %w", err)
		}
	}

	stock, err := recomputeStockSQLite(ctx, tx, productID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return stock, nil
}

func recomputeStockSQLite(ctx context.Context, q sqlQuerier, productID int64) (int, error) {
	var stock int
	err := q.QueryRowContext(ctx,
		`UPDATE products
		 SET stock_count = (SELECT COUNT(*) FROM product_items WHERE product_id = ? AND is_sold = 0)
		 WHERE id = ?
		 RETURNING stock_count`,
		productID, productID,
	).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("recompute stock: %w", err)
	}
	return stock, nil
}

// RecomputeStock пересчитывает остаток одного товара.
func (r *SQLiteRepository) RecomputeStock(ctx context.Context, productID int64) (int, error) {
	return recomputeStockSQLite(ctx, r.db, productID)
}

// ReconcileStock исправляет остатки всех товаров и возвращает найденные расхождения.
func (r *SQLiteRepository) ReconcileStock(ctx context.Context) ([]model.StockDrift, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, cached, actual FROM (
			SELECT p.id AS id, p.stock_count AS cached,
				(SELECT COUNT(*) FROM product_items i WHERE i.product_id = p.id AND i.is_sold = 0) AS actual
			FROM products p
		 ) WHERE cached <> actual
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select drift: %w", err)
	}

	var drifts []model.StockDrift
	for rows.Next() {
		var d model.StockDrift
		if err := rows.Scan(&d.ProductID, &d.Cached, &d.Actual); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan drift: %w", err)
		}
		drifts = append(drifts, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, d := range drifts {
		if _, err := tx.ExecContext(ctx, `UPDATE products SET stock_count = ? WHERE id = ?`, d.Actual, d.ProductID); err != nil {
			return nil, fmt.Errorf("fix stock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return drifts, nil
}
