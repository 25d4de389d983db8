package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/shopbot/internal/model"
)

// CreateCategory сохраняет категорию и заполняет её ID и CreatedAt.
func (r *PostgresRepository) CreateCategory(ctx context.Context, c *model.Category) error {
	c.CreatedAt = time.Now().UTC()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (name, description, is_active, position, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		c.Name, c.Description, c.Active, c.Position, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

const pgCategoryColumns = `id, name, description, is_active, position, created_at`

// GetCategory возвращает категорию по идентификатору.
func (r *PostgresRepository) GetCategory(ctx context.Context, id int64) (*model.Category, error) {
	var c model.Category
	err := r.pool.QueryRow(ctx, `SELECT `+pgCategoryColumns+` FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.Active, &c.Position, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// ListCategories возвращает категории в порядке отображения.
func (r *PostgresRepository) ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+pgCategoryColumns+` FROM categories
		 WHERE is_active OR NOT $1
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
func (r *PostgresRepository) UpdateCategory(ctx context.Context, id int64, patch model.CategoryPatch) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE categories SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			is_active = COALESCE($4, is_active),
			position = COALESCE($5, position)
		 WHERE id = $1`,
		id, patch.Name, patch.Description, patch.Active, patch.Position,
	)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

// DeleteCategory удаляет пустую категорию. Блокировка строки сериализует удаление с вставкой товаров.
func (r *PostgresRepository) DeleteCategory(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM categories WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("lock category: %w", err)
	}

	var products int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE category_id = $1`, id).Scan(&products); err != nil {
		return fmt.Errorf("count products: %w", err)
	}
	if products > 0 {
		return ErrCategoryNotEmpty
	}

	if _, err := tx.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id); err != nil {
		if isPgCode(err, pgerrcode.ForeignKeyViolation) || isPgCode(err, pgerrcode.RestrictViolation) {
			return ErrCategoryNotEmpty
		}
		return fmt.Errorf("delete category: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateProduct сохраняет товар с нулевым остатком и заполняет его ID и CreatedAt.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) error {
	priceCents, err := model.ToCents(p.Price)
	if err != nil {
		return err
	}

	p.StockCount = 0
	p.CreatedAt = time.Now().UTC()
	err = r.pool.QueryRow(ctx,
		`INSERT INTO products (category_id, name, description, price_cents, is_active, position, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.CategoryID, p.Name, p.Description, priceCents, p.Active, p.Position, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if isPgCode(err, pgerrcode.ForeignKeyViolation) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

const pgProductSelect = `SELECT p.id, p.category_id, COALESCE(c.name, ''), p.name, p.description,
	p.price_cents, p.stock_count, p.is_active, p.position, p.created_at
	FROM products p LEFT JOIN categories c ON c.id = p.category_id`

func scanProduct(row rowScanner) (*model.Product, error) {
	var (
		p          model.Product
		priceCents int64
	)
	err := row.Scan(&p.ID, &p.CategoryID, &p.CategoryName, &p.Name, &p.Description,
		&priceCents, &p.StockCount, &p.Active, &p.Position, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Price = model.FromCents(priceCents)
	return &p, nil
}

// GetProduct возвращает товар по идентификатору вместе с названием категории.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, pgProductSelect+` WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProducts возвращает товары по фильтру в порядке отображения.
func (r *PostgresRepository) ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		pgProductSelect+`
		 WHERE ($1::BIGINT IS NULL OR p.category_id = $1)
		   AND (NOT $2 OR (p.is_active AND c.is_active))
		 ORDER BY p.position, p.id`,
		filter.CategoryID, filter.ActiveOnly,
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
func (r *PostgresRepository) UpdateProduct(ctx context.Context, id int64, patch model.ProductPatch) error {
	var priceCents *int64
	if patch.Price != nil {
		c, err := model.ToCents(*patch.Price)
		if err != nil {
			return err
		}
		priceCents = &c
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET
			category_id = COALESCE($2, category_id),
			name = COALESCE($3, name),
			description = COALESCE($4, description),
			price_cents = COALESCE($5, price_cents),
			is_active = COALESCE($6, is_active),
			position = COALESCE($7, position)
		 WHERE id = $1`,
		id, patch.CategoryID, patch.Name, patch.Description, priceCents, patch.Active, patch.Position,
	)
	if err != nil {
		if isPgCode(err, pgerrcode.ForeignKeyViolation) {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DeleteProduct удаляет товар вместе со всеми его единицами.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// AddProductItems добавляет единицы товара и пересчитывает остаток в одной транзакции.
func (r *PostgresRepository) AddProductItems(ctx context.Context, productID int64, payloads []string) (int, error) {
	var stock int
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var locked int64
		err = tx.QueryRow(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProductNotFound
			}
			return fmt.Errorf("lock product: %w", err)
		}

		now := time.Now().UTC()
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"product_items"},
			[]string{"product_id", "payload", "created_at"},
			pgx.CopyFromSlice(len(payloads), func(i int) ([]any, error) {
				return []any{productID, payloads[i], now}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy product items: %w", err)
		}

		stock, err = recomputeStockPg(ctx, tx, productID)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stock, nil
}

// recomputeStockPg выставляет stock_count равным числу непроданных единиц.
func recomputeStockPg(ctx context.Context, q pgQuerier, productID int64) (int, error) {
	var stock int
	err := q.QueryRow(ctx,
		`UPDATE products
		 SET stock_count = (SELECT COUNT(*) FROM product_items WHERE product_id = $1 AND NOT is_sold)
		 WHERE id = $1
		 RETURNING stock_count`,
		productID,
	).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("recompute stock: %w", err)
	}
	return stock, nil
}

// RecomputeStock пересчитывает остаток одного товара.
func (r *PostgresRepository) RecomputeStock(ctx context.Context, productID int64) (int, error) {
	return recomputeStockPg(ctx, r.pool, productID)
}

// ReconcileStock исправляет остатки всех товаров и возвращает найденные расхождения.
func (r *PostgresRepository) ReconcileStock(ctx context.Context) ([]model.StockDrift, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE products p
		 SET stock_count = a.actual
		 FROM (
			SELECT pr.id, pr.stock_count AS cached,
				(SELECT COUNT(*) FROM product_items i WHERE i.product_id = pr.id AND NOT i.is_sold) AS actual
			FROM products pr
		 ) a
		 WHERE p.id = a.id AND p.stock_count <> a.actual
		 RETURNING p.id, a.cached, a.actual`,
	)
	if err != nil {
		return nil, fmt.Errorf("reconcile stock: %w", err)
	}
	defer rows.Close()

	var drifts []model.StockDrift
	for rows.Next() {
		var d model.StockDrift
		if err := rows.Scan(&d.ProductID, &d.Cached, &d.Actual); err != nil {
			return nil, fmt.Errorf("scan drift: %w", err)
		}
		drifts = append(drifts, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return drifts, nil
}
