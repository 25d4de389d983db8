package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/validation"
	"go.uber.org/zap"
)

const keyActiveCategories = "categories"

func keyCategoryProducts(categoryID int64) string {
	return fmt.Sprintf("categories:%d:products", categoryID)
}

func keyProduct(id int64) string {
	return fmt.Sprintf("products:%d", id)
}

// cached читает key из кэша, а при промахе вызывает load и кладёт результат в кэш.
// Ошибки кэша не прерывают чтение.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	if s.cache == nil {
		return load()
	}

	var v T
	found, err := s.cache.Get(ctx, key, &v)
	if err != nil {
		s.logger.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		return v, nil
	}

	v, err = load()
	if err != nil {
		return v, err
	}
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.logger.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePattern(ctx, "*"); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}

// ListCategories возвращает категории. Активные категории читаются через кэш.
func (s *Service) ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	if !activeOnly {
		return s.repo.ListCategories(ctx, false)
	}
	return cached(ctx, s, keyActiveCategories, func() ([]model.Category, error) {
		return s.repo.ListCategories(ctx, true)
	})
}

// GetCategory возвращает категорию.
func (s *Service) GetCategory(ctx context.Context, id int64) (*model.Category, error) {
	return s.repo.GetCategory(ctx, id)
}

// CreateCategory создаёт категорию.
func (s *Service) CreateCategory(ctx context.Context, name, description string, active bool, position int) (*model.Category, error) {
	name, err := validation.Name(name)
	if err != nil {
		return nil, invalid(err)
	}

	c := &model.Category{Name: name, Description: description, Active: active, Position: position}
	if err := s.repo.CreateCategory(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("category created", zap.Int64("category_id", c.ID), zap.String("name", c.Name))
	s.invalidateCatalog(ctx)
	return c, nil
}

// UpdateCategory применяет патч к категории.
func (s *Service) UpdateCategory(ctx context.Context, id int64, patch model.CategoryPatch) error {
	if patch.IsEmpty() {
		return invalid(errors.New("nothing to update"))
	}
	if patch.Name != nil {
		name, err := validation.Name(*patch.Name)
		if err != nil {
			return invalid(err)
		}
		patch.Name = &name
	}

	if err := s.repo.UpdateCategory(ctx, id, patch); err != nil {
		return err
	}
	s.invalidateCatalog(ctx)
	return nil
}

// DeleteCategory удаляет категорию без товаров.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logger.Info("category deleted", zap.Int64("category_id", id))
	s.invalidateCatalog(ctx)
	return nil
}

// ListProducts возвращает товары. Активные товары категории читаются через кэш.
func (s *Service) ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	if !filter.ActiveOnly || filter.CategoryID == nil {
		return s.repo.ListProducts(ctx, filter)
	}
	return cached(ctx, s, keyCategoryProducts(*filter.CategoryID), func() ([]model.Product, error) {
		return s.repo.ListProducts(ctx, filter)
	})
}

// GetProduct возвращает товар через кэш. Остаток в ответе может немного отставать.
func (s *Service) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return cached(ctx, s, keyProduct(id), func() (*model.Product, error) {
		return s.repo.GetProduct(ctx, id)
	})
}

// CreateProduct создаёт товар с нулевым остатком.
func (s *Service) CreateProduct(ctx context.Context, p *model.Product) error {
	name, err := validation.Name(p.Name)
	if err != nil {
		return invalid(err)
	}
	p.Name = name
	if err := validation.PositiveAmount(p.Price); err != nil {
		return invalid(err)
	}

	if err := s.repo.CreateProduct(ctx, p); err != nil {
		return err
	}

	s.logger.Info("product created",
		zap.Int64("product_id", p.ID),
		zap.Int64("category_id", p.CategoryID),
		zap.String("price", p.Price.StringFixed(2)),
	)
	s.invalidateCatalog(ctx)
	return nil
}

// UpdateProduct применяет патч к товару.
func (s *Service) UpdateProduct(ctx context.Context, id int64, patch model.ProductPatch) error {
	if patch.IsEmpty() {
		return invalid(errors.New("nothing to update"))
	}
	if patch.Name != nil {
		name, err := validation.Name(*patch.Name)
		if err != nil {
			return invalid(err)
		}
		patch.Name = &name
	}
	if patch.Price != nil {
		if err := validation.PositiveAmount(*patch.Price); err != nil {
			return invalid(err)
		}
	}

	if err := s.repo.UpdateProduct(ctx, id, patch); err != nil {
		return err
	}
	s.invalidateCatalog(ctx)
	return nil
}

// DeleteProduct удаляет товар вместе с его единицами.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logger.Info("product deleted", zap.Int64("product_id", id))
	s.invalidateCatalog(ctx)
	return nil
}

// AddProductItems загружает единицы товара из текста, по одной на непустую строку.
// Возвращает число добавленных единиц и новый остаток.
func (s *Service) AddProductItems(ctx context.Context, productID int64, text string) (int, int, error) {
	payloads := validation.ParseItemLines(text)
	if len(payloads) == 0 {
		return 0, 0, invalid(errors.New("no items in input"))
	}

	stock, err := s.repo.AddProductItems(ctx, productID, payloads)
	if err != nil {
		return 0, 0, err
	}

	s.logger.Info("product items added",
		zap.Int64("product_id", productID),
		zap.Int("added", len(payloads)),
		zap.Int("stock", stock),
	)
	s.invalidateCatalog(ctx)
	return len(payloads), stock, nil
}

// RecomputeStock пересчитывает остаток товара.
func (s *Service) RecomputeStock(ctx context.Context, productID int64) (int, error) {
	stock, err := s.repo.RecomputeStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	s.invalidateCatalog(ctx)
	return stock, nil
}

// ReconcileStock сверяет остатки всех товаров и исправляет расхождения.
func (s *Service) ReconcileStock(ctx context.Context) ([]model.StockDrift, error) {
	drifts, err := s.repo.ReconcileStock(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range drifts {
		s.logger.Warn("stock drift fixed",
			zap.Int64("product_id", d.ProductID),
			zap.Int("cached", d.Cached),
			zap.Int("actual", d.Actual),
		)
	}
	if len(drifts) > 0 {
		s.invalidateCatalog(ctx)
	}
	return drifts, nil
}
