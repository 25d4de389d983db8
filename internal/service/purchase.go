package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/repository"
	"go.uber.org/zap"
)

// Purchase продаёт пользователю одну единицу товара.
//
// Проверки до транзакции дают быстрый отказ: товар активен, остаток положителен, пользователь
// не заблокирован и баланса хватает. Сама транзакция повторяет проверки под блокировками.
// Если по кэшу остатка товар есть, а свободной единицы нет, остаток пересчитывается
// и покупателю возвращается ErrOutOfStock.
func (s *Service) Purchase(ctx context.Context, userID, productID int64) (*model.Purchase, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, s.purchaseError(err, userID, productID)
	}
	if !product.Active {
		return nil, repository.ErrProductNotFound
	}
	if product.StockCount <= 0 {
		return nil, ErrOutOfStock
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, s.purchaseError(err, userID, productID)
	}
	if user.Blocked {
		return nil, ErrUserBlocked
	}
	if user.Balance.LessThan(product.Price) {
		return nil, &InsufficientFundsError{Needed: product.Price, Have: user.Balance}
	}

	purchase, err := s.repo.Purchase(ctx, userID, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNoUnsoldItem) {
			s.healStock(ctx, product)
			return nil, ErrOutOfStock
		}
		return nil, s.purchaseError(err, userID, productID)
	}

	s.logger.Info("purchase completed",
		zap.Int64("user_id", userID),
		zap.Object("purchase", purchase),
	)
	s.invalidateCatalog(ctx)

	return purchase, nil
}

func (s *Service) purchaseError(err error, userID, productID int64) error {
	var balanceErr *repository.InsufficientBalanceError
	switch {
	case errors.As(err, &balanceErr):
		return &InsufficientFundsError{Needed: balanceErr.Needed, Have: balanceErr.Have}
	case errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrUserBlocked):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.logger.Error("purchase failed",
			zap.Int64("user_id", userID),
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
}

// healStock исправляет остаток, который разошёлся с числом непроданных единиц.
func (s *Service) healStock(ctx context.Context, product *model.Product) {
	s.logger.Warn("invariant violation: stock count has no claimable item",
		zap.Int64("product_id", product.ID),
		zap.Int("cached_stock", product.StockCount),
	)

	stock, err := s.repo.RecomputeStock(ctx, product.ID)
	if err != nil {
		s.logger.Error("recompute stock failed", zap.Int64("product_id", product.ID), zap.Error(err))
		return
	}
	s.logger.Info("stock recomputed", zap.Int64("product_id", product.ID), zap.Int("stock", stock))
	s.invalidateCatalog(ctx)
}
