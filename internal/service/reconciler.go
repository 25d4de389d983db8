package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunStockReconciler периодически сверяет остатки товаров до отмены ctx.
// При нулевом интервале сразу возвращает nil.
func (s *Service) RunStockReconciler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			drifts, err := s.ReconcileStock(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("stock reconcile failed", zap.Error(err))
				continue
			}
			s.logger.Debug("stock reconciled", zap.Int("drifted", len(drifts)))
		}
	}
}
