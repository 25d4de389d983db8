package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/telegram"
	"github.com/mmeshcher/shopbot/internal/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	defaultPageSize     = 20
	searchLimit         = 50
)

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// RegisterUser регистрирует пользователя при первом обращении и обновляет имя при повторных.
func (s *Service) RegisterUser(ctx context.Context, id int64, firstName string, username *string) (*model.User, error) {
	if id <= 0 {
		return nil, invalid(errors.New("user id must be positive"))
	}
	if username != nil && *username == "" {
		username = nil
	}

	created, err := s.repo.UpsertUser(ctx, id, firstName, username)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("user registered", zap.Int64("user_id", id))
	}
	return s.repo.GetUser(ctx, id)
}

// CheckAccess проверяет, может ли пользователь пользоваться магазином.
func (s *Service) CheckAccess(ctx context.Context, userID int64) error {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Blocked {
		return ErrUserBlocked
	}

	if !s.checkSubscription || s.channel == "" || s.notifier == nil {
		return nil
	}

	status, err := s.notifier.GetChatMemberStatus(ctx, s.channel, userID)
	if err != nil {
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) {
			s.logger.Debug("subscription check rejected", zap.Int64("user_id", userID), zap.Error(err))
			return ErrNotSubscribed
		}
		return fmt.Errorf("check subscription: %w", err)
	}
	if !telegram.IsMemberStatus(status) {
		return ErrNotSubscribed
	}
	return nil
}

// GetUser возвращает пользователя.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListUsers возвращает страницу пользователей, новые первыми.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListUsers(ctx, clampLimit(limit, defaultPageSize), offset)
}

// CountUsers возвращает число пользователей.
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	return s.repo.CountUsers(ctx)
}

// SearchUsers ищет пользователей по идентификатору, имени или username.
func (s *Service) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid(errors.New("empty search query"))
	}
	return s.repo.SearchUsers(ctx, query, searchLimit)
}

// SetUserBlocked блокирует или разблокирует пользователя.
func (s *Service) SetUserBlocked(ctx context.Context, id int64, blocked bool) error {
	if err := s.repo.SetUserBlocked(ctx, id, blocked); err != nil {
		return err
	}
	s.logger.Info("user block changed", zap.Int64("user_id", id), zap.Bool("blocked", blocked))
	return nil
}

// AdjustBalance изменяет баланс на delta. Баланс может уйти в минус.
func (s *Service) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, invalid(errors.New("delta must not be zero"))
	}
	if err := validation.Amount(delta); err != nil {
		return decimal.Zero, invalid(err)
	}

	balance, err := s.repo.AdjustBalance(ctx, id, delta)
	if err != nil {
		return decimal.Zero, err
	}

	s.logger.Info("balance adjusted",
		zap.Int64("user_id", id),
		zap.String("delta", delta.StringFixed(2)),
		zap.String("balance", balance.StringFixed(2)),
	)
	return balance, nil
}

// GetOrders возвращает последние заказы пользователя.
func (s *Service) GetOrders(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID, clampLimit(limit, defaultHistoryLimit))
}

// GetPayments возвращает последние заявки на пополнение пользователя.
func (s *Service) GetPayments(ctx context.Context, userID int64, limit int) ([]model.Payment, error) {
	return s.repo.GetPaymentsByUser(ctx, userID, clampLimit(limit, defaultHistoryLimit))
}

// RequestTopUp регистрирует заявку на пополнение. Платёжный шлюз не подключён,
// поэтому заявка остаётся в статусе pending.
func (s *Service) RequestTopUp(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*model.Payment, error) {
	if err := validation.PositiveAmount(amount); err != nil {
		return nil, invalid(err)
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, invalid(errors.New("payment method is required"))
	}

	p := &model.Payment{
		UserID: userID,
		Amount: amount,
		Method: method,
		Status: model.PaymentStatusPending,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("top-up requested",
		zap.Int64("user_id", userID),
		zap.String("payment_id", p.ID.String()),
		zap.String("amount", amount.StringFixed(2)),
	)
	return p, nil
}

// SetPaymentStatus закрывает заявку на пополнение. Статус completed зачисляет сумму на баланс.
func (s *Service) SetPaymentStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) (*model.Payment, error) {
	if status != model.PaymentStatusCompleted && status != model.PaymentStatusCancelled {
		return nil, invalid(fmt.Errorf("unsupported payment status %q", status))
	}

	p, err := s.repo.SetPaymentStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment status changed",
		zap.String("payment_id", id.String()),
		zap.Int64("user_id", p.UserID),
		zap.String("status", string(status)),
		zap.String("amount", p.Amount.StringFixed(2)),
	)
	return p, nil
}

// GetStatistics возвращает сводку по магазину.
func (s *Service) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	return s.repo.GetStatistics(ctx)
}
