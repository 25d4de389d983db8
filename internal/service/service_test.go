package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/repository"
	"github.com/mmeshcher/shopbot/internal/telegram"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// stubRepo реализует только методы, нужные тестам. Вызов остальных приводит к панике.
type stubRepo struct {
	Repository

	product    *model.Product
	productErr error

	user    *model.User
	userErr error

	purchase      *model.Purchase
	purchaseErr   error
	purchaseCalls int

	recomputeCalls int
	recomputeStock int
}

func (s *stubRepo) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.product, s.productErr
}

func (s *stubRepo) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) Purchase(ctx context.Context, userID, productID int64) (*model.Purchase, error) {
	s.purchaseCalls++
	return s.purchase, s.purchaseErr
}

func (s *stubRepo) RecomputeStock(ctx context.Context, productID int64) (int, error) {
	s.recomputeCalls++
	return s.recomputeStock, nil
}

type stubNotifier struct {
	status string
	err    error
}

func (n *stubNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	return nil
}

func (n *stubNotifier) GetChatMemberStatus(ctx context.Context, channel string, userID int64) (string, error) {
	return n.status, n.err
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func readyRepo() *stubRepo {
	return &stubRepo{
		product: &model.Product{ID: 7, Name: "Premium", Price: dec("50"), StockCount: 3, Active: true},
		user:    &model.User{ID: 1, Balance: dec("100")},
		purchase: &model.Purchase{
			OrderID: 1, ItemID: 1, ProductID: 7, ProductName: "Premium",
			Payload: "login:secret", Charged: dec("50"), Balance: dec("50"),
		},
	}
}

func TestPurchase_PreChecks(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *stubRepo)
		wantErr error
	}{
		{
			name:    "inactive product",
			mutate:  func(r *stubRepo) { r.product.Active = false },
			wantErr: repository.ErrProductNotFound,
		},
		{
			name:    "missing product",
			mutate:  func(r *stubRepo) { r.product, r.productErr = nil, repository.ErrProductNotFound },
			wantErr: repository.ErrProductNotFound,
		},
		{
			name:    "no stock",
			mutate:  func(r *stubRepo) { r.product.StockCount = 0 },
			wantErr: ErrOutOfStock,
		},
		{
			name:    "missing user",
			mutate:  func(r *stubRepo) { r.user, r.userErr = nil, repository.ErrUserNotFound },
			wantErr: repository.ErrUserNotFound,
		},
		{
			name:    "blocked user",
			mutate:  func(r *stubRepo) { r.user.Blocked = true },
			wantErr: ErrUserBlocked,
		},
		{
			name:    "insufficient balance",
			mutate:  func(r *stubRepo) { r.user.Balance = dec("10") },
			wantErr: repository.ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := readyRepo()
			tt.mutate(repo)
			svc := NewService(repo, nil, Options{})

			_, err := svc.Purchase(context.Background(), 1, 7)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if repo.purchaseCalls != 0 {
				t.Fatalf("storage purchase must not be attempted, got %d calls", repo.purchaseCalls)
			}
		})
	}
}

func TestPurchase_InsufficientFundsCarriesAmounts(t *testing.T) {
	repo := readyRepo()
	repo.user.Balance = dec("10")
	svc := NewService(repo, nil, Options{})

	_, err := svc.Purchase(context.Background(), 1, 7)

	var fundsErr *InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !fundsErr.Needed.Equal(dec("50")) || !fundsErr.Have.Equal(dec("10")) {
		t.Fatalf("unexpected amounts: need %s have %s", fundsErr.Needed, fundsErr.Have)
	}
	if !fundsErr.Shortfall().Equal(dec("40")) {
		t.Fatalf("expected shortfall 40, got %s", fundsErr.Shortfall())
	}
}

func TestPurchase_MapsStorageOutcomes(t *testing.T) {
	t.Run("balance changed inside transaction", func(t *testing.T) {
		repo := readyRepo()
		repo.purchaseErr = &repository.InsufficientBalanceError{Needed: dec("50"), Have: dec("20")}
		svc := NewService(repo, nil, Options{})

		_, err := svc.Purchase(context.Background(), 1, 7)

		var fundsErr *InsufficientFundsError
		if !errors.As(err, &fundsErr) {
			t.Fatalf("expected InsufficientFundsError, got %v", err)
		}
		if !fundsErr.Shortfall().Equal(dec("30")) {
			t.Fatalf("expected shortfall 30, got %s", fundsErr.Shortfall())
		}
	})

	t.Run("unexpected failure", func(t *testing.T) {
		repo := readyRepo()
		repo.purchaseErr = errors.New("disk I/O error")
		svc := NewService(repo, nil, Options{})

		_, err := svc.Purchase(context.Background(), 1, 7)
		if !errors.Is(err, ErrStorageUnavailable) {
			t.Fatalf("expected ErrStorageUnavailable, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		repo := readyRepo()
		repo.purchaseErr = context.Canceled
		svc := NewService(repo, nil, Options{})

		_, err := svc.Purchase(context.Background(), 1, 7)
		if !errors.Is(err, context.Canceled) || errors.Is(err, ErrStorageUnavailable) {
			t.Fatalf("expected bare context.Canceled, got %v", err)
		}
	})
}

func TestPurchase_HealsStockWhenNoItemClaimable(t *testing.T) {
	repo := readyRepo()
	repo.purchaseErr = repository.ErrNoUnsoldItem
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewService(repo, zap.New(core), Options{})

	_, err := svc.Purchase(context.Background(), 1, 7)
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if repo.recomputeCalls != 1 {
		t.Fatalf("expected one stock recompute, got %d", repo.recomputeCalls)
	}
	if logs.FilterMessageSnippet("invariant violation").Len() != 1 {
		t.Fatalf("expected an invariant violation warning, got %v", logs.All())
	}
}

func TestPurchase_NeverLogsPayload(t *testing.T) {
	repo := readyRepo()
	core, logs := observer.New(zapcore.DebugLevel)
	svc := NewService(repo, zap.New(core), Options{})

	p, err := svc.Purchase(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Payload != "login:secret" {
		t.Fatalf("unexpected payload %q", p.Payload)
	}

	for _, entry := range logs.All() {
		for _, v := range entry.ContextMap() {
			obj, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if _, leaked := obj["payload"]; leaked {
				t.Fatalf("payload leaked into log entry %q", entry.Message)
			}
		}
	}
}

func TestCheckAccess(t *testing.T) {
	tests := []struct {
		name     string
		blocked  bool
		notifier *stubNotifier
		check    bool
		wantErr  error
		wrapped  bool
	}{
		{name: "check disabled", notifier: &stubNotifier{status: "left"}},
		{name: "blocked user", blocked: true, check: true, notifier: &stubNotifier{status: "member"}, wantErr: ErrUserBlocked},
		{name: "member", check: true, notifier: &stubNotifier{status: "member"}},
		{name: "creator", check: true, notifier: &stubNotifier{status: "creator"}},
		{name: "left channel", check: true, notifier: &stubNotifier{status: "left"}, wantErr: ErrNotSubscribed},
		{
			name:     "rejected by api",
			check:    true,
			notifier: &stubNotifier{err: &telegram.APIError{Code: 400, Description: "Bad Request: user not found"}},
			wantErr:  ErrNotSubscribed,
		},
		{
			name:     "transport failure",
			check:    true,
			notifier: &stubNotifier{err: errors.New("connection refused")},
			wrapped:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{user: &model.User{ID: 1, Blocked: tt.blocked}}
			svc := NewService(repo, nil, Options{
				Notifier:          tt.notifier,
				Channel:           "@shop_news",
				CheckSubscription: tt.check,
			})

			err := svc.CheckAccess(context.Background(), 1)
			switch {
			case tt.wrapped:
				if err == nil || errors.Is(err, ErrNotSubscribed) {
					t.Fatalf("expected wrapped transport error, got %v", err)
				}
			case tt.wantErr == nil:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			default:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			}
		})
	}
}

func TestValidationErrorsAreInvalidInput(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, Options{})
	ctx := context.Background()

	_, err := svc.CreateCategory(ctx, "   ", "", true, 0)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}

	err = svc.CreateProduct(ctx, &model.Product{CategoryID: 1, Name: "X", Price: dec("0")})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero price, got %v", err)
	}

	err = svc.UpdateProduct(ctx, 1, model.ProductPatch{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty patch, got %v", err)
	}

	_, _, err = svc.AddProductItems(ctx, 1, "\n   \n")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank items, got %v", err)
	}

	_, err = svc.AdjustBalance(ctx, 1, decimal.Zero)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero delta, got %v", err)
	}

	_, err = svc.AdjustBalance(ctx, 1, dec("1.005"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for sub-cent delta, got %v", err)
	}

	_, err = svc.SearchUsers(ctx, "  ")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty query, got %v", err)
	}

	_, err = svc.RequestTopUp(ctx, 1, dec("-5"), "card")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative top-up, got %v", err)
	}
}

func TestClampLimit(t *testing.T) {
	if got := clampLimit(0, 10); got != 10 {
		t.Fatalf("expected default 10, got %d", got)
	}
	if got := clampLimit(-3, 20); got != 20 {
		t.Fatalf("expected default 20, got %d", got)
	}
	if got := clampLimit(1000, 10); got != maxHistoryLimit {
		t.Fatalf("expected %d, got %d", maxHistoryLimit, got)
	}
	if got := clampLimit(5, 10); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}
