// Package service реализует бизнес-логику витрины: каталог, покупки, пользователей и тексты.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error

	UpsertUser(ctx context.Context, id int64, firstName string, username *string) (bool, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]model.User, error)
	CountUsers(ctx context.Context) (int64, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error)
	ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
	SetUserBlocked(ctx context.Context, id int64, blocked bool) error
	AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error)

	CreateCategory(ctx context.Context, c *model.Category) error
	GetCategory(ctx context.Context, id int64) (*model.Category, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error)
	UpdateCategory(ctx context.Context, id int64, patch model.CategoryPatch) error
	DeleteCategory(ctx context.Context, id int64) error

	CreateProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	UpdateProduct(ctx context.Context, id int64, patch model.ProductPatch) error
	DeleteProduct(ctx context.Context, id int64) error
	AddProductItems(ctx context.Context, productID int64, payloads []string) (int, error)
	RecomputeStock(ctx context.Context, productID int64) (int, error)
	ReconcileStock(ctx context.Context) ([]model.StockDrift, error)

	Purchase(ctx context.Context, userID, productID int64) (*model.Purchase, error)
	GetOrdersByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error)
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPaymentsByUser(ctx context.Context, userID int64, limit int) ([]model.Payment, error)
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) (*model.Payment, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	SetSettingIfAbsent(ctx context.Context, key, value string) error
	GetStatistics(ctx context.Context) (*model.Statistics, error)
}

// Cache описывает кэш чтений каталога. Ключи задаются без общего префикса.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	DeletePattern(ctx context.Context, pattern string) error
	Ping(ctx context.Context) error
}

// Notifier описывает исходящий канал мессенджера.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	GetChatMemberStatus(ctx context.Context, channel string, userID int64) (string, error)
}

var (
	// ErrOutOfStock возвращается, если у товара нет единиц в наличии.
	ErrOutOfStock = errors.New("product is out of stock")
	// ErrUserBlocked возвращается для заблокированного пользователя.
	ErrUserBlocked = repository.ErrUserBlocked
	// ErrStorageUnavailable оборачивает непредвиденные ошибки хранилища.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidInput возвращается для некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownInfoText возвращается для неизвестного имени информационного текста.
	ErrUnknownInfoText = errors.New("unknown info text")
	// ErrNotSubscribed возвращается, если пользователь не подписан на обязательный канал.
	ErrNotSubscribed = errors.New("user is not subscribed to the channel")
)

// InsufficientFundsError сообщает, сколько не хватает для покупки.
type InsufficientFundsError struct {
	Needed decimal.Decimal
	Have   decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %s, have %s", e.Needed.StringFixed(2), e.Have.StringFixed(2))
}

// Shortfall возвращает недостающую сумму.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Needed.Sub(e.Have)
}

func (e *InsufficientFundsError) Unwrap() error {
	return repository.ErrInsufficientBalance
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Cache             Cache
	Notifier          Notifier
	Channel           string
	CheckSubscription bool
}

// Service содержит бизнес-логику витрины.
type Service struct {
	repo              Repository
	cache             Cache
	notifier          Notifier
	logger            *zap.Logger
	channel           string
	checkSubscription bool
	defaults          map[string]string
}

// NewService создаёт сервис с указанным репозиторием и логгером.
func NewService(repo Repository, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:              repo,
		cache:             opts.Cache,
		notifier:          opts.Notifier,
		logger:            logger,
		channel:           opts.Channel,
		checkSubscription: opts.CheckSubscription,
		defaults:          mustLoadDefaults(),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// PingCache проверяет доступность кэша каталога. Без кэша всегда возвращает nil.
func (s *Service) PingCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}
