// Package handler содержит HTTP-обработчики API витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/broadcast"
	"github.com/mmeshcher/shopbot/internal/middleware"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/repository"
	"github.com/mmeshcher/shopbot/internal/service"
	"github.com/mmeshcher/shopbot/internal/telegram"
)

const (
	maxJSONBody  = 1 << 20
	maxItemsBody = 8 << 20
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	PingCache(ctx context.Context) error

	RegisterUser(ctx context.Context, id int64, firstName string, username *string) (*model.User, error)
	CheckAccess(ctx context.Context, userID int64) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]model.User, error)
	CountUsers(ctx context.Context) (int64, error)
	SearchUsers(ctx context.Context, query string) ([]model.User, error)
	SetUserBlocked(ctx context.Context, id int64, blocked bool) error
	AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error)
	GetOrders(ctx context.Context, userID int64, limit int) ([]model.Order, error)
	GetPayments(ctx context.Context, userID int64, limit int) ([]model.Payment, error)
	RequestTopUp(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*model.Payment, error)
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) (*model.Payment, error)
	GetStatistics(ctx context.Context) (*model.Statistics, error)

	ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error)
	GetCategory(ctx context.Context, id int64) (*model.Category, error)
	CreateCategory(ctx context.Context, name, description string, active bool, position int) (*model.Category, error)
	UpdateCategory(ctx context.Context, id int64, patch model.CategoryPatch) error
	DeleteCategory(ctx context.Context, id int64) error

	ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	UpdateProduct(ctx context.Context, id int64, patch model.ProductPatch) error
	DeleteProduct(ctx context.Context, id int64) error
	AddProductItems(ctx context.Context, productID int64, text string) (int, int, error)
	RecomputeStock(ctx context.Context, productID int64) (int, error)
	ReconcileStock(ctx context.Context) ([]model.StockDrift, error)

	Purchase(ctx context.Context, userID, productID int64) (*model.Purchase, error)

	GetInfoText(ctx context.Context, name string) (string, error)
	SetInfoText(ctx context.Context, name, text string) error
	ResetInfoText(ctx context.Context, name string) (string, error)
}

// Broadcaster запускает рассылки и отдаёт их прогресс.
type Broadcaster interface {
	Start(text string) (broadcast.Job, error)
	Get(id uuid.UUID) (broadcast.Job, error)
}

// Handler реализует HTTP-обработчики API витрины.
type Handler struct {
	service        Service
	broadcasts     Broadcaster
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminIDs       []int64
	validate       *validator.Validate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, b Broadcaster, logger *zap.Logger, auth *middleware.AuthMiddleware, adminIDs []int64) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		broadcasts:     b,
		logger:         logger,
		authMiddleware: auth,
		adminIDs:       adminIDs,
		validate:       validator.New(),
	}
}

type errorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeError переводит ошибку бизнес-логики в HTTP-ответ. Подробности непредвиденных ошибок
// остаются в логе.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fundsErr      *service.InsufficientFundsError
		validationErr validator.ValidationErrors
	)

	switch {
	case errors.As(err, &fundsErr):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error: "insufficient funds",
			Details: map[string]any{
				"needed":    fundsErr.Needed.StringFixed(2),
				"have":      fundsErr.Have.StringFixed(2),
				"shortfall": fundsErr.Shortfall().StringFixed(2),
			},
		})
	case errors.As(err, &validationErr):
		fields := make(map[string]any, len(validationErr))
		for _, fe := range validationErr {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: fields})
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, broadcast.ErrEmptyText):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrCategoryNotFound),
		errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, service.ErrUnknownInfoText),
		errors.Is(err, broadcast.ErrJobNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrOutOfStock),
		errors.Is(err, repository.ErrCategoryNotEmpty),
		errors.Is(err, repository.ErrPaymentNotPending):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUserBlocked),
		errors.Is(err, service.ErrNotSubscribed):
		writeErrorMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, telegram.ErrNotConfigured):
		writeErrorMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrorMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// decodeJSON читает тело запроса в v, отвергая неизвестные поля, и проверяет теги validate.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %w", service.ErrInvalidInput, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON body", service.ErrInvalidInput)
	}
	return h.validate.Struct(v)
}

func readText(w http.ResponseWriter, r *http.Request) (string, error) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxItemsBody))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", service.ErrInvalidInput, err)
	}
	return string(body), nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad %s", service.ErrInvalidInput, name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s", service.ErrInvalidInput, name)
	}
	return n, nil
}

// Health сообщает о доступности хранилища и кэша каталога.
// Недоступный кэш не делает сервис нерабочим: каталог читается из хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeErrorMessage(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if err := h.service.PingCache(r.Context()); err != nil {
		h.logger.Warn("cache health check failed", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "degraded", "cache": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAccess отклоняет запросы заблокированных и неподписанных пользователей.
func (h *Handler) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			writeErrorMessage(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}
		if err := h.service.CheckAccess(r.Context(), userID); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
