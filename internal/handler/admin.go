package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/service"
)

type createCategoryRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"max=4096"`
	Active      *bool  `json:"active"`
	Position    int    `json:"position"`
}

// AdminListCategories возвращает все категории, включая скрытые.
func (h *Handler) AdminListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context(), false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(categories, newCategoryResponse))
}

// CreateCategory создаёт категорию. По умолчанию категория активна.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	active := req.Active == nil || *req.Active
	c, err := h.service.CreateCategory(r.Context(), req.Name, req.Description, active, req.Position)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCategoryResponse(c))
}

// UpdateCategory применяет патч к категории.
func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var patch model.CategoryPatch
	if err := h.decodeJSON(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.UpdateCategory(r.Context(), id, patch); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.service.GetCategory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCategoryResponse(c))
}

// DeleteCategory удаляет пустую категорию.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.DeleteCategory(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminListProducts возвращает товары, при необходимости одной категории.
func (h *Handler) AdminListProducts(w http.ResponseWriter, r *http.Request) {
	var filter model.ProductFilter
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "bad category_id")
			return
		}
		filter.CategoryID = &id
	}

	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(products, newProductResponse))
}

type createProductRequest struct {
	CategoryID  int64           `json:"category_id" validate:"required,gt=0"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description" validate:"max=4096"`
	Price       decimal.Decimal `json:"price"`
	Active      *bool           `json:"active"`
	Position    int             `json:"position"`
}

// CreateProduct создаёт товар с нулевым остатком.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	p := &model.Product{
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Active:      req.Active == nil || *req.Active,
		Position:    req.Position,
	}
	if err := h.service.CreateProduct(r.Context(), p); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProductResponse(p))
}

// UpdateProduct применяет патч к товару.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var patch model.ProductPatch
	if err := h.decodeJSON(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.UpdateProduct(r.Context(), id, patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteProduct удаляет товар вместе с его единицами.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddProductItems загружает единицы товара из текста, по одной на строку.
func (h *Handler) AddProductItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	text, err := readText(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	added, stock, err := h.service.AddProductItems(r.Context(), id, text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"added": added, "stock": stock})
}

// RecomputeStock пересчитывает остаток товара.
func (h *Handler) RecomputeStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	stock, err := h.service.RecomputeStock(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stock": stock})
}

// ReconcileStock сверяет остатки всех товаров.
func (h *Handler) ReconcileStock(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.service.ReconcileStock(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(drifts, func(d *model.StockDrift) driftResponse {
		return driftResponse{ProductID: d.ProductID, Cached: d.Cached, Actual: d.Actual}
	}))
}

type usersPage struct {
	Total int64          `json:"total"`
	Users []userResponse `json:"users"`
}

// AdminListUsers возвращает страницу пользователей.
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	users, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	total, err := h.service.CountUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usersPage{Total: total, Users: mapSlice(users, newUserResponse)})
}

// SearchUsers ищет пользователей по идентификатору, имени или username.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(users, newUserResponse))
}

type blockRequest struct {
	Blocked *bool `json:"blocked" validate:"required"`
}

// SetUserBlocked блокирует или разблокирует пользователя.
func (h *Handler) SetUserBlocked(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req blockRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.SetUserBlocked(r.Context(), id, *req.Blocked); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type balanceRequest struct {
	Delta decimal.Decimal `json:"delta"`
}

// AdjustBalance изменяет баланс пользователя.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req balanceRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	balance, err := h.service.AdjustBalance(r.Context(), id, req.Delta)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.StringFixed(2)})
}

type paymentStatusRequest struct {
	Status model.PaymentStatus `json:"status" validate:"required,oneof=completed cancelled"`
}

// SetPaymentStatus подтверждает или отменяет заявку на пополнение.
func (h *Handler) SetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, service.ErrInvalidInput)
		return
	}

	var req paymentStatusRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.service.SetPaymentStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(p))
}

// GetStatistics возвращает сводку по магазину.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStatistics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type infoTextRequest struct {
	Text string `json:"text" validate:"required"`
}

// SetInfoText сохраняет информационный текст.
func (h *Handler) SetInfoText(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req infoTextRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.SetInfoText(r.Context(), name, req.Text); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetInfoText восстанавливает текст по умолчанию.
func (h *Handler) ResetInfoText(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	text, err := h.service.ResetInfoText(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "text": text})
}

type broadcastRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

// StartBroadcast запускает рассылку всем пользователям.
func (h *Handler) StartBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	job, err := h.broadcasts.Start(req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GetBroadcast возвращает прогресс рассылки.
func (h *Handler) GetBroadcast(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, service.ErrInvalidInput)
		return
	}

	job, err := h.broadcasts.Get(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
