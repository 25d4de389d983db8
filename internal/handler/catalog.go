package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/shopbot/internal/middleware"
	"github.com/mmeshcher/shopbot/internal/model"
	"github.com/mmeshcher/shopbot/internal/repository"
)

// ListCategories возвращает активные категории.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context(), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(categories, newCategoryResponse))
}

// ListCategoryProducts возвращает активные товары категории.
func (h *Handler) ListCategoryProducts(w http.ResponseWriter, r *http.Request) {
	categoryID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	products, err := h.service.ListProducts(r.Context(), model.ProductFilter{CategoryID: &categoryID, ActiveOnly: true})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(products, newProductResponse))
}

// GetProduct возвращает активный товар.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !product.Active {
		h.writeError(w, r, repository.ErrProductNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(product))
}

// Purchase покупает одну единицу товара для текущего пользователя.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	productID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.service.Purchase(r.Context(), userID, productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, purchaseResponse{
		OrderID:     p.OrderID,
		ProductID:   p.ProductID,
		ProductName: p.ProductName,
		Payload:     p.Payload,
		Charged:     p.Charged.StringFixed(2),
		Balance:     p.Balance.StringFixed(2),
		PurchasedAt: p.PurchasedAt.Format(timeLayout),
	})
}

// GetInfoText возвращает информационный текст по имени.
func (h *Handler) GetInfoText(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	text, err := h.service.GetInfoText(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "text": text})
}
