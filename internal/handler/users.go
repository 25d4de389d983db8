package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/shopbot/internal/middleware"
	"github.com/mmeshcher/shopbot/internal/model"
)

type startRequest struct {
	FirstName string  `json:"first_name" validate:"required,max=256"`
	Username  *string `json:"username" validate:"omitempty,max=64"`
}

// Start регистрирует пользователя при первом обращении и проверяет доступ к магазину.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	var req startRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), userID, req.FirstName, req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.CheckAccess(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// GetMe возвращает профиль текущего пользователя.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// GetMyOrders возвращает последние покупки текущего пользователя.
func (h *Handler) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orders, err := h.service.GetOrders(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(orders, func(o *model.Order) orderResponse {
		return orderResponse{
			ID:          o.ID,
			ProductName: o.ProductName,
			Amount:      o.Amount.StringFixed(2),
			Status:      string(o.Status),
			CreatedAt:   o.CreatedAt.Format(timeLayout),
		}
	}))
}

// GetMyPayments возвращает заявки на пополнение текущего пользователя.
func (h *Handler) GetMyPayments(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payments, err := h.service.GetPayments(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, mapSlice(payments, newPaymentResponse))
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"required,max=32"`
}

// RequestTopUp регистрирует заявку на пополнение баланса.
func (h *Handler) RequestTopUp(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	var req topUpRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	payment, err := h.service.RequestTopUp(r.Context(), userID, req.Amount, req.Method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPaymentResponse(payment))
}
