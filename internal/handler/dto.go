package handler

import (
	"time"

	"github.com/mmeshcher/shopbot/internal/model"
)

const timeLayout = time.RFC3339

type userResponse struct {
	ID             int64   `json:"id"`
	FirstName      string  `json:"first_name"`
	Username       *string `json:"username,omitempty"`
	Balance        string  `json:"balance"`
	PurchasesCount int64   `json:"purchases_count"`
	Blocked        bool    `json:"blocked"`
	CreatedAt      string  `json:"created_at"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:             u.ID,
		FirstName:      u.FirstName,
		Username:       u.Username,
		Balance:        u.Balance.StringFixed(2),
		PurchasesCount: u.PurchasesCount,
		Blocked:        u.Blocked,
		CreatedAt:      u.CreatedAt.Format(timeLayout),
	}
}

type categoryResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	Position    int    `json:"position"`
}

func newCategoryResponse(c *model.Category) categoryResponse {
	return categoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Active:      c.Active,
		Position:    c.Position,
	}
}

type productResponse struct {
	ID           int64  `json:"id"`
	CategoryID   int64  `json:"category_id"`
	CategoryName string `json:"category_name,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Price        string `json:"price"`
	Stock        int    `json:"stock"`
	Active       bool   `json:"active"`
	Position     int    `json:"position"`
}

func newProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:           p.ID,
		CategoryID:   p.CategoryID,
		CategoryName: p.CategoryName,
		Name:         p.Name,
		Description:  p.Description,
		Price:        p.Price.StringFixed(2),
		Stock:        p.StockCount,
		Active:       p.Active,
		Position:     p.Position,
	}
}

type orderResponse struct {
	ID          int64  `json:"id"`
	ProductName string `json:"product_name"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type paymentResponse struct {
	ID        string `json:"id"`
	Amount    string `json:"amount"`
	Method    string `json:"method"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func newPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:        p.ID.String(),
		Amount:    p.Amount.StringFixed(2),
		Method:    p.Method,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt.Format(timeLayout),
	}
}

type purchaseResponse struct {
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Payload     string `json:"payload"`
	Charged     string `json:"charged"`
	Balance     string `json:"balance"`
	PurchasedAt string `json:"purchased_at"`
}

type driftResponse struct {
	ProductID int64 `json:"product_id"`
	Cached    int   `json:"cached"`
	Actual    int   `json:"actual"`
}

func mapSlice[T, R any](items []T, fn func(*T) R) []R {
	out := make([]R, 0, len(items))
	for i := range items {
		out = append(out, fn(&items[i]))
	}
	return out
}
