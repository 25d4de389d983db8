package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/shopbot/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware API витрины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(custommiddleware.RequestLogger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/users/start", h.Start)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAccess)

			r.Get("/users/me", h.GetMe)
			r.Get("/users/me/orders", h.GetMyOrders)
			r.Get("/users/me/payments", h.GetMyPayments)
			r.Post("/users/me/payments", h.RequestTopUp)

			r.Get("/catalog/categories", h.ListCategories)
			r.Get("/catalog/categories/{id}/products", h.ListCategoryProducts)
			r.Get("/catalog/products/{id}", h.GetProduct)
			r.Post("/catalog/products/{id}/purchase", h.Purchase)

			r.Get("/info/{name}", h.GetInfoText)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.AdminOnly(h.adminIDs))

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", h.AdminListCategories)
				r.Post("/", h.CreateCategory)
				r.Patch("/{id}", h.UpdateCategory)
				r.Delete("/{id}", h.DeleteCategory)
			})

			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.AdminListProducts)
				r.Post("/", h.CreateProduct)
				r.Patch("/{id}", h.UpdateProduct)
				r.Delete("/{id}", h.DeleteProduct)
				r.Post("/{id}/items", h.AddProductItems)
				r.Post("/{id}/recompute", h.RecomputeStock)
			})

			r.Post("/stock/reconcile", h.ReconcileStock)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.AdminListUsers)
				r.Get("/search", h.SearchUsers)
				r.Post("/{id}/block", h.SetUserBlocked)
				r.Post("/{id}/balance", h.AdjustBalance)
			})

			r.Post("/payments/{id}/status", h.SetPaymentStatus)

			r.Get("/stats", h.GetStatistics)

			r.Put("/info/{name}", h.SetInfoText)
			r.Delete("/info/{name}", h.ResetInfoText)

			r.Post("/broadcasts", h.StartBroadcast)
			r.Get("/broadcasts/{id}", h.GetBroadcast)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
