package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/scango-gate/internal/middleware"
	"github.com/mmeshcher/scango-gate/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders/checkout", h.Checkout)
		r.Get("/orders/receipt/{receipt}", h.GetOrderByReceipt)
		r.Get("/orders/{hash}", h.GetOrder)

		r.Post("/staff/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireRole(model.RoleCashier))
			r.Post("/cashier/mark-paid", h.MarkPaid)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireRole(model.RoleGuard))
			r.Post("/guard/verify-exit", h.VerifyExit)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireRole(model.RoleAdmin))
			r.Get("/orders/{hash}/history", h.GetOrderHistory)
			r.Get("/stores/{storeId}/orders", h.GetStoreOrders)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
