package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/supply-portal/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware портала.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.RequestID)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/items", h.ListItems)
		r.Post("/borrow-requests", h.CreateBorrowRequest)

		r.Route("/user", func(r chi.Router) {
			r.Get("/borrowed-items", h.GetBorrowedItems)
			r.Get("/history", h.GetUserHistory)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.RequireAdmin)

			r.Post("/items", h.CreateItem)
			r.Delete("/items/{id}", h.DeleteItem)

			r.Get("/borrow-requests", h.ListBorrowRequests)
			r.Patch("/borrow-requests/{id}", h.DecideBorrowRequest)

			r.Get("/loans", h.ListLoans)
			r.Patch("/loans/{id}", h.TransitionLoan)

			r.Get("/history", h.ListHistory)
			r.Patch("/history/{id}", h.TransitionLoanHistory)
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
