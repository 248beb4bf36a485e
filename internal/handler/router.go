package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/Draminhon/ClickPet-sub001/internal/middleware"
	"github.com/Draminhon/ClickPet-sub001/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса кликпет.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)
		r.Get("/plans", h.GetPlans)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user/loyalty", h.GetLoyalty)
			r.Get("/user/loyalty/transactions", h.GetTransactions)
			r.Post("/user/loyalty/redeem", h.RedeemPoints)

			r.Get("/user/referral/code", h.GetReferralCode)
			r.Post("/user/referral", h.CreateReferralInvite)
			r.Get("/user/referral", h.GetReferrals)
		})

		r.Route("/partner", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireRole(model.RolePartner))

			r.Get("/subscription", h.GetPartnerSubscription)
			r.Post("/subscription", h.UpdatePartnerSubscription)
			r.Get("/usage", h.GetUsageStats)

			r.Get("/products", h.GetProducts)
			r.Post("/products", h.CreateProduct)
			r.Get("/services", h.GetServices)
			r.Post("/services", h.CreateService)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(custommiddleware.RequireRole(model.RoleAdmin))

			r.Post("/subscriptions", h.CreateSubscription)
			r.Get("/subscriptions/{id}", h.GetSubscription)
			r.Put("/subscriptions/{id}/plan", h.ChangePlan)
			r.Put("/subscriptions/{id}/status", h.ChangeStatus)
			r.Post("/subscriptions/{id}/cancel", h.CancelSubscription)

			r.Post("/orders/complete", h.CompleteOrder)
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
