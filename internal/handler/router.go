package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/boutique-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса магазина.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.sessions.Middleware)

		r.Get("/bag", h.GetBag)
		r.Post("/bag/items", h.AddBagItem)
		r.Put("/bag/items/{productID}", h.UpdateBagItem)
		r.Delete("/bag/items/{productID}", h.RemoveBagItem)

		r.Get("/checkout", h.StartCheckout)
		r.Post("/checkout", h.SubmitCheckout)
		r.Post("/checkout/cache", h.CacheCheckoutData)
		r.Get("/checkout/success/{orderNumber}", h.CheckoutSuccess)

		r.Get("/profile/orders", h.OrderHistory)
		r.Put("/profile", h.UpdateProfile)
	})

	// Вебхук живёт вне сессионной группы: у платёжного провайдера нет cookie.
	r.Post("/webhooks/stripe", h.StripeWebhook)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
