package api

import "github.com/go-chi/chi/v5"

// Routes mounts the public and authenticated endpoints on r
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Get("/config", h.Config)
	r.Get("/assets/{id}", h.GetAsset)
	r.Get("/assets/{id}/owner", h.GetOwner)
	r.Get("/assets/{id}/history", h.GetHistory)
	r.Get("/assets/{id}/metadata", h.GetMetadata)
	r.Get("/accounts/{account}/assets", h.GetAccountAssets)
	r.Get("/accounts/{account}/throttle", h.GetThrottle)
	r.Get("/offers", h.ListOffers)
	r.Get("/offers/next-id", h.NextOfferID)
	r.Get("/offers/{id}", h.GetOffer)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Use(h.IdempotencyMiddleware)
		r.Post("/assets", h.Mint)
		r.Post("/assets/{id}/approve", h.Approve)
		r.Post("/operators", h.SetOperator)
		r.Post("/offers", h.CreateOffer)
		r.Post("/offers/{id}/accept", h.AcceptOffer)
		r.Delete("/offers/{id}", h.CancelOffer)
	})
}
