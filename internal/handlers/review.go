package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/sapphybara/change-and-charm-api/internal/services"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
)

// ReviewRouter registers review routes. Every route requires a session.
func ReviewRouter(r chi.Router, reviews *services.ReviewService, authH *AuthHandler, errs Errors) {
	h := NewResource[types.Review, services.ReviewInput](reviews, store.ReviewSchema, errs)

	r.Use(authH.Protect)
	reviewCollection(r, h, authH)
	r.Route("/{id}", func(r chi.Router) {
		r.Use(authH.RestrictTo(types.RoleAdmin, types.RoleUser))
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
	})
}

func reviewCollection(r chi.Router, h *Resource[types.Review, services.ReviewInput], authH *AuthHandler) {
	r.Get("/", h.List)
	r.With(authH.RestrictTo(types.RoleUser)).Post("/", h.Create)
}
