package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sapphybara/change-and-charm-api/internal/services"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
)

// top-cheap defaults, applied only where the client did not set them
var topCheapDefaults = map[string]string{
	"limit":  "5",
	"sort":   "price,averageRatings,-duration",
	"fields": "name,price,averageRatings,coach",
}

// BiteHandler provides HTTP handlers for bites.
type BiteHandler struct {
	*Resource[types.Bite, services.BiteInput]
	bites *services.BiteService
}

func NewBiteHandler(bites *services.BiteService, errs Errors) *BiteHandler {
	return &BiteHandler{
		Resource: NewResource[types.Bite, services.BiteInput](bites, store.BiteSchema, errs),
		bites:    bites,
	}
}

// BiteRouter registers bite routes, including the nested review routes.
func BiteRouter(r chi.Router, bites *services.BiteService, reviews *services.ReviewService, authH *AuthHandler, errs Errors) {
	h := NewBiteHandler(bites, errs)
	admin := chi.Chain(authH.Protect, authH.RestrictTo(types.RoleAdmin))

	nested := NewResource[types.Review, services.ReviewInput](reviews, store.ReviewSchema, errs)
	nested.Scope = scopeToBite
	nested.Prepare = biteFromPath

	r.With(authH.Identify).Get("/", h.List)
	r.With(admin...).Post("/", h.Create)
	r.With(authH.Identify, aliasTopCheap).Get("/top-cheap", h.List)
	r.Get("/bite-stats", h.Stats)
	r.Route("/{id}", func(r chi.Router) {
		r.With(authH.Identify).Get("/", h.Get)
		r.With(admin...).Patch("/", h.Update)
		r.With(admin...).Delete("/", h.Delete)
		r.Route("/reviews", func(r chi.Router) {
			r.Use(authH.Protect)
			reviewCollection(r, nested, authH)
		})
	})
}

// Stats reports aggregates per bite duration.
func (h *BiteHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.bites.Stats(r.Context())
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	n := len(stats)
	writeJSON(w, http.StatusOK, Envelope{
		Status:  statusSuccess,
		Results: &n,
		Data:    map[string]any{"stats": stats},
	})
}

func aliasTopCheap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		for key, value := range topCheapDefaults {
			if q.Get(key) == "" {
				q.Set(key, value)
			}
		}
		u := *r.URL
		u.RawQuery = q.Encode()
		aliased := r.Clone(r.Context())
		aliased.URL = &u
		next.ServeHTTP(w, aliased)
	})
}

func scopeToBite(r *http.Request, q *store.Query) error {
	biteID, err := pathID(r, "id")
	if err != nil {
		return err
	}
	column, _ := store.ReviewSchema.Column("bite")
	q.Filter(column, store.OpEqual, biteID)
	return nil
}

func biteFromPath(r *http.Request, in *services.ReviewInput) error {
	if in.Bite == nil || *in.Bite == "" {
		raw := chi.URLParam(r, "id")
		in.Bite = &raw
	}
	return nil
}
