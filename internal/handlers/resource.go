package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/internal/store"
)

// Service is the CRUD surface a Resource exposes over HTTP.
type Service[T, I any] interface {
	List(ctx context.Context, q store.Query) ([]T, error)
	Get(ctx context.Context, id uuid.UUID) (T, error)
	Create(ctx context.Context, in I) (T, error)
	Update(ctx context.Context, id uuid.UUID, in I) (T, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Resource provides list, get, create, update and delete handlers for one
// record type T written through input type I.
type Resource[T, I any] struct {
	svc    Service[T, I]
	schema store.Schema
	errs   Errors

	// Scope narrows list queries, e.g. to a parent record from the path.
	Scope func(r *http.Request, q *store.Query) error
	// Prepare fills create input from the request before it is validated.
	Prepare func(r *http.Request, in *I) error
}

func NewResource[T, I any](svc Service[T, I], schema store.Schema, errs Errors) *Resource[T, I] {
	return &Resource[T, I]{svc: svc, schema: schema, errs: errs}
}

func (h *Resource[T, I]) List(w http.ResponseWriter, r *http.Request) {
	q, err := store.ParseQuery(r.URL.Query(), h.schema)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	if h.Scope != nil {
		if err := h.Scope(r, &q); err != nil {
			h.errs.Write(w, r, err)
			return
		}
	}

	items, err := h.svc.List(r.Context(), q)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		projected, err := q.Project(item)
		if err != nil {
			h.errs.Write(w, r, err)
			return
		}
		out = append(out, projected)
	}
	writeList(w, "data", out)
}

func (h *Resource[T, I]) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	item, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "data", item)
}

func (h *Resource[T, I]) Create(w http.ResponseWriter, r *http.Request) {
	var in I
	if err := decodeJSON(r, &in); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	if h.Prepare != nil {
		if err := h.Prepare(r, &in); err != nil {
			h.errs.Write(w, r, err)
			return
		}
	}
	created, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "data", created)
}

func (h *Resource[T, I]) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	var in I
	if err := decodeJSON(r, &in); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	updated, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "data", updated)
}

func (h *Resource[T, I]) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
