package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/services"
	"github.com/sapphybara/change-and-charm-api/internal/store"
)

const genericMessage = "Something went very wrong"

var errBodyTooLarge = services.NewError(http.StatusRequestEntityTooLarge, "Request body is too large")

// Errors writes error responses. In development the response carries the
// underlying error.
type Errors struct {
	Development bool
}

// Write shapes err into an error envelope.
func (e Errors) Write(w http.ResponseWriter, r *http.Request, err error) {
	status, message := shape(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}

	env := Envelope{Status: statusFor(status), Message: message}
	if e.Development {
		env.Error = err.Error()
	}
	writeJSON(w, status, env)
}

// shape maps known errors onto a status and a client-facing message.
// Anything unrecognized is an unexpected failure.
func shape(err error) (int, string) {
	var (
		opErr   *services.Error
		idErr   *store.InvalidIDError
		dupErr  *store.DuplicateError
		valErr  *store.ValidationError
		sizeErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &opErr):
		return opErr.Status, opErr.Message
	case errors.As(err, &idErr):
		return http.StatusBadRequest, fmt.Sprintf("Invalid %s: %s", idErr.Field, idErr.Value)
	case errors.As(err, &dupErr):
		return http.StatusBadRequest, fmt.Sprintf("Duplicate field %s (%s)", dupErr.Field, dupErr.Value)
	case errors.As(err, &valErr):
		return http.StatusBadRequest, "Invalid input data: " + valErr.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid token. Please log in again."
	case errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "Your token has expired. Please log in again"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "No record found with that ID"
	case errors.As(err, &sizeErr):
		return errBodyTooLarge.Status, errBodyTooLarge.Message
	default:
		return http.StatusInternalServerError, genericMessage
	}
}

// NotFound answers requests no route matched.
func NotFound(errs Errors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		errs.Write(w, r, services.NewError(http.StatusNotFound, fmt.Sprintf("Cannot find %s on the server", r.URL.RequestURI())))
	}
}
