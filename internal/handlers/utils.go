package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/internal/services"
	"github.com/sapphybara/change-and-charm-api/internal/store"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Status  string `json:"status"`
	Results *int   `json:"results,omitempty"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`

	// development only
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeData(w http.ResponseWriter, status int, key string, value any) {
	writeJSON(w, status, Envelope{Status: statusSuccess, Data: map[string]any{key: value}})
}

func writeList(w http.ResponseWriter, key string, items []any) {
	n := len(items)
	writeJSON(w, http.StatusOK, Envelope{Status: statusSuccess, Results: &n, Data: map[string]any{key: items}})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Status: statusFor(status), Message: message})
}

func statusFor(code int) string {
	switch {
	case code >= 500:
		return statusError
	case code >= 400:
		return statusFail
	default:
		return statusSuccess
	}
}

var errBadJSON = services.NewError(http.StatusBadRequest, "Invalid JSON body")

// decodeJSON reads a JSON object into dst. An empty body decodes to the
// zero value.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	var maxErr *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &maxErr):
		return errBodyTooLarge
	default:
		return errBadJSON
	}
}

func pathID(r *http.Request, param string) (uuid.UUID, error) {
	return store.ParseID(param, chi.URLParam(r, param))
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}
