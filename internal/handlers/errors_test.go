package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/services"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"operational", services.NewError(http.StatusForbidden, "nope"), http.StatusForbidden, "nope"},
		{"malformed id", &store.InvalidIDError{Field: "id", Value: "abc"}, http.StatusBadRequest, "Invalid id: abc"},
		{"duplicate", &store.DuplicateError{Field: "name", Value: "Intro"}, http.StatusBadRequest, "Duplicate field name (Intro)"},
		{"validation", &store.ValidationError{Errors: []store.FieldError{{Message: "A"}, {Message: "B"}}}, http.StatusBadRequest, "Invalid input data: A. B"},
		{"invalid token", auth.ErrInvalidToken, http.StatusUnauthorized, "Invalid token. Please log in again."},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized, "Your token has expired. Please log in again"},
		{"not found", fmt.Errorf("get bite: %w", store.ErrNotFound), http.StatusNotFound, "No record found with that ID"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, "Something went very wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := shape(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestErrors_Write(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	Errors{}.Write(rec, req, errors.New("db exploded"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Something went very wrong", body["message"])
	assert.NotContains(t, body, "stack")

	rec = httptest.NewRecorder()
	Errors{}.Write(rec, req, store.ErrNotFound)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "fail", body["status"])

	rec = httptest.NewRecorder()
	Errors{Development: true}.Write(rec, req, errors.New("db exploded"))
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "db exploded", body["error"])
	assert.NotContains(t, body, "stack")
}

func TestNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(Errors{})(rec, httptest.NewRequest(http.MethodGet, "/api/nothing?x=1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":"fail","message":"Cannot find /api/nothing?x=1 on the server"}`, rec.Body.String())
}
