package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"html"
	"io"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultBodyLimit caps JSON request bodies.
const DefaultBodyLimit = 10 << 10

var policy = bluemonday.StrictPolicy()

// password fields are stored hashed and never rendered
var rawFields = map[string]bool{
	"password":        true,
	"passwordConfirm": true,
	"passwordCurrent": true,
}

// BodyLimit caps non-multipart request bodies at limit bytes. Multipart
// bodies are limited by the handlers that accept them.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && !isMultipart(r) {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Sanitize rewrites JSON bodies: keys starting with "$" or containing "."
// are dropped and markup is stripped from string values.
func Sanitize(errs Errors) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody || !isJSON(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					errs.Write(w, r, errBodyTooLarge)
					return
				}
				errs.Write(w, r, errBadJSON)
				return
			}

			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			var doc any
			if err := dec.Decode(&doc); err == nil {
				if cleaned, err := json.Marshal(sanitizeValue(doc, "")); err == nil {
					body = cleaned
				}
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}

func sanitizeValue(v any, key string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
				continue
			}
			out[k] = sanitizeValue(item, k)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = sanitizeValue(item, key)
		}
		return val
	case string:
		if rawFields[key] {
			return val
		}
		return sanitizeString(val)
	default:
		return v
	}
}

// sanitizeString strips markup. The strict policy escapes entities, but
// values are stored as plain text, so they are unescaped again.
func sanitizeString(s string) string {
	return html.UnescapeString(policy.Sanitize(s))
}

func isJSON(r *http.Request) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	return ct == "" || strings.HasPrefix(ct, "application/json")
}
