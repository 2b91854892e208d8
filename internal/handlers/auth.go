package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/services"
	"github.com/sapphybara/change-and-charm-api/types"
)

// CookieOptions configures the session cookie.
type CookieOptions struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// AuthHandler provides signup, login and password endpoints.
type AuthHandler struct {
	svc       *services.AuthService
	cookie    CookieOptions
	resetPath string
	errs      Errors
}

func NewAuthHandler(svc *services.AuthService, cookie CookieOptions, resetPath string, errs Errors) *AuthHandler {
	return &AuthHandler{svc: svc, cookie: cookie, resetPath: resetPath, errs: errs}
}

// Signup creates an account and starts a session.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var in services.SignupInput
	if err := decodeJSON(r, &in); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	session, err := h.svc.Signup(r.Context(), in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	h.sendSession(w, http.StatusCreated, session)
}

// Login starts a session for an email or username and password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in services.Credentials
	if err := decodeJSON(r, &in); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	session, err := h.svc.Login(r.Context(), in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	h.sendSession(w, http.StatusOK, session)
}

// ForgotPassword emails a reset link to the identified user.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in services.Credentials
	if err := decodeJSON(r, &in); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	err := h.svc.ForgotPassword(r.Context(), in, func(token string) string {
		return requestScheme(r) + "://" + r.Host + h.resetPath + token
	})
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: statusSuccess, Message: "Token sent to user's email"})
}

// ResetPassword sets a new password using an emailed reset token.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in services.PasswordInput
	if err := decodeJSON(r, &in); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	session, err := h.svc.ResetPassword(r.Context(), chi.URLParam(r, "token"), in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	h.sendSession(w, http.StatusOK, session)
}

// UpdateMyPassword changes the password of the logged in user.
func (h *AuthHandler) UpdateMyPassword(w http.ResponseWriter, r *http.Request) {
	var in services.PasswordInput
	if err := decodeJSON(r, &in); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	session, err := h.svc.UpdateMyPassword(r.Context(), in)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	h.sendSession(w, http.StatusOK, session)
}

// Protect requires a valid session and stores its user in the context.
func (h *AuthHandler) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.svc.Authenticate(r.Context(), h.sessionToken(r))
		if err != nil {
			h.errs.Write(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// Identify stores the session user in the context when a valid session is
// presented and lets anonymous requests through.
func (h *AuthHandler) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.sessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.svc.Authenticate(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// RestrictTo allows only the given roles. It must run after Protect.
func (h *AuthHandler) RestrictTo(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				h.errs.Write(w, r, services.ErrUnauthenticated)
				return
			}
			if !user.Role.In(roles...) {
				h.errs.Write(w, r, services.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *AuthHandler) sendSession(w http.ResponseWriter, status int, session services.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    session.Token,
		Path:     "/",
		Expires:  time.Now().Add(h.cookie.TTL),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, Envelope{
		Status: statusSuccess,
		Token:  session.Token,
		Data:   map[string]any{"user": session.User},
	})
}

// sessionToken reads a bearer token, falling back to the session cookie.
func (h *AuthHandler) sessionToken(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	if c, err := r.Cookie(h.cookie.Name); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
