package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/mail"
	"github.com/sapphybara/change-and-charm-api/internal/services"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
	"github.com/stretchr/testify/require"
)

const testSecret = "handlers-test-secret-0123456789abcdef"

type memUsers struct {
	byID map[uuid.UUID]types.User
}

func (m *memUsers) List(ctx context.Context, q store.Query) ([]types.User, error) {
	out := []types.User{}
	for _, u := range m.byID {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsers) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	u, ok := m.byID[id]
	if !ok || !u.Active {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) first(match func(types.User) bool) (types.User, error) {
	for _, u := range m.byID {
		if u.Active && match(u) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return m.first(func(u types.User) bool { return u.Email == email })
}

func (m *memUsers) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return m.first(func(u types.User) bool { return u.Username != nil && *u.Username == username })
}

func (m *memUsers) GetByResetToken(ctx context.Context, digest string, now time.Time) (types.User, error) {
	return m.first(func(u types.User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == digest &&
			u.PasswordResetExpires != nil && u.PasswordResetExpires.After(now)
	})
}

func (m *memUsers) Create(ctx context.Context, user types.User) (types.User, error) {
	for _, u := range m.byID {
		if u.Email == user.Email {
			return types.User{}, &store.DuplicateError{Field: "email", Value: user.Email}
		}
	}
	user.ID = uuid.New()
	user.Active = true
	user.JoinedOn = time.Now()
	m.byID[user.ID] = user
	return user, nil
}

func (m *memUsers) Update(ctx context.Context, user types.User) (types.User, error) {
	if _, ok := m.byID[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	m.byID[user.ID] = user
	return user, nil
}

func (m *memUsers) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

type memBites struct {
	bites     map[uuid.UUID]types.Bite
	lastQuery store.Query
}

func (m *memBites) List(ctx context.Context, q store.Query, includeSecret bool) ([]types.Bite, error) {
	m.lastQuery = q
	out := []types.Bite{}
	for _, b := range m.bites {
		if includeSecret || !b.SecretBite {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBites) Get(ctx context.Context, id uuid.UUID, includeSecret bool) (types.Bite, error) {
	b, ok := m.bites[id]
	if !ok || (b.SecretBite && !includeSecret) {
		return types.Bite{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memBites) Create(ctx context.Context, bite types.Bite, coachIDs []uuid.UUID) (types.Bite, error) {
	bite.ID = uuid.New()
	m.bites[bite.ID] = bite
	return bite, nil
}

func (m *memBites) Update(ctx context.Context, bite types.Bite, coachIDs []uuid.UUID) (types.Bite, error) {
	m.bites[bite.ID] = bite
	return bite, nil
}

func (m *memBites) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.bites[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.bites, id)
	return nil
}

func (m *memBites) Stats(ctx context.Context) ([]types.BiteStats, error) {
	return []types.BiteStats{{Duration: 5, NumBites: len(m.bites)}}, nil
}

type memReviews struct {
	reviews   map[uuid.UUID]types.Review
	lastQuery store.Query
}

func (m *memReviews) List(ctx context.Context, q store.Query) ([]types.Review, error) {
	m.lastQuery = q
	out := []types.Review{}
	for _, r := range m.reviews {
		out = append(out, r)
	}
	return out, nil
}

func (m *memReviews) Get(ctx context.Context, id uuid.UUID) (types.Review, error) {
	r, ok := m.reviews[id]
	if !ok {
		return types.Review{}, store.ErrNotFound
	}
	return r, nil
}

func (m *memReviews) Create(ctx context.Context, review types.Review) (types.Review, error) {
	review.ID = uuid.New()
	m.reviews[review.ID] = review
	return review, nil
}

func (m *memReviews) Update(ctx context.Context, review types.Review) (types.Review, error) {
	m.reviews[review.ID] = review
	return review, nil
}

func (m *memReviews) Delete(ctx context.Context, id uuid.UUID) error {
	delete(m.reviews, id)
	return nil
}

type memMailer struct {
	sent []mail.Message
}

func (m *memMailer) Send(ctx context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type testAPI struct {
	router  http.Handler
	users   *memUsers
	bites   *memBites
	reviews *memReviews
	mailer  *memMailer
	tokens  *auth.Tokens
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		users:   &memUsers{byID: map[uuid.UUID]types.User{}},
		bites:   &memBites{bites: map[uuid.UUID]types.Bite{}},
		reviews: &memReviews{reviews: map[uuid.UUID]types.Review{}},
		mailer:  &memMailer{},
		tokens:  auth.NewTokens(testSecret, time.Hour),
	}

	errs := Errors{}
	authSvc := services.NewAuthService(api.users, api.tokens, api.mailer, services.AuthOptions{
		BcryptCost:    4,
		ResetTokenTTL: 10 * time.Minute,
	})
	authH := NewAuthHandler(authSvc, CookieOptions{Name: "jwt", TTL: time.Hour}, "/api/users/resetPassword/", errs)
	bites := services.NewBiteService(api.bites)
	reviews := services.NewReviewService(api.reviews)
	users := services.NewUserService(api.users, nil)

	r := chi.NewRouter()
	r.Use(BodyLimit(DefaultBodyLimit), Sanitize(errs))
	r.Route("/api", func(r chi.Router) {
		r.Route("/bites", func(r chi.Router) { BiteRouter(r, bites, reviews, authH, errs) })
		r.Route("/reviews", func(r chi.Router) { ReviewRouter(r, reviews, authH, errs) })
		r.Route("/users", func(r chi.Router) { UserRouter(r, users, authH, 5<<20, errs) })
	})
	r.NotFound(NotFound(errs))
	api.router = r
	return api
}

// addUser stores an active user and returns it with a session token.
func (a *testAPI) addUser(t *testing.T, role types.Role, email, password string) (types.User, string) {
	t.Helper()
	hash, err := auth.HashPassword(password, 4)
	require.NoError(t, err)
	user := types.User{ID: uuid.New(), Name: "Test", Email: email, Role: role, PasswordHash: hash, Active: true}
	a.users.byID[user.ID] = user
	token, err := a.tokens.Issue(user.ID)
	require.NoError(t, err)
	return user, token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status  string                     `json:"status"`
	Results *int                       `json:"results"`
	Token   string                     `json:"token"`
	Message string                     `json:"message"`
	Data    map[string]json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}
