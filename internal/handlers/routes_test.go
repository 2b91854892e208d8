package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupSetsSessionCookie(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/users/signup", "", map[string]any{
		"name":            "Ada",
		"email":           "ada@example.com",
		"password":        "pass1234",
		"passwordConfirm": "pass1234",
		"role":            "admin",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decode(t, rec)
	assert.Equal(t, "success", env.Status)
	assert.NotEmpty(t, env.Token)
	assert.NotContains(t, rec.Body.String(), "pass1234")
	assert.NotContains(t, rec.Body.String(), "password")

	var user types.User
	require.NoError(t, json.Unmarshal(env.Data["user"], &user))
	assert.Equal(t, types.RoleUser, user.Role)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "jwt", cookies[0].Name)
	assert.Equal(t, env.Token, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLoginFailures(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, types.RoleUser, "ada@example.com", "pass1234")

	rec := api.do(t, http.MethodPost, "/api/users/login", "", map[string]string{"email": "ada@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please provide a valid username/email and password", decode(t, rec).Message)

	rec = api.do(t, http.MethodPost, "/api/users/login", "", map[string]string{"email": "ada@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Incorrect email/username or password", decode(t, rec).Message)

	rec = api.do(t, http.MethodPost, "/api/users/login", "", map[string]string{"email": "ada@example.com", "password": "pass1234"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtect(t *testing.T) {
	api := newTestAPI(t)
	user, token := api.addUser(t, types.RoleUser, "ada@example.com", "pass1234")

	rec := api.do(t, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "You are not logged in, do so to get access", decode(t, rec).Message)

	rec = api.do(t, http.MethodGet, "/api/users/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token. Please log in again.", decode(t, rec).Message)

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: token})
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var me types.User
	require.NoError(t, json.Unmarshal(decode(t, rec).Data["data"], &me))
	assert.Equal(t, user.ID, me.ID)
}

func TestRestrictTo(t *testing.T) {
	api := newTestAPI(t)
	_, userToken := api.addUser(t, types.RoleUser, "ada@example.com", "pass1234")
	_, adminToken := api.addUser(t, types.RoleAdmin, "root@example.com", "pass1234")

	bite := map[string]any{"name": "Intro to Charm", "price": 10, "summary": "A short one"}

	rec := api.do(t, http.MethodPost, "/api/bites", userToken, bite)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You do not have permission to do that", decode(t, rec).Message)

	rec = api.do(t, http.MethodPost, "/api/bites", adminToken, bite)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/users", adminToken, map[string]string{"name": "X"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "this route is not defined! please use /signup instead", env.Message)
}

func TestBiteListHidesSecretBites(t *testing.T) {
	api := newTestAPI(t)
	_, adminToken := api.addUser(t, types.RoleAdmin, "root@example.com", "pass1234")
	public := types.Bite{ID: uuid.New(), Name: "Public bite", Price: decimal.NewFromInt(5)}
	secret := types.Bite{ID: uuid.New(), Name: "Secret bite", Price: decimal.NewFromInt(9), SecretBite: true}
	api.bites.bites[public.ID] = public
	api.bites.bites[secret.ID] = secret

	rec := api.do(t, http.MethodGet, "/api/bites", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	require.NotNil(t, env.Results)
	assert.Equal(t, 1, *env.Results)

	rec = api.do(t, http.MethodGet, "/api/bites", adminToken, nil)
	assert.Equal(t, 2, *decode(t, rec).Results)

	rec = api.do(t, http.MethodGet, "/api/bites/"+secret.ID.String(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBiteListQuery(t *testing.T) {
	api := newTestAPI(t)
	b := types.Bite{ID: uuid.New(), Name: "Public bite", Price: decimal.NewFromInt(5), Coach: "Heidi", Summary: "s"}
	api.bites.bites[b.ID] = b

	rec := api.do(t, http.MethodGet, "/api/bites?fields=name,price&price[lt]=10&page=2&limit=3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, api.bites.lastQuery.Page)
	assert.Equal(t, 3, api.bites.lastQuery.Limit)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, rec).Data["data"], &items))
	require.Len(t, items, 1)
	assert.ElementsMatch(t, []string{"id", "name", "price"}, keys(items[0]))

	rec = api.do(t, http.MethodGet, "/api/bites?rating[foo]=1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/bites?fields=name,-price", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid input data: Projection cannot have a mix of inclusion and exclusion", decode(t, rec).Message)
}

func TestTopCheapAlias(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/bites/top-cheap", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q := api.bites.lastQuery
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, []string{"name", "price", "averageRatings", "coach"}, q.Include)
	require.Len(t, q.Sort, 3)
	assert.True(t, q.Sort[2].Desc)

	api.do(t, http.MethodGet, "/api/bites/top-cheap?limit=2", "", nil)
	assert.Equal(t, 2, api.bites.lastQuery.Limit)
}

func TestBiteStats(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/bites/bite-stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, 1, *env.Results)
	assert.Contains(t, env.Data, "stats")
}

func TestMalformedID(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/bites/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid id: abc", decode(t, rec).Message)
}

func TestNestedReviews(t *testing.T) {
	api := newTestAPI(t)
	user, token := api.addUser(t, types.RoleUser, "ada@example.com", "pass1234")
	biteID := uuid.New()

	rec := api.do(t, http.MethodPost, "/api/bites/"+biteID.String()+"/reviews", token, map[string]any{
		"review": "Lovely bite",
		"rating": 4,
		"user":   uuid.NewString(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, api.reviews.reviews, 1)
	for _, r := range api.reviews.reviews {
		assert.Equal(t, biteID, r.BiteID)
		assert.Equal(t, user.ID, r.UserID)
	}

	rec = api.do(t, http.MethodGet, "/api/bites/"+biteID.String()+"/reviews", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, api.reviews.lastQuery.Conditions, 1)
	assert.Equal(t, "r.bite_id", api.reviews.lastQuery.Conditions[0].Column)
	assert.Equal(t, biteID, api.reviews.lastQuery.Conditions[0].Value)

	rec = api.do(t, http.MethodGet, "/api/bites/"+biteID.String()+"/reviews", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReviewOwnership(t *testing.T) {
	api := newTestAPI(t)
	owner, _ := api.addUser(t, types.RoleUser, "ada@example.com", "pass1234")
	_, otherToken := api.addUser(t, types.RoleUser, "bob@example.com", "pass1234")
	_, adminToken := api.addUser(t, types.RoleAdmin, "root@example.com", "pass1234")
	review := types.Review{ID: uuid.New(), Review: "Nice one", Rating: 5, BiteID: uuid.New(), UserID: owner.ID}
	api.reviews.reviews[review.ID] = review

	rec := api.do(t, http.MethodPatch, "/api/reviews/"+review.ID.String(), otherToken, map[string]any{"rating": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/reviews/"+review.ID.String(), adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestForgotPasswordBuildsResetURL(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, types.RoleUser, "ada@example.com", "pass1234")

	req := httptest.NewRequest(http.MethodPost, "http://bites.example.com/api/users/forgotPassword", strings.NewReader(`{"email":"ada@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Token sent to user's email", decode(t, rec).Message)
	require.Len(t, api.mailer.sent, 1)
	assert.Contains(t, api.mailer.sent[0].Text, "https://bites.example.com/api/users/resetPassword/")

	rec = api.do(t, http.MethodPatch, "/api/users/resetPassword/unknown", "", map[string]string{
		"password":        "newpass123",
		"passwordConfirm": "newpass123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Token is invalid or has expired", decode(t, rec).Message)
}

func TestUpdateMe(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.addUser(t, types.RoleUser, "ada@example.com", "pass1234")

	rec := api.do(t, http.MethodPatch, "/api/users/updateMe", token, map[string]string{"password": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "This route is not for password updates! Please use /updateMyPassword", decode(t, rec).Message)

	rec = api.do(t, http.MethodPatch, "/api/users/updateMe", token, map[string]string{"name": "Ada L"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var user types.User
	require.NoError(t, json.Unmarshal(decode(t, rec).Data["user"], &user))
	assert.Equal(t, "Ada L", user.Name)
}

func TestUpdateMeRejectsNonImages(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.addUser(t, types.RoleUser, "ada@example.com", "pass1234")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "Ada"))
	part, err := mw.CreateFormFile("photo", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("plain text"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPatch, "/api/users/updateMe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Not an image! Please upload only images", decode(t, rec).Message)
}

func TestDeleteMe(t *testing.T) {
	api := newTestAPI(t)
	user, token := api.addUser(t, types.RoleUser, "ada@example.com", "pass1234")

	rec := api.do(t, http.MethodDelete, "/api/users/deleteMe", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, api.users.byID[user.ID].Active)

	rec = api.do(t, http.MethodGet, "/api/users/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "The user belonging to that token no longer exists", decode(t, rec).Message)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
