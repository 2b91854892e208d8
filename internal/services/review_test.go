package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewService_CreateUsesSessionUser(t *testing.T) {
	repo := newFakeReviews()
	svc := NewReviewService(repo)
	author := types.User{ID: uuid.New(), Role: types.RoleUser}
	ctx := auth.WithUser(context.Background(), author)
	biteID := uuid.New()

	review, err := svc.Create(ctx, ReviewInput{Review: ptr("Great bite"), Rating: ptr(5), Bite: ptr(biteID.String())})
	require.NoError(t, err)
	assert.Equal(t, author.ID, review.UserID)
	assert.Equal(t, biteID, review.BiteID)

	_, err = svc.Create(ctx, ReviewInput{Review: ptr("Second go"), Rating: ptr(4), Bite: ptr(biteID.String())})
	var dup *store.DuplicateError
	assert.ErrorAs(t, err, &dup)
}

func TestReviewService_CreateValidation(t *testing.T) {
	svc := NewReviewService(newFakeReviews())
	ctx := auth.WithUser(context.Background(), types.User{ID: uuid.New(), Role: types.RoleUser})

	_, err := svc.Create(ctx, ReviewInput{Review: ptr("ok"), Rating: ptr(7)})
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{
		"A review must belong to a bite",
		"Please use at least 3 characters in the review",
		"Ratings cannot be greater than 5 stars",
	}, verr.Messages())

	_, err = svc.Create(ctx, ReviewInput{Review: ptr("Great"), Rating: ptr(3), Bite: ptr("not-an-id")})
	var idErr *store.InvalidIDError
	assert.ErrorAs(t, err, &idErr)

	_, err = svc.Create(context.Background(), ReviewInput{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestReviewService_OnlyAuthorOrAdminMayChange(t *testing.T) {
	author := types.User{ID: uuid.New(), Role: types.RoleUser}
	other := types.User{ID: uuid.New(), Role: types.RoleUser}
	admin := types.User{ID: uuid.New(), Role: types.RoleAdmin}
	existing := types.Review{ID: uuid.New(), Review: "Nice one", Rating: 3, BiteID: uuid.New(), UserID: author.ID}
	repo := newFakeReviews(existing)
	svc := NewReviewService(repo)

	_, err := svc.Update(auth.WithUser(context.Background(), other), existing.ID, ReviewInput{Rating: ptr(1)})
	assert.True(t, IsStatus(err, http.StatusForbidden))
	assert.True(t, IsStatus(svc.Delete(auth.WithUser(context.Background(), other), existing.ID), http.StatusForbidden))

	updated, err := svc.Update(auth.WithUser(context.Background(), author), existing.ID, ReviewInput{Rating: ptr(4), Bite: ptr(uuid.NewString())})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Rating)
	assert.Equal(t, existing.BiteID, updated.BiteID)

	require.NoError(t, svc.Delete(auth.WithUser(context.Background(), admin), existing.ID))
	_, err = repo.Get(context.Background(), existing.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
