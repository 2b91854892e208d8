package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/internal/mail"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
)

type fakeUsers struct {
	byID    map[uuid.UUID]types.User
	updates int
}

func newFakeUsers(users ...types.User) *fakeUsers {
	f := &fakeUsers{byID: map[uuid.UUID]types.User{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) List(ctx context.Context, q store.Query) ([]types.User, error) {
	out := make([]types.User, 0, len(f.byID))
	for _, u := range f.byID {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	u, ok := f.byID[id]
	if !ok || !u.Active {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) find(match func(types.User) bool) (types.User, error) {
	for _, u := range f.byID {
		if u.Active && match(u) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return f.find(func(u types.User) bool { return u.Email == email })
}

func (f *fakeUsers) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return f.find(func(u types.User) bool { return u.Username != nil && *u.Username == username })
}

func (f *fakeUsers) GetByResetToken(ctx context.Context, digest string, now time.Time) (types.User, error) {
	return f.find(func(u types.User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == digest &&
			u.PasswordResetExpires != nil && u.PasswordResetExpires.After(now)
	})
}

func (f *fakeUsers) Create(ctx context.Context, user types.User) (types.User, error) {
	for _, u := range f.byID {
		if u.Email == user.Email {
			return types.User{}, &store.DuplicateError{Field: "email", Value: user.Email}
		}
	}
	user.ID = uuid.New()
	user.Active = true
	user.JoinedOn = time.Now()
	f.byID[user.ID] = user
	return user, nil
}

func (f *fakeUsers) Update(ctx context.Context, user types.User) (types.User, error) {
	if _, ok := f.byID[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	f.updates++
	f.byID[user.ID] = user
	return user, nil
}

func (f *fakeUsers) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeBites struct {
	bites         map[uuid.UUID]types.Bite
	includeSecret bool
	coachIDs      []uuid.UUID
}

func newFakeBites(bites ...types.Bite) *fakeBites {
	f := &fakeBites{bites: map[uuid.UUID]types.Bite{}}
	for _, b := range bites {
		f.bites[b.ID] = b
	}
	return f
}

func (f *fakeBites) List(ctx context.Context, q store.Query, includeSecret bool) ([]types.Bite, error) {
	f.includeSecret = includeSecret
	out := []types.Bite{}
	for _, b := range f.bites {
		if includeSecret || !b.SecretBite {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBites) Get(ctx context.Context, id uuid.UUID, includeSecret bool) (types.Bite, error) {
	b, ok := f.bites[id]
	if !ok || (b.SecretBite && !includeSecret) {
		return types.Bite{}, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeBites) Create(ctx context.Context, bite types.Bite, coachIDs []uuid.UUID) (types.Bite, error) {
	bite.ID = uuid.New()
	f.coachIDs = coachIDs
	f.bites[bite.ID] = bite
	return bite, nil
}

func (f *fakeBites) Update(ctx context.Context, bite types.Bite, coachIDs []uuid.UUID) (types.Bite, error) {
	f.coachIDs = coachIDs
	f.bites[bite.ID] = bite
	return bite, nil
}

func (f *fakeBites) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.bites[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.bites, id)
	return nil
}

func (f *fakeBites) Stats(ctx context.Context) ([]types.BiteStats, error) {
	return []types.BiteStats{}, nil
}

type fakeReviews struct {
	reviews map[uuid.UUID]types.Review
}

func newFakeReviews(reviews ...types.Review) *fakeReviews {
	f := &fakeReviews{reviews: map[uuid.UUID]types.Review{}}
	for _, r := range reviews {
		f.reviews[r.ID] = r
	}
	return f
}

func (f *fakeReviews) List(ctx context.Context, q store.Query) ([]types.Review, error) {
	out := []types.Review{}
	for _, r := range f.reviews {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeReviews) Get(ctx context.Context, id uuid.UUID) (types.Review, error) {
	r, ok := f.reviews[id]
	if !ok {
		return types.Review{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeReviews) Create(ctx context.Context, review types.Review) (types.Review, error) {
	for _, r := range f.reviews {
		if r.BiteID == review.BiteID && r.UserID == review.UserID {
			return types.Review{}, &store.DuplicateError{Field: "bite, user"}
		}
	}
	review.ID = uuid.New()
	f.reviews[review.ID] = review
	return review, nil
}

func (f *fakeReviews) Update(ctx context.Context, review types.Review) (types.Review, error) {
	f.reviews[review.ID] = review
	return review, nil
}

func (f *fakeReviews) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.reviews, id)
	return nil
}

type fakeMailer struct {
	sent []mail.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg mail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}
