package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
)

// ReviewRepository defines persistence operations for reviews.
type ReviewRepository interface {
	List(ctx context.Context, q store.Query) ([]types.Review, error)
	Get(ctx context.Context, id uuid.UUID) (types.Review, error)
	Create(ctx context.Context, review types.Review) (types.Review, error)
	Update(ctx context.Context, review types.Review) (types.Review, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ReviewInput is the client-writable part of a review. The author is
// always the authenticated user and is never read from the body.
type ReviewInput struct {
	Review *string `json:"review"`
	Rating *int    `json:"rating"`
	Bite   *string `json:"bite"`
}

type reviewRules struct {
	Review string `json:"review" validate:"required,min=3"`
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
}

var reviewMessages = messages{
	"review.required": "A review cannot be empty",
	"review.min":      "Please use at least 3 characters in the review",
	"rating.required": "Please rate the bite!",
	"rating.min":      "A rating must be at least 1 star",
	"rating.max":      "Ratings cannot be greater than 5 stars",
}

// ReviewService encapsulates review use-cases.
type ReviewService struct {
	repo ReviewRepository
}

func NewReviewService(repo ReviewRepository) *ReviewService {
	return &ReviewService{repo: repo}
}

func (s *ReviewService) List(ctx context.Context, q store.Query) ([]types.Review, error) {
	return s.repo.List(ctx, q)
}

func (s *ReviewService) Get(ctx context.Context, id uuid.UUID) (types.Review, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a review by the authenticated user. At most one review per
// user and bite is accepted.
func (s *ReviewService) Create(ctx context.Context, in ReviewInput) (types.Review, error) {
	actor, ok := auth.UserFromContext(ctx)
	if !ok {
		return types.Review{}, ErrUnauthenticated
	}

	verr := &store.ValidationError{}
	var biteID uuid.UUID
	if in.Bite == nil || trimmed(in.Bite) == "" {
		verr.Errors = append(verr.Errors, store.FieldError{Field: "bite", Message: "A review must belong to a bite"})
	} else {
		id, err := store.ParseID("bite", *in.Bite)
		if err != nil {
			return types.Review{}, err
		}
		biteID = id
	}

	review := types.Review{BiteID: biteID, UserID: actor.ID}
	in.apply(&review)
	if err := check(verr, reviewRules{Review: review.Review, Rating: review.Rating}, reviewMessages); err != nil {
		return types.Review{}, err
	}
	if err := result(verr); err != nil {
		return types.Review{}, err
	}
	return s.repo.Create(ctx, review)
}

// Update changes the rating and text of a review. Only admins may change
// reviews written by someone else.
func (s *ReviewService) Update(ctx context.Context, id uuid.UUID, in ReviewInput) (types.Review, error) {
	review, err := s.authorized(ctx, id)
	if err != nil {
		return types.Review{}, err
	}
	in.apply(&review)

	verr := &store.ValidationError{}
	if err := check(verr, reviewRules{Review: review.Review, Rating: review.Rating}, reviewMessages); err != nil {
		return types.Review{}, err
	}
	if err := result(verr); err != nil {
		return types.Review{}, err
	}
	return s.repo.Update(ctx, review)
}

func (s *ReviewService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.authorized(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *ReviewService) authorized(ctx context.Context, id uuid.UUID) (types.Review, error) {
	actor, ok := auth.UserFromContext(ctx)
	if !ok {
		return types.Review{}, ErrUnauthenticated
	}
	review, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Review{}, err
	}
	if actor.Role != types.RoleAdmin && review.UserID != actor.ID {
		return types.Review{}, ErrForbidden
	}
	return review, nil
}

func (in ReviewInput) apply(r *types.Review) {
	if in.Review != nil {
		r.Review = trimmed(in.Review)
	}
	if in.Rating != nil {
		r.Rating = *in.Rating
	}
}
