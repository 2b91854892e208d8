package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
	"github.com/shopspring/decimal"
)

// BiteRepository defines persistence operations for bites.
type BiteRepository interface {
	List(ctx context.Context, q store.Query, includeSecret bool) ([]types.Bite, error)
	Get(ctx context.Context, id uuid.UUID, includeSecret bool) (types.Bite, error)
	Create(ctx context.Context, bite types.Bite, coachIDs []uuid.UUID) (types.Bite, error)
	Update(ctx context.Context, bite types.Bite, coachIDs []uuid.UUID) (types.Bite, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) ([]types.BiteStats, error)
}

// BiteInput is the client-writable part of a bite. Nil fields are left
// unchanged on update. Rating aggregates and the slug are not writable.
type BiteInput struct {
	Name        *string          `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	Duration    *int             `json:"duration"`
	Summary     *string          `json:"summary"`
	Description *string          `json:"description"`
	StartDates  *[]time.Time     `json:"startDates"`
	Coach       *string          `json:"coach"`
	SecretBite  *bool            `json:"secretBite"`
	Coaches     *[]uuid.UUID     `json:"coaches"`
}

type biteRules struct {
	Name     string  `json:"name" validate:"required,min=5,max=40"`
	Price    float64 `json:"price" validate:"gte=0"`
	Duration int     `json:"duration" validate:"gte=0"`
	Summary  string  `json:"summary" validate:"required"`
	Coach    string  `json:"coach" validate:"coach"`
}

var biteMessages = messages{
	"name.required":    "A bite must have a name",
	"name.min":         "Keep the bite name longer than 5 characters",
	"name.max":         "Keep the bite name under 41 characters",
	"price.gte":        "A bite price cannot be negative",
	"duration.gte":     "A bite duration cannot be negative",
	"summary.required": "Please give the bite a short summary",
	"coach.coach":      "Please specify a recognized coach for the bite",
}

// BiteService encapsulates bite use-cases.
type BiteService struct {
	repo BiteRepository
}

func NewBiteService(repo BiteRepository) *BiteService {
	return &BiteService{repo: repo}
}

// List returns bites visible to the caller. Only admins see secret bites.
func (s *BiteService) List(ctx context.Context, q store.Query) ([]types.Bite, error) {
	return s.repo.List(ctx, q, auth.IsAdmin(ctx))
}

func (s *BiteService) Get(ctx context.Context, id uuid.UUID) (types.Bite, error) {
	return s.repo.Get(ctx, id, auth.IsAdmin(ctx))
}

func (s *BiteService) Create(ctx context.Context, in BiteInput) (types.Bite, error) {
	bite := types.Bite{Duration: 5, Coach: types.DefaultCoach}
	in.apply(&bite)

	verr := &store.ValidationError{}
	if in.Price == nil {
		verr.Errors = append(verr.Errors, store.FieldError{Field: "price", Message: "A bite must have a price"})
	}
	if err := validateBite(verr, bite); err != nil {
		return types.Bite{}, err
	}

	var coachIDs []uuid.UUID
	if in.Coaches != nil {
		coachIDs = *in.Coaches
	}
	return s.repo.Create(ctx, bite, coachIDs)
}

func (s *BiteService) Update(ctx context.Context, id uuid.UUID, in BiteInput) (types.Bite, error) {
	bite, err := s.repo.Get(ctx, id, true)
	if err != nil {
		return types.Bite{}, err
	}
	in.apply(&bite)

	if err := validateBite(&store.ValidationError{}, bite); err != nil {
		return types.Bite{}, err
	}

	var coachIDs []uuid.UUID
	if in.Coaches != nil {
		coachIDs = append([]uuid.UUID{}, *in.Coaches...)
	}
	updated, err := s.repo.Update(ctx, bite, coachIDs)
	if err != nil {
		return types.Bite{}, err
	}
	updated.Reviews = nil
	return updated, nil
}

func (s *BiteService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Stats reports per-duration aggregates over public bites.
func (s *BiteService) Stats(ctx context.Context) ([]types.BiteStats, error) {
	return s.repo.Stats(ctx)
}

func (in BiteInput) apply(b *types.Bite) {
	if in.Name != nil {
		b.Name = trimmed(in.Name)
	}
	if in.Price != nil {
		b.Price = *in.Price
	}
	if in.Duration != nil {
		b.Duration = *in.Duration
	}
	if in.Summary != nil {
		b.Summary = trimmed(in.Summary)
	}
	if in.Description != nil {
		b.Description = trimmed(in.Description)
	}
	if in.StartDates != nil {
		b.StartDates = *in.StartDates
	}
	if in.Coach != nil {
		b.Coach = trimmed(in.Coach)
	}
	if in.SecretBite != nil {
		b.SecretBite = *in.SecretBite
	}
}

func validateBite(verr *store.ValidationError, b types.Bite) error {
	rules := biteRules{
		Name:     b.Name,
		Price:    b.Price.InexactFloat64(),
		Duration: b.Duration,
		Summary:  b.Summary,
		Coach:    b.Coach,
	}
	if err := check(verr, rules, biteMessages); err != nil {
		return err
	}
	return result(verr)
}
