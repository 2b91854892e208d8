package types

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// prices and ratings are JSON numbers on the wire
	decimal.MarshalJSONWithoutQuotes = true
}

// DefaultCoach is assigned to bites created without a coach.
const DefaultCoach = "Heidi"

// Coaches lists the coach names a bite may be assigned to.
var Coaches = []string{DefaultCoach}

// Bite represents a bookable catalog item.
// Rating aggregates are derived from its reviews and never written by clients.
type Bite struct {
	// ID is the unique identifier of the bite.
	ID uuid.UUID `json:"id" db:"id"`

	// Name is the unique human-readable name of the bite.
	Name string `json:"name" db:"name"`

	// Slug is the URL-safe form of Name.
	Slug string `json:"slug" db:"slug"`

	// Price is the booking price.
	Price decimal.Decimal `json:"price" db:"price"`

	// Duration is the length of the bite, in minutes.
	Duration int `json:"duration" db:"duration"`

	// DurationHours is Duration expressed in hours, rounded to one decimal.
	DurationHours float64 `json:"durationHours" db:"-"`

	// AverageRatings is the mean review rating, rounded to two decimals.
	// It is null while the bite has no reviews.
	AverageRatings decimal.NullDecimal `json:"averageRatings" db:"average_ratings"`

	// NumRatings is the number of reviews of the bite.
	NumRatings int `json:"numRatings" db:"num_ratings"`

	// Summary is a short description shown in listings.
	Summary string `json:"summary" db:"summary"`

	// Description is the long-form description.
	Description string `json:"description,omitempty" db:"description"`

	// CreatedOn is the creation timestamp. It is used for the default
	// ordering but never serialized.
	CreatedOn time.Time `json:"-" db:"created_on"`

	// StartDates are the scheduled start dates of the bite.
	StartDates []time.Time `json:"startDates" db:"start_dates"`

	// Coach is the named coach leading the bite.
	Coach string `json:"coach" db:"coach"`

	// SecretBite hides the bite from non-admin reads.
	SecretBite bool `json:"secretBite,omitempty" db:"secret_bite"`

	// Coaches are the users coaching this bite, populated on read.
	Coaches []UserSummary `json:"coaches" db:"-"`

	// Reviews are populated when a single bite is read.
	Reviews []Review `json:"reviews,omitempty" db:"-"`
}

// DeriveVirtuals fills the fields computed from stored columns.
func (b *Bite) DeriveVirtuals() {
	b.DurationHours = math.Round(float64(b.Duration)/60*10) / 10
	if b.Coaches == nil {
		b.Coaches = []UserSummary{}
	}
	if b.StartDates == nil {
		b.StartDates = []time.Time{}
	}
}

// ValidCoach reports whether name is a recognized coach.
func ValidCoach(name string) bool {
	for _, coach := range Coaches {
		if coach == name {
			return true
		}
	}
	return false
}

// BiteStats is one row of the per-duration bite report.
type BiteStats struct {
	Duration       int                 `json:"duration"`
	NumBites       int                 `json:"numBites"`
	NumRatings     int                 `json:"numRatings"`
	TotalAveRating decimal.NullDecimal `json:"totalAveRating"`
	TotalAvePrice  decimal.Decimal     `json:"totalAvePrice"`
	MinPrice       decimal.Decimal     `json:"minPrice"`
	MaxPrice       decimal.Decimal     `json:"maxPrice"`
}
