package types

import (
	"time"

	"github.com/google/uuid"
)

// Review is a user's rating of a bite.
// A user can review a given bite at most once.
type Review struct {
	// ID is the unique identifier of the review.
	ID uuid.UUID `json:"id" db:"id"`

	// Review is the review text.
	Review string `json:"review" db:"review"`

	// Rating is the number of stars, from 1 to 5.
	Rating int `json:"rating" db:"rating"`

	// CreatedOn is the timestamp when the review was written.
	CreatedOn time.Time `json:"createdOn" db:"created_on"`

	// BiteID identifies the reviewed bite.
	BiteID uuid.UUID `json:"bite" db:"bite_id"`

	// UserID identifies the author.
	UserID uuid.UUID `json:"-" db:"user_id"`

	// User is the populated author.
	User *UserSummary `json:"user" db:"-"`
}
