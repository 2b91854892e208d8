package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/types"
)

// ReviewSchema is the query surface of reviews.
var ReviewSchema = Schema{
	IDColumn: "r.id",
	Fields: []Field{
		{Name: "id", Column: "r.id", Kind: KindUUID, Filter: true},
		{Name: "review", Column: "r.review", Kind: KindText},
		{Name: "rating", Column: "r.rating", Kind: KindInt, Filter: true, Sortable: true},
		{Name: "createdOn", Column: "r.created_on", Kind: KindTime, Filter: true, Sortable: true},
		{Name: "bite", Column: "r.bite_id", Kind: KindUUID, Filter: true},
		{Name: "user"},
	},
	DefaultSort: []string{"-createdOn"},
}

const reviewSelect = `
	SELECT r.id, r.review, r.rating, r.created_on, r.bite_id, r.user_id, u.id, u.name, u.photo
	FROM reviews r` + populateReviewUser

// ReviewRepository handles persistence for reviews. Every write recomputes
// the rating aggregates of the reviewed bite in the same transaction.
type ReviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) List(ctx context.Context, q Query) ([]types.Review, error) {
	return listReviews(ctx, r.db, q)
}

func (r *ReviewRepository) Get(ctx context.Context, id uuid.UUID) (types.Review, error) {
	return getReview(ctx, r.db, id)
}

func (r *ReviewRepository) Create(ctx context.Context, review types.Review) (types.Review, error) {
	const query = `
		INSERT INTO reviews (review, rating, bite_id, user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	var created types.Review
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var id uuid.UUID
		if err := tx.QueryRowContext(ctx, query, review.Review, review.Rating, review.BiteID, review.UserID).Scan(&id); err != nil {
			return translateError(err)
		}
		if err := recalcRatings(ctx, tx, review.BiteID); err != nil {
			return err
		}
		var err error
		created, err = getReview(ctx, tx, id)
		return err
	})
	if err != nil {
		return types.Review{}, err
	}
	return created, nil
}

// Update writes the rating and text of a review.
func (r *ReviewRepository) Update(ctx context.Context, review types.Review) (types.Review, error) {
	const query = `
		UPDATE reviews
		SET review = $1,
			rating = $2
		WHERE id = $3
		RETURNING bite_id`
	var updated types.Review
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var biteID uuid.UUID
		if err := tx.QueryRowContext(ctx, query, review.Review, review.Rating, review.ID).Scan(&biteID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return translateError(err)
		}
		if err := recalcRatings(ctx, tx, biteID); err != nil {
			return err
		}
		var err error
		updated, err = getReview(ctx, tx, review.ID)
		return err
	})
	if err != nil {
		return types.Review{}, err
	}
	return updated, nil
}

func (r *ReviewRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM reviews WHERE id = $1 RETURNING bite_id`
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var biteID uuid.UUID
		if err := tx.QueryRowContext(ctx, query, id).Scan(&biteID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return translateError(err)
		}
		return recalcRatings(ctx, tx, biteID)
	})
}

func listReviews(ctx context.Context, db queryer, q Query) ([]types.Review, error) {
	where, args := q.Where(1)
	window, windowArgs := q.Window(len(args) + 1)
	query := fmt.Sprintf("%s\n\t%s\n\t%s\n\t%s", reviewSelect, where, q.OrderBy(), window)

	rows, err := db.QueryContext(ctx, query, append(args, windowArgs...)...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	reviews := make([]types.Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	return reviews, rows.Err()
}

func getReview(ctx context.Context, db queryer, id uuid.UUID) (types.Review, error) {
	review, err := scanReview(db.QueryRowContext(ctx, reviewSelect+"\n\tWHERE r.id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Review{}, ErrNotFound
		}
		return types.Review{}, translateError(err)
	}
	return review, nil
}

func scanReview(row rowScanner) (types.Review, error) {
	var review types.Review
	var userID uuid.NullUUID
	var userName sql.NullString
	var userPhoto *string
	if err := row.Scan(
		&review.ID,
		&review.Review,
		&review.Rating,
		&review.CreatedOn,
		&review.BiteID,
		&review.UserID,
		&userID,
		&userName,
		&userPhoto,
	); err != nil {
		return types.Review{}, err
	}
	scanReviewUser(&review, userID, userName, userPhoto)
	return review, nil
}
