package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/lib/pq"
	"github.com/sapphybara/change-and-charm-api/types"
	"github.com/shopspring/decimal"
)

// Hooks run around repository reads and writes to keep derived state
// consistent. They are invoked explicitly by the repositories.

// visibleBites hides secret bites unless the caller may see them.
func visibleBites(q *Query, includeSecret bool) {
	if !includeSecret {
		q.Filter("b.secret_bite", OpEqual, false)
	}
}

// activeUsers hides soft-deleted users.
func activeUsers(q *Query) {
	q.Filter("u.active", OpEqual, true)
}

// beforeSaveBite normalizes text fields and derives the slug.
func beforeSaveBite(b *types.Bite) {
	b.Name = strings.TrimSpace(b.Name)
	b.Summary = strings.TrimSpace(b.Summary)
	b.Description = strings.TrimSpace(b.Description)
	if b.Coach == "" {
		b.Coach = types.DefaultCoach
	}
	b.Slug = slug.Make(b.Name)
}

// afterFindBite persists a re-derived slug when the stored one is stale.
func afterFindBite(ctx context.Context, q queryer, b *types.Bite) error {
	derived := slug.Make(b.Name)
	if derived == b.Slug {
		return nil
	}
	const query = `UPDATE bites SET slug = $1 WHERE id = $2`
	if _, err := q.ExecContext(ctx, query, derived, b.ID); err != nil {
		return translateError(err)
	}
	b.Slug = derived
	return nil
}

// recalcRatings recomputes a bite's rating count and mean from its reviews.
func recalcRatings(ctx context.Context, q queryer, biteID uuid.UUID) error {
	const statsQuery = `
		SELECT COUNT(*), ROUND(AVG(rating)::numeric, 2)
		FROM reviews
		WHERE bite_id = $1
		GROUP BY bite_id`

	var count int
	var avg decimal.NullDecimal
	err := q.QueryRowContext(ctx, statsQuery, biteID).Scan(&count, &avg)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if count == 0 {
		avg = decimal.NullDecimal{}
	}

	const updateQuery = `UPDATE bites SET num_ratings = $1, average_ratings = $2 WHERE id = $3`
	if _, err := q.ExecContext(ctx, updateQuery, count, avg, biteID); err != nil {
		return err
	}
	return nil
}

// populateCoaches loads the coach users of every bite in one query.
func populateCoaches(ctx context.Context, q queryer, bites []types.Bite) error {
	if len(bites) == 0 {
		return nil
	}

	ids := make([]string, len(bites))
	index := make(map[uuid.UUID]int, len(bites))
	for i := range bites {
		ids[i] = bites[i].ID.String()
		index[bites[i].ID] = i
		bites[i].Coaches = []types.UserSummary{}
	}

	const query = `
		SELECT bc.bite_id, u.id, u.name, u.email, u.role, u.photo
		FROM bite_coaches bc
		JOIN users u ON u.id = bc.user_id
		WHERE bc.bite_id = ANY($1::uuid[]) AND u.active
		ORDER BY bc.bite_id, bc.position`
	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var biteID uuid.UUID
		var coach types.UserSummary
		if err := rows.Scan(&biteID, &coach.ID, &coach.Name, &coach.Email, &coach.Role, &coach.Photo); err != nil {
			return err
		}
		if i, ok := index[biteID]; ok {
			bites[i].Coaches = append(bites[i].Coaches, coach)
		}
	}
	return rows.Err()
}

// populateBiteReviews attaches the reviews of a single bite.
func populateBiteReviews(ctx context.Context, q queryer, b *types.Bite) error {
	query := NewQuery(ReviewSchema)
	query.Filter("r.bite_id", OpEqual, b.ID)
	query.Limit = MaxLimit

	reviews, err := listReviews(ctx, q, query)
	if err != nil {
		return err
	}
	b.Reviews = reviews
	return nil
}

// populateReviewUser is the author join shared by every review read.
// Inactive authors are reported as absent.
const populateReviewUser = `
	LEFT JOIN users u ON u.id = r.user_id AND u.active`

func scanReviewUser(r *types.Review, id uuid.NullUUID, name sql.NullString, photo *string) {
	if !id.Valid {
		r.User = nil
		return
	}
	r.User = &types.UserSummary{ID: id.UUID, Name: name.String, Photo: photo}
}

// replaceCoaches rewrites the coach list of a bite in the given order.
func replaceCoaches(ctx context.Context, q queryer, biteID uuid.UUID, coachIDs []uuid.UUID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM bite_coaches WHERE bite_id = $1`, biteID); err != nil {
		return err
	}
	const insert = `INSERT INTO bite_coaches (bite_id, user_id, position) VALUES ($1, $2, $3)`
	for i, coachID := range coachIDs {
		if _, err := q.ExecContext(ctx, insert, biteID, coachID, i); err != nil {
			return translateError(err)
		}
	}
	return nil
}
