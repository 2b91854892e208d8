package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sapphybara/change-and-charm-api/types"
)

// BiteSchema is the query surface of bites.
var BiteSchema = Schema{
	IDColumn: "b.id",
	Fields: []Field{
		{Name: "id", Column: "b.id", Kind: KindUUID, Filter: true},
		{Name: "name", Column: "b.name", Kind: KindText, Filter: true, Sortable: true},
		{Name: "slug", Column: "b.slug", Kind: KindText, Filter: true},
		{Name: "price", Column: "b.price", Kind: KindNumeric, Filter: true, Sortable: true},
		{Name: "duration", Column: "b.duration", Kind: KindInt, Filter: true, Sortable: true},
		{Name: "durationHours"},
		{Name: "averageRatings", Column: "b.average_ratings", Kind: KindNumeric, Filter: true, Sortable: true},
		{Name: "numRatings", Column: "b.num_ratings", Kind: KindInt, Filter: true, Sortable: true},
		{Name: "summary", Column: "b.summary", Kind: KindText},
		{Name: "description", Column: "b.description", Kind: KindText},
		{Name: "createdOn", Column: "b.created_on", Kind: KindTime, Filter: true, Sortable: true},
		{Name: "startDates"},
		{Name: "coach", Column: "b.coach", Kind: KindText, Filter: true, Sortable: true},
		{Name: "secretBite", Column: "b.secret_bite", Kind: KindBool},
		{Name: "coaches"},
		{Name: "reviews"},
	},
	DefaultSort: []string{"-createdOn", "-price"},
}

const biteColumns = `
	b.id, b.name, b.slug, b.price, b.duration, b.average_ratings, b.num_ratings,
	b.summary, b.description, b.created_on, array_to_json(b.start_dates), b.coach, b.secret_bite`

// BiteRepository handles persistence for bites.
type BiteRepository struct {
	db *sql.DB
}

func NewBiteRepository(db *sql.DB) *BiteRepository {
	return &BiteRepository{db: db}
}

// List returns one page of bites matching q. Secret bites are only
// included when includeSecret is set.
func (r *BiteRepository) List(ctx context.Context, q Query, includeSecret bool) ([]types.Bite, error) {
	visibleBites(&q, includeSecret)

	where, args := q.Where(1)
	window, windowArgs := q.Window(len(args) + 1)
	query := fmt.Sprintf("SELECT %s\n\tFROM bites b\n\t%s\n\t%s\n\t%s", biteColumns, where, q.OrderBy(), window)

	rows, err := r.db.QueryContext(ctx, query, append(args, windowArgs...)...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	bites := make([]types.Bite, 0)
	for rows.Next() {
		bite, err := scanBite(rows)
		if err != nil {
			return nil, err
		}
		bites = append(bites, bite)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := populateCoaches(ctx, r.db, bites); err != nil {
		return nil, err
	}
	return bites, nil
}

// Get returns a single bite with its coaches and reviews populated. A stale
// slug is repaired on the way out.
func (r *BiteRepository) Get(ctx context.Context, id uuid.UUID, includeSecret bool) (types.Bite, error) {
	bite, err := r.find(ctx, r.db, id, includeSecret)
	if err != nil {
		return types.Bite{}, err
	}
	if err := afterFindBite(ctx, r.db, &bite); err != nil {
		return types.Bite{}, err
	}

	bites := []types.Bite{bite}
	if err := populateCoaches(ctx, r.db, bites); err != nil {
		return types.Bite{}, err
	}
	bite = bites[0]
	if err := populateBiteReviews(ctx, r.db, &bite); err != nil {
		return types.Bite{}, err
	}
	return bite, nil
}

// Create inserts a bite and its coach assignments.
func (r *BiteRepository) Create(ctx context.Context, bite types.Bite, coachIDs []uuid.UUID) (types.Bite, error) {
	beforeSaveBite(&bite)

	const query = `
		INSERT INTO bites (name, slug, price, duration, summary, description, start_dates, coach, secret_bite)
		VALUES ($1, $2, $3, $4, $5, $6, $7::timestamptz[], $8, $9)
		RETURNING id, created_on`
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(
			ctx,
			query,
			bite.Name,
			bite.Slug,
			bite.Price,
			bite.Duration,
			bite.Summary,
			bite.Description,
			startDatesParam(bite.StartDates),
			bite.Coach,
			bite.SecretBite,
		).Scan(&bite.ID, &bite.CreatedOn); err != nil {
			return translateError(err)
		}
		return replaceCoaches(ctx, tx, bite.ID, coachIDs)
	})
	if err != nil {
		return types.Bite{}, err
	}

	bites := []types.Bite{bite}
	if err := populateCoaches(ctx, r.db, bites); err != nil {
		return types.Bite{}, err
	}
	bites[0].DeriveVirtuals()
	return bites[0], nil
}

// Update writes every client-editable column of bite. When coachIDs is
// non-nil the coach assignments are replaced.
func (r *BiteRepository) Update(ctx context.Context, bite types.Bite, coachIDs []uuid.UUID) (types.Bite, error) {
	beforeSaveBite(&bite)

	const query = `
		UPDATE bites
		SET name = $1,
			slug = $2,
			price = $3,
			duration = $4,
			summary = $5,
			description = $6,
			start_dates = $7::timestamptz[],
			coach = $8,
			secret_bite = $9
		WHERE id = $10`
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(
			ctx,
			query,
			bite.Name,
			bite.Slug,
			bite.Price,
			bite.Duration,
			bite.Summary,
			bite.Description,
			startDatesParam(bite.StartDates),
			bite.Coach,
			bite.SecretBite,
			bite.ID,
		)
		if err != nil {
			return translateError(err)
		}
		if err := expectOne(result); err != nil {
			return err
		}
		if coachIDs == nil {
			return nil
		}
		return replaceCoaches(ctx, tx, bite.ID, coachIDs)
	})
	if err != nil {
		return types.Bite{}, err
	}

	bites := []types.Bite{bite}
	if err := populateCoaches(ctx, r.db, bites); err != nil {
		return types.Bite{}, err
	}
	bites[0].DeriveVirtuals()
	return bites[0], nil
}

// Delete removes a bite. Its reviews and coach assignments cascade.
func (r *BiteRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM bites WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return translateError(err)
	}
	return expectOne(result)
}

// Stats groups public bites by duration, cheapest group first.
func (r *BiteRepository) Stats(ctx context.Context) ([]types.BiteStats, error) {
	q := Query{}
	visibleBites(&q, false)
	where, args := q.Where(1)

	query := fmt.Sprintf(`
		SELECT b.duration,
			COUNT(*),
			COALESCE(SUM(b.num_ratings), 0),
			ROUND(AVG(b.average_ratings), 2),
			ROUND(AVG(b.price), 2),
			MIN(b.price),
			MAX(b.price)
		FROM bites b
		%s
		GROUP BY b.duration
		ORDER BY AVG(b.price) ASC, b.duration ASC`, where)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]types.BiteStats, 0)
	for rows.Next() {
		var s types.BiteStats
		if err := rows.Scan(
			&s.Duration,
			&s.NumBites,
			&s.NumRatings,
			&s.TotalAveRating,
			&s.TotalAvePrice,
			&s.MinPrice,
			&s.MaxPrice,
		); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// CoachIDs returns the ordered coach assignments of a bite.
func (r *BiteRepository) CoachIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	const query = `SELECT user_id FROM bite_coaches WHERE bite_id = $1 ORDER BY position`
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var coachID uuid.UUID
		if err := rows.Scan(&coachID); err != nil {
			return nil, err
		}
		ids = append(ids, coachID)
	}
	return ids, rows.Err()
}

func (r *BiteRepository) find(ctx context.Context, q queryer, id uuid.UUID, includeSecret bool) (types.Bite, error) {
	query := Query{}
	query.Filter("b.id", OpEqual, id)
	visibleBites(&query, includeSecret)
	where, args := query.Where(1)

	row := q.QueryRowContext(ctx, fmt.Sprintf("SELECT %s\n\tFROM bites b\n\t%s", biteColumns, where), args...)
	bite, err := scanBite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Bite{}, ErrNotFound
		}
		return types.Bite{}, translateError(err)
	}
	return bite, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBite(row rowScanner) (types.Bite, error) {
	var bite types.Bite
	var startDatesJSON []byte
	if err := row.Scan(
		&bite.ID,
		&bite.Name,
		&bite.Slug,
		&bite.Price,
		&bite.Duration,
		&bite.AverageRatings,
		&bite.NumRatings,
		&bite.Summary,
		&bite.Description,
		&bite.CreatedOn,
		&startDatesJSON,
		&bite.Coach,
		&bite.SecretBite,
	); err != nil {
		return types.Bite{}, err
	}

	if len(startDatesJSON) > 0 {
		if err := json.Unmarshal(startDatesJSON, &bite.StartDates); err != nil {
			return types.Bite{}, fmt.Errorf("decode start dates: %w", err)
		}
	}
	bite.DeriveVirtuals()
	return bite, nil
}

func startDatesParam(dates []time.Time) any {
	values := make([]string, len(dates))
	for i, d := range dates {
		values[i] = d.UTC().Format(time.RFC3339Nano)
	}
	return pq.Array(values)
}
