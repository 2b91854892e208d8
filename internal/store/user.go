package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/types"
)

// UserSchema is the query surface of users.
var UserSchema = Schema{
	IDColumn: "u.id",
	Fields: []Field{
		{Name: "id", Column: "u.id", Kind: KindUUID, Filter: true},
		{Name: "name", Column: "u.name", Kind: KindText, Filter: true, Sortable: true},
		{Name: "username", Column: "u.username", Kind: KindText, Filter: true, Sortable: true},
		{Name: "email", Column: "u.email", Kind: KindText, Filter: true, Sortable: true},
		{Name: "role", Column: "u.role", Kind: KindText, Filter: true, Sortable: true},
		{Name: "photo", Column: "u.photo", Kind: KindText},
		{Name: "passwordChangedAt", Column: "u.password_changed_at", Kind: KindTime},
		{Name: "joinedOn", Column: "u.joined_on", Kind: KindTime, Filter: true, Sortable: true},
	},
	DefaultSort: []string{"-joinedOn"},
}

const userColumns = `
	u.id, u.name, u.username, u.email, u.role, u.photo, u.password_hash, u.password_changed_at,
	u.password_reset_token, u.password_reset_expires, u.active, u.joined_on`

// UserRepository handles persistence for users. Reads only ever return
// active users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) List(ctx context.Context, q Query) ([]types.User, error) {
	activeUsers(&q)

	where, args := q.Where(1)
	window, windowArgs := q.Window(len(args) + 1)
	query := fmt.Sprintf("SELECT %s\n\tFROM users u\n\t%s\n\t%s\n\t%s", userColumns, where, q.OrderBy(), window)

	rows, err := r.db.QueryContext(ctx, query, append(args, windowArgs...)...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	return r.findOne(ctx, "u.id", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, "u.email", strings.ToLower(strings.TrimSpace(email)))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return r.findOne(ctx, "u.username", strings.TrimSpace(username))
}

// GetByResetToken finds the user holding an unexpired reset token digest.
func (r *UserRepository) GetByResetToken(ctx context.Context, digest string, now time.Time) (types.User, error) {
	q := Query{}
	q.Filter("u.password_reset_token", OpEqual, digest)
	q.Filter("u.password_reset_expires", OpGreaterThan, now)
	return r.find(ctx, q)
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	user.Active = true

	const query = `
		INSERT INTO users (name, username, email, role, photo, password_hash, password_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, joined_on`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.Username,
		user.Email,
		user.Role,
		user.Photo,
		user.PasswordHash,
		user.PasswordChangedAt,
	).Scan(&user.ID, &user.JoinedOn); err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

// Update writes every mutable column of user, including the password and
// reset bookkeeping.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		UPDATE users
		SET name = $1,
			username = $2,
			email = $3,
			role = $4,
			photo = $5,
			password_hash = $6,
			password_changed_at = $7,
			password_reset_token = $8,
			password_reset_expires = $9,
			active = $10
		WHERE id = $11`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Name,
		user.Username,
		user.Email,
		user.Role,
		user.Photo,
		user.PasswordHash,
		user.PasswordChangedAt,
		user.PasswordResetToken,
		user.PasswordResetExpires,
		user.Active,
		user.ID,
	)
	if err != nil {
		return types.User{}, translateError(err)
	}
	if err := expectOne(result); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// Delete removes a user and their reviews, then recomputes the ratings of
// every bite they had reviewed.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT DISTINCT bite_id FROM reviews WHERE user_id = $1`, id)
		if err != nil {
			return err
		}
		var biteIDs []uuid.UUID
		for rows.Next() {
			var biteID uuid.UUID
			if err := rows.Scan(&biteID); err != nil {
				rows.Close()
				return err
			}
			biteIDs = append(biteIDs, biteID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return translateError(err)
		}
		if err := expectOne(result); err != nil {
			return err
		}

		for _, biteID := range biteIDs {
			if err := recalcRatings(ctx, tx, biteID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *UserRepository) findOne(ctx context.Context, column string, value any) (types.User, error) {
	q := Query{}
	q.Filter(column, OpEqual, value)
	return r.find(ctx, q)
}

func (r *UserRepository) find(ctx context.Context, q Query) (types.User, error) {
	activeUsers(&q)
	where, args := q.Where(1)

	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s\n\tFROM users u\n\t%s", userColumns, where), args...)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, translateError(err)
	}
	return user, nil
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Username,
		&user.Email,
		&user.Role,
		&user.Photo,
		&user.PasswordHash,
		&user.PasswordChangedAt,
		&user.PasswordResetToken,
		&user.PasswordResetExpires,
		&user.Active,
		&user.JoinedOn,
	); err != nil {
		return types.User{}, err
	}
	return user, nil
}
