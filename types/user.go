package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleCoach Role = "coach"
	RoleUser  Role = "user"
)

// Roles lists every recognized role.
var Roles = []Role{RoleAdmin, RoleCoach, RoleUser}

// ParseRole converts a string into a Role, reporting whether it is recognized.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	return role, role.Valid()
}

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	for _, role := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// In reports whether r is contained in the allow-list.
func (r Role) In(allowed ...Role) bool {
	for _, role := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// User represents an account in the system.
// It contains identity, role, and password bookkeeping metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID uuid.UUID `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Username is the optional unique login name chosen by the user.
	Username *string `json:"username,omitempty" db:"username"`

	// Email is the user's lower-cased email address.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" db:"role"`

	// Photo is the object storage key of the user's uploaded photo.
	Photo *string `json:"photo,omitempty" db:"photo"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// PasswordChangedAt is the moment the password was last changed.
	// Session tokens issued before this moment are rejected.
	PasswordChangedAt *time.Time `json:"passwordChangedAt,omitempty" db:"password_changed_at"`

	// PasswordResetToken is the sha256 hex digest of an emailed reset token.
	PasswordResetToken *string `json:"-" db:"password_reset_token"`

	// PasswordResetExpires is the moment the pending reset token stops being valid.
	PasswordResetExpires *time.Time `json:"-" db:"password_reset_expires"`

	// Active is false once the user deleted their own account.
	Active bool `json:"-" db:"active"`

	// JoinedOn is the timestamp when the account was created.
	JoinedOn time.Time `json:"joinedOn" db:"joined_on"`
}

// ChangedPasswordAfter reports whether the password changed after a token
// issued at issuedAt, compared at second precision.
func (u User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return u.PasswordChangedAt.Unix() > issuedAt.Unix()
}

// UserSummary is the public projection of a user embedded in other records.
type UserSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
	Role  Role      `json:"role,omitempty"`
	Photo *string   `json:"photo,omitempty"`
}
