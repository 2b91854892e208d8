package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/storage"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	List(ctx context.Context, q store.Query) ([]types.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByResetToken(ctx context.Context, digest string, now time.Time) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PhotoStore stores uploaded user photos.
type PhotoStore interface {
	SavePhoto(ctx context.Context, userID uuid.UUID, filename string, r io.Reader, size int64, contentType string) (string, error)
	OpenPhoto(ctx context.Context, key string) (storage.Object, error)
	DeletePhoto(ctx context.Context, key string) error
}

// UserInput is what admins may change on any user.
type UserInput struct {
	Name     *string `json:"name"`
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Photo    *string `json:"photo"`
}

// ProfileInput is what users may change on themselves.
type ProfileInput struct {
	Name            *string `json:"name"`
	Username        *string `json:"username"`
	Email           *string `json:"email"`
	Password        *string `json:"password"`
	PasswordConfirm *string `json:"passwordConfirm"`
}

// PhotoUpload is an uploaded profile photo.
type PhotoUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type userRules struct {
	Name     string `json:"name" validate:"required"`
	Username string `json:"username" validate:"omitempty,min=6,nowhitespace"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"oneof=admin coach user"`
}

type passwordRules struct {
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

var userMessages = messages{
	"name.required":            "A user must have a name",
	"username.min":             "Username must be at least 6 characters",
	"username.nowhitespace":    "Username cannot contain white spaces",
	"email.required":           "Please enter an email address",
	"email.email":              "Please enter a valid email address",
	"role.oneof":               "Role must be one of admin, coach or user",
	"password.required":        "The user needs a password",
	"password.min":             "Password must be at least 8 characters",
	"passwordConfirm.required": "The user needs a password confirmation",
	"passwordConfirm.eqfield":  "Passwords are not the same",
}

var errPasswordRoute = NewError(http.StatusBadRequest, "This route is not for password updates! Please use /updateMyPassword")

// UserService encapsulates user use-cases.
type UserService struct {
	repo   UserRepository
	photos PhotoStore
}

// NewUserService constructs a UserService. photos may be nil, which
// disables photo uploads.
func NewUserService(repo UserRepository, photos PhotoStore) *UserService {
	return &UserService{repo: repo, photos: photos}
}

func (s *UserService) List(ctx context.Context, q store.Query) ([]types.User, error) {
	return s.repo.List(ctx, q)
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// Create is not offered; accounts are created through signup.
func (s *UserService) Create(ctx context.Context, in UserInput) (types.User, error) {
	return types.User{}, NewError(http.StatusInternalServerError, "this route is not defined! please use /signup instead")
}

func (s *UserService) Update(ctx context.Context, id uuid.UUID, in UserInput) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	applyProfile(&user, in.Name, in.Username, in.Email)
	if in.Role != nil {
		user.Role = types.Role(strings.ToLower(trimmed(in.Role)))
	}
	if in.Photo != nil {
		photo := trimmed(in.Photo)
		user.Photo = &photo
	}

	if err := validateUser(&store.ValidationError{}, user); err != nil {
		return types.User{}, err
	}
	return s.repo.Update(ctx, user)
}

// Delete permanently removes a user and their reviews.
func (s *UserService) Delete(ctx context.Context, id uuid.UUID) error {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.removePhoto(ctx, user.Photo)
	return nil
}

// UpdateMe changes the authenticated user's profile and optionally
// replaces their photo.
func (s *UserService) UpdateMe(ctx context.Context, in ProfileInput, photo *PhotoUpload) (types.User, error) {
	if in.Password != nil || in.PasswordConfirm != nil {
		return types.User{}, errPasswordRoute
	}
	actor, ok := auth.UserFromContext(ctx)
	if !ok {
		return types.User{}, ErrUnauthenticated
	}

	user, err := s.repo.GetByID(ctx, actor.ID)
	if err != nil {
		return types.User{}, err
	}
	applyProfile(&user, in.Name, in.Username, in.Email)
	if err := validateUser(&store.ValidationError{}, user); err != nil {
		return types.User{}, err
	}

	previous := user.Photo
	if photo != nil {
		if s.photos == nil {
			return types.User{}, NewError(http.StatusBadRequest, "Photo uploads are not enabled")
		}
		key, err := s.photos.SavePhoto(ctx, user.ID, photo.Filename, photo.Body, photo.Size, photo.ContentType)
		if err != nil {
			return types.User{}, err
		}
		user.Photo = &key
	}

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, err
	}
	if photo != nil {
		s.removePhoto(ctx, previous)
	}
	return updated, nil
}

// DeleteMe deactivates the authenticated user. The account stays stored
// but is hidden from every read.
func (s *UserService) DeleteMe(ctx context.Context) error {
	actor, ok := auth.UserFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	user, err := s.repo.GetByID(ctx, actor.ID)
	if err != nil {
		return err
	}
	user.Active = false
	_, err = s.repo.Update(ctx, user)
	return err
}

// Photo opens the stored photo of a user.
func (s *UserService) Photo(ctx context.Context, id uuid.UUID) (storage.Object, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return storage.Object{}, err
	}
	if s.photos == nil || user.Photo == nil || !isStoredPhoto(*user.Photo) {
		return storage.Object{}, store.ErrNotFound
	}
	obj, err := s.photos.OpenPhoto(ctx, *user.Photo)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return storage.Object{}, store.ErrNotFound
	}
	return obj, err
}

func (s *UserService) removePhoto(ctx context.Context, key *string) {
	if s.photos == nil || key == nil || !isStoredPhoto(*key) {
		return
	}
	if err := s.photos.DeletePhoto(ctx, *key); err != nil {
		slog.Warn("failed to delete photo", "key", *key, "error", err)
	}
}

func isStoredPhoto(key string) bool {
	return strings.HasPrefix(key, "users/")
}

func applyProfile(user *types.User, name, username, email *string) {
	if name != nil {
		user.Name = trimmed(name)
	}
	if username != nil {
		if u := trimmed(username); u != "" {
			user.Username = &u
		} else {
			user.Username = nil
		}
	}
	if email != nil {
		user.Email = strings.ToLower(trimmed(email))
	}
}

func validateUser(verr *store.ValidationError, user types.User) error {
	rules := userRules{Name: user.Name, Email: user.Email, Role: string(user.Role)}
	if user.Username != nil {
		rules.Username = *user.Username
	}
	if err := check(verr, rules, userMessages); err != nil {
		return err
	}
	return result(verr)
}

func validatePassword(verr *store.ValidationError, password, confirm string) error {
	if err := check(verr, passwordRules{Password: password, PasswordConfirm: confirm}, userMessages); err != nil {
		return err
	}
	return result(verr)
}
