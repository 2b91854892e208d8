package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/mail"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
)

const resetSubject = "Your password reset token (valid for 10 minutes)"

var (
	errMissingCredentials = NewError(http.StatusBadRequest, "Please provide a valid username/email and password")
	errBadCredentials     = NewError(http.StatusUnauthorized, "Incorrect email/username or password")
	errUserGone           = NewError(http.StatusUnauthorized, "The user belonging to that token no longer exists")
	errPasswordChanged    = NewError(http.StatusUnauthorized, "Your password was changed, please log in")
	errWrongPassword      = NewError(http.StatusUnauthorized, "Your current password is wrong, log out and hit forgot password if necessary")
	errNoSuchUser         = NewError(http.StatusNotFound, "There is no user with that email/username")
	errEmailFailed        = NewError(http.StatusInternalServerError, "There was an error sending the email, please try again later")
	errBadResetToken      = NewError(http.StatusBadRequest, "Token is invalid or has expired")
)

// SignupInput holds the only fields accepted at signup.
type SignupInput struct {
	Name            string  `json:"name"`
	Username        *string `json:"username"`
	Email           string  `json:"email"`
	Photo           *string `json:"photo"`
	Password        string  `json:"password"`
	PasswordConfirm string  `json:"passwordConfirm"`
}

// Credentials identify a user by email or username.
type Credentials struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// PasswordInput sets a new password.
type PasswordInput struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// Session is an authenticated user with a fresh token.
type Session struct {
	Token string
	User  types.User
}

type AuthOptions struct {
	BcryptCost    int
	ResetTokenTTL time.Duration
}

// AuthService encapsulates signup, login, session checks and password
// management.
type AuthService struct {
	users  UserRepository
	tokens *auth.Tokens
	mailer mail.Mailer
	opts   AuthOptions
	now    func() time.Time
}

func NewAuthService(users UserRepository, tokens *auth.Tokens, mailer mail.Mailer, opts AuthOptions) *AuthService {
	return &AuthService{users: users, tokens: tokens, mailer: mailer, opts: opts, now: time.Now}
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput) (Session, error) {
	user := types.User{Role: types.RoleUser, Photo: in.Photo}
	applyProfile(&user, &in.Name, in.Username, &in.Email)

	verr := &store.ValidationError{}
	if err := check(verr, passwordRules{Password: in.Password, PasswordConfirm: in.PasswordConfirm}, userMessages); err != nil {
		return Session{}, err
	}
	if err := validateUser(verr, user); err != nil {
		return Session{}, err
	}

	hash, err := auth.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash

	created, err := s.users.Create(ctx, user)
	if err != nil {
		return Session{}, err
	}
	return s.session(created)
}

// Login verifies credentials given by email or username.
func (s *AuthService) Login(ctx context.Context, in Credentials) (Session, error) {
	if (strings.TrimSpace(in.Email) == "" && strings.TrimSpace(in.Username) == "") || in.Password == "" {
		return Session{}, errMissingCredentials
	}

	user, err := s.lookup(ctx, in)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, errBadCredentials
		}
		return Session{}, err
	}
	if !auth.CheckPassword(user.PasswordHash, in.Password) {
		return Session{}, errBadCredentials
	}
	return s.session(user)
}

// Authenticate resolves a session token to its active user. Tokens issued
// before the last password change are rejected.
func (s *AuthService) Authenticate(ctx context.Context, token string) (types.User, error) {
	if strings.TrimSpace(token) == "" {
		return types.User{}, ErrUnauthenticated
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, errUserGone
		}
		return types.User{}, err
	}
	if user.ChangedPasswordAfter(claims.IssuedAt) {
		return types.User{}, errPasswordChanged
	}
	return user, nil
}

// UpdateMyPassword changes the authenticated user's password after
// checking the current one.
func (s *AuthService) UpdateMyPassword(ctx context.Context, in PasswordInput) (Session, error) {
	actor, ok := auth.UserFromContext(ctx)
	if !ok {
		return Session{}, ErrUnauthenticated
	}
	user, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, errWrongPassword
		}
		return Session{}, err
	}
	if !auth.CheckPassword(user.PasswordHash, in.PasswordCurrent) {
		return Session{}, errWrongPassword
	}

	if err := s.setPassword(&user, in.Password, in.PasswordConfirm); err != nil {
		return Session{}, err
	}
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return Session{}, err
	}
	return s.session(updated)
}

// ForgotPassword emails a single-use reset token. Only the token digest is
// stored. resetURL turns the plaintext token into the link sent to the user.
func (s *AuthService) ForgotPassword(ctx context.Context, in Credentials, resetURL func(token string) string) error {
	user, err := s.lookup(ctx, in)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errNoSuchUser
		}
		return err
	}

	token, digest, err := auth.NewResetToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	expires := s.now().Add(s.opts.ResetTokenTTL)
	user.PasswordResetToken = &digest
	user.PasswordResetExpires = &expires
	if user, err = s.users.Update(ctx, user); err != nil {
		return err
	}

	msg := mail.Message{
		To:      user.Email,
		Subject: resetSubject,
		Text: fmt.Sprintf("Forgot your password? Submit a PATCH request with your new password and passwordConfirm to:\n%s\n"+
			"If you didn't forget your password, please ignore this email.", resetURL(token)),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		slog.Error("failed to send password reset email", "user_id", user.ID, "error", err)
		user.PasswordResetToken = nil
		user.PasswordResetExpires = nil
		if _, rollbackErr := s.users.Update(ctx, user); rollbackErr != nil {
			slog.Error("failed to clear password reset token", "user_id", user.ID, "error", rollbackErr)
		}
		return errEmailFailed
	}
	return nil
}

// ResetPassword sets a new password for the holder of an unexpired reset
// token and consumes the token.
func (s *AuthService) ResetPassword(ctx context.Context, token string, in PasswordInput) (Session, error) {
	user, err := s.users.GetByResetToken(ctx, auth.HashResetToken(token), s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, errBadResetToken
		}
		return Session{}, err
	}

	if err := s.setPassword(&user, in.Password, in.PasswordConfirm); err != nil {
		return Session{}, err
	}
	user.PasswordResetToken = nil
	user.PasswordResetExpires = nil

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return Session{}, err
	}
	return s.session(updated)
}

func (s *AuthService) setPassword(user *types.User, password, confirm string) error {
	if err := validatePassword(&store.ValidationError{}, password, confirm); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password, s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	// one second back so a token issued right after still verifies
	changed := s.now().Add(-time.Second)
	user.PasswordHash = hash
	user.PasswordChangedAt = &changed
	return nil
}

func (s *AuthService) lookup(ctx context.Context, in Credentials) (types.User, error) {
	if email := strings.TrimSpace(in.Email); email != "" {
		return s.users.GetByEmail(ctx, email)
	}
	if username := strings.TrimSpace(in.Username); username != "" {
		return s.users.GetByUsername(ctx, username)
	}
	return types.User{}, store.ErrNotFound
}

func (s *AuthService) session(user types.User) (Session, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, User: user}, nil
}
