package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sapphybara/change-and-charm-api/internal/auth"
	"github.com/sapphybara/change-and-charm-api/internal/services"
	"github.com/sapphybara/change-and-charm-api/internal/store"
	"github.com/sapphybara/change-and-charm-api/types"
)

const (
	formFieldPhoto    = "photo"
	multipartOverhead = 1 << 20
)

var (
	errNotAnImage   = services.NewError(http.StatusBadRequest, "Not an image! Please upload only images")
	errBadMultipart = services.NewError(http.StatusBadRequest, "Invalid multipart form")
)

// UserHandler provides HTTP handlers for users and the logged in user.
type UserHandler struct {
	*Resource[types.User, services.UserInput]
	users    *services.UserService
	maxPhoto int64
}

func NewUserHandler(users *services.UserService, maxPhoto int64, errs Errors) *UserHandler {
	return &UserHandler{
		Resource: NewResource[types.User, services.UserInput](users, store.UserSchema, errs),
		users:    users,
		maxPhoto: maxPhoto,
	}
}

// UserRouter registers account and user administration routes.
func UserRouter(r chi.Router, users *services.UserService, authH *AuthHandler, maxPhoto int64, errs Errors) {
	h := NewUserHandler(users, maxPhoto, errs)

	r.Post("/signup", authH.Signup)
	r.Post("/login", authH.Login)
	r.Post("/forgotPassword", authH.ForgotPassword)
	r.Patch("/resetPassword/{token}", authH.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(authH.Protect)
		r.Get("/me", h.Me)
		r.Patch("/updateMyPassword", authH.UpdateMyPassword)
		r.Patch("/updateMe", h.UpdateMe)
		r.Delete("/deleteMe", h.DeleteMe)
		r.Get("/{id}/photo", h.Photo)

		r.Group(func(r chi.Router) {
			r.Use(authH.RestrictTo(types.RoleAdmin))
			r.Get("/", h.List)
			r.Post("/", h.Create)
			r.Get("/{id}", h.Get)
			r.Patch("/{id}", h.Update)
			r.Delete("/{id}", h.Delete)
		})
	})
}

// Me returns the logged in user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.errs.Write(w, r, services.ErrUnauthenticated)
		return
	}
	user, err := h.users.Get(r.Context(), actor.ID)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "data", user)
}

// UpdateMe changes the logged in user's profile. A multipart body may carry
// a new photo.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var (
		in    services.ProfileInput
		photo *services.PhotoUpload
	)

	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxPhoto+multipartOverhead)
		if err := r.ParseMultipartForm(h.maxPhoto); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				h.errs.Write(w, r, h.photoTooLarge())
				return
			}
			h.errs.Write(w, r, errBadMultipart)
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()

		in = profileFromForm(r.MultipartForm.Value)
		upload, err := h.photoFromForm(r.MultipartForm)
		if err != nil {
			h.errs.Write(w, r, err)
			return
		}
		if upload != nil {
			defer func() {
				if c, ok := upload.Body.(io.Closer); ok {
					_ = c.Close()
				}
			}()
		}
		photo = upload
	} else if err := decodeJSON(r, &in); err != nil {
		h.errs.Write(w, r, err)
		return
	}

	user, err := h.users.UpdateMe(r.Context(), in, photo)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "user", user)
}

// DeleteMe deactivates the logged in user.
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := h.users.DeleteMe(r.Context()); err != nil {
		h.errs.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Photo streams the stored photo of a user.
func (h *UserHandler) Photo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	obj, err := h.users.Photo(r.Context(), id)
	if err != nil {
		h.errs.Write(w, r, err)
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		slog.WarnContext(r.Context(), "failed to stream photo", "user_id", id, "error", err)
	}
}

func (h *UserHandler) photoFromForm(form *multipart.Form) (*services.PhotoUpload, error) {
	files := form.File[formFieldPhoto]
	if len(files) == 0 {
		return nil, nil
	}
	header := files[0]
	if header.Size > h.maxPhoto {
		return nil, h.photoTooLarge()
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return nil, errNotAnImage
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded photo: %w", err)
	}
	return &services.PhotoUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	}, nil
}

func (h *UserHandler) photoTooLarge() error {
	return services.NewError(http.StatusBadRequest, fmt.Sprintf("Photo must be at most %dMB", h.maxPhoto>>20))
}

func profileFromForm(values map[string][]string) services.ProfileInput {
	field := func(name string) *string {
		v, ok := values[name]
		if !ok || len(v) == 0 {
			return nil
		}
		s := v[0]
		if !rawFields[name] {
			s = sanitizeString(s)
		}
		return &s
	}
	return services.ProfileInput{
		Name:            field("name"),
		Username:        field("username"),
		Email:           field("email"),
		Password:        field("password"),
		PasswordConfirm: field("passwordConfirm"),
	}
}
