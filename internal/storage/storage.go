package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sapphybara/change-and-charm-api/config"
)

const (
	photoPrefix       = "users"
	photoCacheControl = "public, max-age=86400"
	metaUserID        = "user-id"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// Object is an opened stored object. The caller closes Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Upload is one object written to a backend.
type Upload struct {
	Key          string
	Body         io.Reader
	Size         int64
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// ObjectStorage is the bucket surface photo storage needs. Deleting a
// missing key is not an error.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, up Upload) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
	Close() error
}

// PhotoStore keeps user photos in an ObjectStorage backend.
type PhotoStore struct {
	backend ObjectStorage
}

func NewPhotoStore(backend ObjectStorage) *PhotoStore {
	return &PhotoStore{backend: backend}
}

// Open builds the backend selected by cfg and makes sure its bucket exists.
// It returns nil when photo storage is disabled.
func Open(ctx context.Context, cfg config.StorageConfig) (*PhotoStore, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case "":
		return nil, nil
	case "minio":
		backend, err = NewMinioClient(cfg.Minio)
	case "gcs":
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Backend, err)
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return NewPhotoStore(backend), nil
}

// PhotoKey returns a fresh object key for a photo uploaded by a user. The
// extension of the uploaded file is kept, lower-cased.
func PhotoKey(userID uuid.UUID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(photoPrefix, userID.String(), uuid.NewString()+ext)
}

// SavePhoto uploads a photo and returns its key.
func (s *PhotoStore) SavePhoto(ctx context.Context, userID uuid.UUID, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := PhotoKey(userID, filename)
	err := s.backend.Put(ctx, Upload{
		Key:          key,
		Body:         r,
		Size:         size,
		ContentType:  contentType,
		CacheControl: photoCacheControl,
		Metadata:     map[string]string{metaUserID: userID.String()},
	})
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	return key, nil
}

// OpenPhoto opens a stored photo.
func (s *PhotoStore) OpenPhoto(ctx context.Context, key string) (Object, error) {
	return s.backend.Get(ctx, key)
}

// DeletePhoto removes a stored photo.
func (s *PhotoStore) DeletePhoto(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Close releases the backend client.
func (s *PhotoStore) Close() error {
	return s.backend.Close()
}
