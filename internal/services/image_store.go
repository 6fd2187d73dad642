package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/google/uuid"
)

// ImageStore persists uploaded issue photos and returns a public reference.
type ImageStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

var allowedImageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".heic": true,
}

// LocalImageStore writes photos under a directory served at baseURL.
type LocalImageStore struct {
	dir      string
	baseURL  string
	maxBytes int64
}

func NewLocalImageStore(dir, baseURL string, maxBytes int64) (*LocalImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &LocalImageStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), maxBytes: maxBytes}, nil
}

func (s *LocalImageStore) Dir() string { return s.dir }

// Save stores r under a date-prefixed random name keeping the original
// extension. Files above maxBytes are rejected and removed.
func (s *LocalImageStore) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedImageExt[ext] {
		return "", apperrors.NewValidation("file", fmt.Sprintf("unsupported image type %q", ext))
	}

	day := time.Now().UTC().Format("20060102")
	if err := os.MkdirAll(filepath.Join(s.dir, day), 0o755); err != nil {
		return "", apperrors.Persistence("create image dir", err)
	}
	name := uuid.NewString() + ext
	full := filepath.Join(s.dir, day, name)

	f, err := os.Create(full)
	if err != nil {
		return "", apperrors.Persistence("create image", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(full)
		return "", apperrors.Persistence("write image", err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		os.Remove(full)
		return "", apperrors.NewValidation("file", fmt.Sprintf("image exceeds %d bytes", s.maxBytes))
	}
	if ctx.Err() != nil {
		os.Remove(full)
		return "", ctx.Err()
	}

	return s.baseURL + "/" + path.Join(day, name), nil
}

// Delete removes a photo previously returned by Save. Unknown URLs are ignored.
func (s *LocalImageStore) Delete(ctx context.Context, url string) error {
	rel, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || strings.Contains(rel, "..") {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(rel)))
	if err != nil && !os.IsNotExist(err) {
		return apperrors.Persistence("delete image", err)
	}
	return nil
}
