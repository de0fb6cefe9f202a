// Package media implements the upload store and the byte-range streamer.
// Media bytes are the only state that survives a process restart.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means no stored file exists under the given storage key.
	ErrNotFound = errors.New("media: not found")
	// ErrTooLarge means the upload exceeded the configured size cap.
	ErrTooLarge = errors.New("media: upload too large")
)

// Store persists uploaded media as flat files named by opaque id, with no
// extension. It never renames, inspects, or transcodes the payload.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates the uploads directory if absent.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("uploads directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the uploads directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Put mints a fresh opaque id and writes the bytes under it, via a temp file
// and rename so readers never observe a partial upload. Returns ErrTooLarge
// when the reader yields more than the configured cap.
func (s *Store) Put(ctx context.Context, name, mimeType string, r io.Reader) (types.VideoDescriptor, error) {
	id := uuid.New().String()

	tempFile, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return types.VideoDescriptor{}, fmt.Errorf("create temp upload file: %w", err)
	}
	tempPath := tempFile.Name()

	// Copy one byte past the cap so overruns are detectable.
	size, copyErr := io.Copy(tempFile, io.LimitReader(r, s.maxBytes+1))
	closeErr := tempFile.Close()
	if copyErr != nil {
		_ = os.Remove(tempPath)
		return types.VideoDescriptor{}, fmt.Errorf("write upload bytes: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return types.VideoDescriptor{}, fmt.Errorf("close upload file: %w", closeErr)
	}
	if size > s.maxBytes {
		_ = os.Remove(tempPath)
		return types.VideoDescriptor{}, ErrTooLarge
	}

	finalPath := filepath.Join(s.dir, id)
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return types.VideoDescriptor{}, fmt.Errorf("move upload into place: %w", err)
	}

	desc := types.VideoDescriptor{
		ID:         id,
		Name:       name,
		Size:       size,
		MimeType:   mimeType,
		StorageKey: id,
	}

	logging.Info(ctx, "Stored media upload",
		zap.String("storage_key", id),
		zap.String("name", name),
		zap.Int64("size", size),
		zap.String("mime_type", mimeType))
	return desc, nil
}

// Open resolves a storage key to an open file handle. Each reader gets an
// independent handle, so concurrent streams are safe.
func (s *Store) Open(key string) (*os.File, os.FileInfo, error) {
	if !validStorageKey(key) {
		return nil, nil, ErrNotFound
	}
	path := filepath.Join(s.dir, key)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open media file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat media file: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// StoredFile describes one entry of the admin storage listing.
type StoredFile struct {
	ID      string    `json:"id"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// List returns all stored media files.
func (s *Store) List() ([]StoredFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read uploads directory: %w", err)
	}

	files := make([]StoredFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, StoredFile{ID: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return files, nil
}

// Cleanup removes files last modified more than maxAge ago and returns the
// number removed.
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	files, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, f := range files {
		if f.ModTime.After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.ID)); err != nil {
			logging.Warn(context.Background(), "Failed to remove stored file", zap.String("storage_key", f.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// CleanupAll removes every stored file and returns the number removed.
func (s *Store) CleanupAll() (int, error) {
	files, err := s.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if err := os.Remove(filepath.Join(s.dir, f.ID)); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// validStorageKey rejects anything that could escape the uploads directory.
func validStorageKey(key string) bool {
	if key == "" || strings.HasPrefix(key, ".") {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}
