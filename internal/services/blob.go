package services

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore persists uploaded blobs on the local filesystem. References are
// opaque slash-separated paths relative to the store's root, usable later by
// the message formatter.
type FileStore struct {
	dir string

	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string, logger *slog.Logger) (FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return FileStore{}, fmt.Errorf("failed to create blob dir: %w", err)
	}
	return FileStore{
		dir:    dir,
		logger: logger.With(slog.String("module", "blobs")),
	}, nil
}

// Store writes data under a fresh reference grouped by kind (e.g. "image",
// "avatar") and returns the reference.
func (f FileStore) Store(data []byte, kind string) (string, error) {
	if kind == "" {
		kind = "blob"
	}
	ref := path.Join(kind, uuid.New().String())

	full := filepath.Join(f.dir, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create kind dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	f.logger.Debug("Stored blob",
		slog.String("ref", ref),
		slog.Int("size", len(data)),
	)
	return ref, nil
}

// Resolve reads back the bytes of a previously stored reference. References
// escaping the store's root are rejected.
func (f FileStore) Resolve(ref string) ([]byte, error) {
	clean := path.Clean("/" + ref)[1:]
	if clean == "" || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("invalid blob reference: %s", ref)
	}
	return os.ReadFile(filepath.Join(f.dir, filepath.FromSlash(clean)))
}
