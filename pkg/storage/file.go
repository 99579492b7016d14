package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists the metrics document as a JSON file on local disk. It
// is the default backend for the desktop deployment: no external services,
// state survives restarts.
//
// Writes go through a temp file followed by an atomic rename, so a crash
// mid-write leaves the previous document intact rather than a truncated one.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at the given path. The parent
// directory is created if missing.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("store file path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Load reads the metrics document from disk. A missing file is not an
// error; it reports found=false so the engine starts from defaults.
func (s *FileStore) Load(ctx context.Context) (Document, bool, error) {
	select {
	case <-ctx.Done():
		return Document{}, false, ctx.Err()
	default:
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, false, nil
		}
		return Document{}, false, fmt.Errorf("failed to read metrics document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, false, fmt.Errorf("failed to unmarshal metrics document: %w", err)
	}

	return doc, true, nil
}

// Save writes the metrics document to disk atomically.
func (s *FileStore) Save(ctx context.Context, doc Document) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metrics document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace metrics document: %w", err)
	}

	return nil
}

// Path returns the file path backing this store.
func (s *FileStore) Path() string {
	return s.path
}
