package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// FileStore implements a store on the local file system, one file per key.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a new file store, creating baseDir if it doesn't exist.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get returns ErrKeyNotFound if the file doesn't exist.
func (b *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	filePath := filepath.Join(b.baseDir, key)
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Read key from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Put replaces the file atomically through a temporary file and rename.
func (b *FileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	filePath := filepath.Join(b.baseDir, key)
	tmp, err := os.CreateTemp(b.baseDir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	b.log.Debug("Stored key in file",
		slog.String("path", filePath),
		slog.Int("size", len(value)))

	return nil
}

func (b *FileStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(b.baseDir, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Available checks if the file store is accessible by verifying the base directory exists.
func (b *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (b *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (b *FileStore) LocationURI() string {
	return b.locationURI
}
