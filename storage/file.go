package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// FileStore implements a SecureStore on the local file system.
// Each key is stored as one file named by the hex encoding of the key, so
// arbitrary keys map onto a flat directory without path traversal.
// Writes go to a temporary file first and are renamed into place.
type FileStore struct {
	baseDir string
	log     *slog.Logger
}

// NewFileStore creates a file store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileStore{baseDir: baseDir, log: log}, nil
}

// Get reads the value for key. Returns ErrKeyNotFound if the file doesn't exist.
func (b *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return nil, err
	}
	filePath := b.filePath(key)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched value from file",
		slog.String("key", key),
		slog.Int("size", len(data)))

	return data, nil
}

// Set writes value atomically.
func (b *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return err
	}
	filePath := b.filePath(key)

	tmp, err := os.CreateTemp(b.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	b.log.Debug("Stored value in file",
		slog.String("key", key),
		slog.Int("size", len(value)))

	return nil
}

// Remove deletes key. Returns ErrKeyNotFound if the file doesn't exist.
func (b *FileStore) Remove(ctx context.Context, key string) error {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return err
	}
	err := os.Remove(b.filePath(key))
	if errors.Is(err, os.ErrNotExist) {
		return interfaces.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// Keys lists stored keys with the given prefix.
func (b *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	keys := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		raw, err := hex.DecodeString(entry.Name())
		if err != nil {
			b.log.Debug("Skipping foreign file in store directory", slog.String("name", entry.Name()))
			continue
		}
		if key := string(raw); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

func (b *FileStore) filePath(key string) string {
	return filepath.Join(b.baseDir, hex.EncodeToString([]byte(key)))
}
