package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// MultiStore implements interfaces.SecureStore over several backends.
// Writes and removals are mirrored to every available backend; reads are
// served by the first backend that has the key.
type MultiStore struct {
	backends []interfaces.SecureStore
	log      *slog.Logger
}

// NewMultiStore creates a mirrored store.
func NewMultiStore(backends []interfaces.SecureStore, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStore{
		backends: backends,
		log:      logger,
	}
}

// Get returns the value from the first backend that has it.
func (m *MultiStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		data, err := backend.Get(ctx, key)
		if err == nil {
			m.log.Debug("Fetched value",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			notFound++
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("key", key),
			"err", err)
	}

	if len(errs) == 0 && notFound > 0 {
		return nil, interfaces.ErrKeyNotFound
	}

	m.log.Error("All backends failed to fetch value",
		slog.String("key", key),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: all backends failed to fetch %s: %v", interfaces.ErrBackendUnavailable, key, errs)
}

// Set writes value to every available backend. It fails only if no backend
// accepted the write.
func (m *MultiStore) Set(ctx context.Context, key string, value []byte) error {
	var errs []error
	written := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}
		if err := backend.Set(ctx, key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key),
				"err", err)
			continue
		}
		written++
	}

	if written == 0 {
		return fmt.Errorf("%w: all backends failed to store %s: %v", interfaces.ErrBackendUnavailable, key, errs)
	}
	return nil
}

// Remove deletes key from every available backend. It returns ErrKeyNotFound
// only if no backend held the key.
func (m *MultiStore) Remove(ctx context.Context, key string) error {
	var errs []error
	removed := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}
		err := backend.Remove(ctx, key)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, interfaces.ErrKeyNotFound):
		default:
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to remove %s: %v", key, errs)
	}
	if removed == 0 {
		return interfaces.ErrKeyNotFound
	}
	return nil
}

// Keys returns the union of keys across available backends.
func (m *MultiStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	answered := 0
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}
		keys, err := backend.Keys(ctx, prefix)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}
		answered++
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}

	if answered == 0 {
		return nil, fmt.Errorf("%w: no backend listed keys: %v", interfaces.ErrBackendUnavailable, errs)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Available checks if any backend is available.
func (m *MultiStore) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the combined name of the mirrored backends.
func (m *MultiStore) Name() string {
	names := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		names = append(names, backend.Name())
	}
	return "multi:[" + strings.Join(names, ",") + "]"
}
