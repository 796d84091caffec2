package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// MultiStore implements interfaces.KVStore over several stores with fallback.
type MultiStore struct {
	stores []interfaces.KVStore
	log    *slog.Logger
}

// NewMultiStore creates a new multi-store with fallback
func NewMultiStore(stores []interfaces.KVStore, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStore{
		stores: stores,
		log:    logger,
	}
}

// Get returns the value from the first available store holding key. When
// every reachable store reports the key missing the result is ErrKeyNotFound.
func (m *MultiStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, store := range m.stores {
		if !store.Available(ctx) {
			m.log.Debug("Store unavailable",
				slog.String("store_name", store.Name()),
				slog.String("key", key))
			continue
		}

		data, err := store.Get(ctx, key)
		if err == nil {
			m.log.Debug("Fetched key",
				slog.String("store_name", store.Name()),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrKeyNotFound) {
			notFound++
			continue
		}
		if errors.Is(err, ErrInvalidKey) {
			return nil, err
		}

		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		m.log.Debug("Failed to fetch from store",
			slog.String("store_name", store.Name()),
			slog.String("key", key),
			"err", err)
	}

	if len(errs) == 0 {
		if notFound > 0 {
			return nil, interfaces.ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: no store available", interfaces.ErrBackendUnavailable)
	}

	m.log.Error("All stores failed to fetch key",
		slog.String("key", key),
		slog.Int("failed_stores", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: all stores failed to fetch %s: %w", interfaces.ErrBackendUnavailable, key, errors.Join(errs...))
}

// Put saves value to all available stores. It succeeds if at least one store
// accepted the write.
func (m *MultiStore) Put(ctx context.Context, key string, value []byte) error {
	return m.forEach(ctx, "store", key, func(store interfaces.KVStore) error {
		return store.Put(ctx, key, value)
	})
}

// Delete removes key from all available stores.
func (m *MultiStore) Delete(ctx context.Context, key string) error {
	return m.forEach(ctx, "delete", key, func(store interfaces.KVStore) error {
		return store.Delete(ctx, key)
	})
}

func (m *MultiStore) forEach(ctx context.Context, op, key string, fn func(interfaces.KVStore) error) error {
	start := time.Now()
	var errs []error
	succeeded := 0

	for _, store := range m.stores {
		if !store.Available(ctx) {
			m.log.Debug("Store unavailable", slog.String("store_name", store.Name()))
			continue
		}

		if err := fn(store); err != nil {
			if errors.Is(err, ErrInvalidKey) {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
			m.log.Warn("Store operation failed",
				slog.String("op", op),
				slog.String("store_name", store.Name()),
				slog.String("key", key),
				"err", err)
			continue
		}
		succeeded++
	}

	if succeeded == 0 && len(errs) == 0 {
		return fmt.Errorf("%w: no store available", interfaces.ErrBackendUnavailable)
	}
	if succeeded == 0 {
		m.log.Error("All stores failed",
			slog.String("op", op),
			slog.String("key", key),
			slog.Int("failed_stores", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%w: all stores failed to %s %s: %w", interfaces.ErrBackendUnavailable, op, key, errors.Join(errs...))
	}

	m.log.Info("Store operation completed",
		slog.String("op", op),
		slog.String("key", key),
		slog.Int("stores", succeeded),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Available checks if any store is available
func (m *MultiStore) Available(ctx context.Context) bool {
	for _, store := range m.stores {
		if store.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiStore) Name() string {
	return "multi-store"
}

// LocationURI combines the location URIs of all stores.
func (m *MultiStore) LocationURI() string {
	var locations []string
	for _, store := range m.stores {
		locations = append(locations, store.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
