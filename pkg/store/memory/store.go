// Package memory is a process-local store used by tests and --ephemeral runs.
package memory

import (
	"context"
	"sync"

	"github.com/killer-ai/killer/pkg/models"
	"github.com/killer-ai/killer/pkg/store"
)

// Store keeps persisted state in memory.
type Store struct {
	mu       sync.Mutex
	cache    []models.CacheEntry
	quota    *models.DailyQuota
	settings models.Settings

	// Writes counts successful Save calls, keyed by store key.
	writes map[string]int
}

// New creates an empty Store.
func New() *Store {
	return &Store{writes: make(map[string]int)}
}

// LoadCache returns a copy of the saved cache entries.
func (s *Store) LoadCache(ctx context.Context) ([]models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CacheEntry(nil), s.cache...), nil
}

// SaveCache replaces the saved cache entries.
func (s *Store) SaveCache(ctx context.Context, entries []models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = append([]models.CacheEntry(nil), entries...)
	s.writes[store.KeyCache]++
	return nil
}

// LoadQuota returns the saved counter; ok is false before the first save.
func (s *Store) LoadQuota(ctx context.Context) (models.DailyQuota, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quota == nil {
		return models.DailyQuota{}, false, nil
	}
	return *s.quota, true, nil
}

// SaveQuota replaces the saved counter.
func (s *Store) SaveQuota(ctx context.Context, q models.DailyQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = &q
	s.writes[store.KeyDailyCount]++
	return nil
}

// LoadSettings returns the saved settings, zero if none were saved.
func (s *Store) LoadSettings(ctx context.Context) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// SaveSettings replaces the saved settings.
func (s *Store) SaveSettings(ctx context.Context, settings models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.writes[store.KeyAPIKey]++
	return nil
}

// Writes returns how many times key was saved.
func (s *Store) Writes(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[key]
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
