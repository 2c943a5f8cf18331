// Package store defines the persistence capability the request pipeline
// flushes its state through.
package store

import (
	"context"

	"github.com/killer-ai/killer/pkg/models"
)

// Persisted keys.
const (
	KeyCache         = "qaCache"
	KeyDailyCount    = "dailyRequestCount"
	KeyLastResetDate = "lastResetDate"
	KeyAPIKey        = "google_api_key"
	KeyAPIEndpoint   = "google_api_endpoint"
)

// Store persists cache snapshots, the daily quota, and user settings.
type Store interface {
	// LoadCache returns the last saved cache snapshot, oldest first.
	LoadCache(ctx context.Context) ([]models.CacheEntry, error)
	// SaveCache replaces the saved cache snapshot.
	SaveCache(ctx context.Context, entries []models.CacheEntry) error
	// LoadQuota returns the saved quota. ok is false when nothing was saved yet.
	LoadQuota(ctx context.Context) (q models.DailyQuota, ok bool, err error)
	// SaveQuota stores the quota counter and its reset date together.
	SaveQuota(ctx context.Context, q models.DailyQuota) error
	// LoadSettings returns saved settings. Unset fields are empty.
	LoadSettings(ctx context.Context) (models.Settings, error)
	// SaveSettings stores settings. Empty fields are removed.
	SaveSettings(ctx context.Context, s models.Settings) error
	// Close releases resources.
	Close() error
}
