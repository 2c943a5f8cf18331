package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/killer-ai/killer/pkg/models"
	"github.com/killer-ai/killer/pkg/store"
)

// Store is a key-value store backed by SQLite.
type Store struct {
	db *sql.DB
}

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// New opens the database at dbPath and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}

	return &Store{db: db}, nil
}

// LoadCache returns the saved cache snapshot.
func (s *Store) LoadCache(ctx context.Context) ([]models.CacheEntry, error) {
	raw, ok, err := s.get(ctx, store.KeyCache)
	if err != nil || !ok {
		return nil, err
	}
	var entries []models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode cache snapshot: %w", err)
	}
	return entries, nil
}

// SaveCache replaces the saved cache snapshot.
func (s *Store) SaveCache(ctx context.Context, entries []models.CacheEntry) error {
	if entries == nil {
		entries = []models.CacheEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode cache snapshot: %w", err)
	}
	return s.set(ctx, map[string]string{store.KeyCache: string(data)})
}

// LoadQuota returns the saved daily quota.
func (s *Store) LoadQuota(ctx context.Context) (models.DailyQuota, bool, error) {
	date, ok, err := s.get(ctx, store.KeyLastResetDate)
	if err != nil || !ok {
		return models.DailyQuota{}, false, err
	}
	q := models.DailyQuota{ResetDate: date}

	count, ok, err := s.get(ctx, store.KeyDailyCount)
	if err != nil {
		return models.DailyQuota{}, false, err
	}
	if ok {
		n, err := strconv.Atoi(count)
		if err != nil {
			return models.DailyQuota{}, false, fmt.Errorf("decode %s: %w", store.KeyDailyCount, err)
		}
		q.Count = n
	}
	return q, true, nil
}

// SaveQuota stores the quota counter and reset date in one transaction.
func (s *Store) SaveQuota(ctx context.Context, q models.DailyQuota) error {
	return s.set(ctx, map[string]string{
		store.KeyDailyCount:    strconv.Itoa(q.Count),
		store.KeyLastResetDate: q.ResetDate,
	})
}

// LoadSettings returns saved settings.
func (s *Store) LoadSettings(ctx context.Context) (models.Settings, error) {
	key, _, err := s.get(ctx, store.KeyAPIKey)
	if err != nil {
		return models.Settings{}, err
	}
	endpoint, _, err := s.get(ctx, store.KeyAPIEndpoint)
	if err != nil {
		return models.Settings{}, err
	}
	return models.Settings{APIKey: key, APIEndpoint: endpoint}, nil
}

// SaveSettings stores settings, deleting keys whose value is empty.
func (s *Store) SaveSettings(ctx context.Context, settings models.Settings) error {
	return s.set(ctx, map[string]string{
		store.KeyAPIKey:      settings.APIKey,
		store.KeyAPIEndpoint: settings.APIEndpoint,
	})
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store get %s: %w", key, err)
	}
	return value, true, nil
}

// set upserts every pair in one transaction. Empty values delete the key.
func (s *Store) set(ctx context.Context, pairs map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for k, v := range pairs {
		if v == "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
				return fmt.Errorf("store delete %s: %w", k, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now,
		)
		if err != nil {
			return fmt.Errorf("store set %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store commit: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
