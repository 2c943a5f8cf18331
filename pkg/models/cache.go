package models

import "time"

// CacheEntry stores a cached AI answer under its request fingerprint.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Response    string    `json:"response"`
	CreatedAt   time.Time `json:"timestamp"`
}

// CacheStats reports cache occupancy and hit counters.
type CacheStats struct {
	Entries  int   `json:"entries"`
	Capacity int   `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}
