package quota

import (
	"sync"
	"time"

	"github.com/killer-ai/killer/pkg/models"
)

const (
	// VendorHardLimit is the remote API's own daily request cap.
	VendorHardLimit = 50
	// DefaultDailyLimit stays below VendorHardLimit so the fallback path
	// engages before the vendor starts answering 429.
	DefaultDailyLimit = VendorHardLimit - 5
	// DefaultWarnThreshold is the remaining count at or below which
	// responses carry a quota warning.
	DefaultWarnThreshold = 5
)

const dateLayout = "2006-01-02"

// Tracker counts remote calls per calendar day. It does not refuse
// increments; callers gate on IsExhausted.
type Tracker struct {
	mu    sync.Mutex
	limit int
	warn  int
	loc   *time.Location
	state models.DailyQuota
}

// New creates a Tracker with the given daily limit and warning threshold.
// Dates are computed in loc; nil means local time.
func New(limit, warn int, loc *time.Location) *Tracker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if warn < 0 {
		warn = DefaultWarnThreshold
	}
	if loc == nil {
		loc = time.Local
	}
	return &Tracker{limit: limit, warn: warn, loc: loc}
}

// CurrentDate returns the calendar date of now as YYYY-MM-DD.
func (t *Tracker) CurrentDate(now time.Time) string {
	return now.In(t.loc).Format(dateLayout)
}

// RolloverIfNeeded zeroes the counter when now falls on a different date
// than the stored reset date. It reports whether a reset happened so the
// caller can persist it.
func (t *Tracker) RolloverIfNeeded(now time.Time) bool {
	today := t.CurrentDate(now)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.ResetDate == today {
		return false
	}
	t.state = models.DailyQuota{Count: 0, ResetDate: today}
	return true
}

// IsExhausted reports whether today's count reached the limit.
func (t *Tracker) IsExhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Count >= t.limit
}

// Increment charges one remote call and returns the updated state. It is
// unguarded; callers that check and charge concurrently use Reserve.
func (t *Tracker) Increment() models.DailyQuota {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.incrementLocked()
}

// Reserve charges one remote call unless the limit is already reached.
// It is Increment guarded by the exhaustion check under one lock.
func (t *Tracker) Reserve() (models.DailyQuota, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Count >= t.limit {
		return t.state, false
	}
	return t.incrementLocked(), true
}

func (t *Tracker) incrementLocked() models.DailyQuota {
	t.state.Count++
	return t.state
}

// Remaining returns limit minus count, floored at zero.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

// Info builds the quota block attached to a fresh response.
func (t *Tracker) Info() models.QuotaInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.remainingLocked()
	return models.QuotaInfo{
		Remaining:   remaining,
		Total:       t.limit,
		ShowWarning: remaining <= t.warn,
	}
}

// ExhaustedInfo builds the quota block attached to a fallback response.
func (t *Tracker) ExhaustedInfo() models.QuotaInfo {
	return models.QuotaInfo{Remaining: 0, Total: t.limit, Exhausted: true}
}

// Limit returns the configured daily limit.
func (t *Tracker) Limit() int {
	return t.limit
}

// Snapshot returns a copy of the persisted state.
func (t *Tracker) Snapshot() models.DailyQuota {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Restore loads previously persisted state.
func (t *Tracker) Restore(q models.DailyQuota) {
	if q.Count < 0 {
		q.Count = 0
	}
	t.mu.Lock()
	t.state = q
	t.mu.Unlock()
}

// Reset zeroes the counter and stamps today's date, returning the new state.
func (t *Tracker) Reset(now time.Time) models.DailyQuota {
	today := t.CurrentDate(now)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = models.DailyQuota{Count: 0, ResetDate: today}
	return t.state
}

// Status reports usage for now, applying rollover first.
func (t *Tracker) Status(now time.Time) (models.QuotaStatus, bool) {
	rolled := t.RolloverIfNeeded(now)

	t.mu.Lock()
	defer t.mu.Unlock()
	return models.QuotaStatus{
		Used:      t.state.Count,
		Limit:     t.limit,
		Remaining: t.remainingLocked(),
		ResetDate: t.state.ResetDate,
		Exhausted: t.state.Count >= t.limit,
	}, rolled
}

func (t *Tracker) remainingLocked() int {
	remaining := t.limit - t.state.Count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
