package ratelimit

import (
	"sync"
	"time"

	"github.com/killer-ai/killer/pkg/models"
)

const (
	DefaultMaxPerMinute = 10
	DefaultWindow       = time.Minute
	DefaultDelay        = 500 * time.Millisecond
)

// Decision is the outcome of a rate check. When Allowed is false the caller
// should sleep Wait and then go ahead anyway.
type Decision struct {
	Allowed bool
	Wait    time.Duration
}

// Limiter is a fixed-window per-minute request counter. It only applies
// backpressure and never rejects a request outright.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	delay  time.Duration
	state  models.RateWindow
}

// New creates a Limiter allowing limit requests per window before suggesting delay.
func New(limit int, window, delay time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultMaxPerMinute
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Limiter{limit: limit, window: window, delay: delay}
}

// Check resets the window if now is past it and compares the count against
// the limit. It does not count a request.
func (l *Limiter) Check(now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(now)
}

// Record counts one request against the current window. Paired with Check
// it lets a caller delay every request but count only the ones it sends on.
func (l *Limiter) Record() {
	l.mu.Lock()
	l.recordLocked()
	l.mu.Unlock()
}

// TryAcquire checks the window and counts the request when allowed. It is
// Check followed by Record under one lock.
func (l *Limiter) TryAcquire(now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.checkLocked(now)
	if d.Allowed {
		l.recordLocked()
	}
	return d
}

func (l *Limiter) recordLocked() {
	l.state.Count++
}

// Window returns a copy of the current window state.
func (l *Limiter) Window() models.RateWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Limiter) checkLocked(now time.Time) Decision {
	if now.After(l.state.ResetAt) {
		l.state.Count = 0
		l.state.ResetAt = now.Add(l.window)
	}
	if l.state.Count >= l.limit {
		return Decision{Allowed: false, Wait: l.delay}
	}
	return Decision{Allowed: true}
}
