// Package pipeline orchestrates a single explain/answer request: quota
// check, rate backpressure, cache lookup, remote call, and persistence.
//
// A request moves through RECEIVED, QUOTA_CHECK, RATE_CHECK, CACHE_CHECK,
// REMOTE_CALL, PARSE and RESPOND, leaving early as FALLBACK when the daily
// quota is spent, CACHED on a cache hit, or ERRORED on a surfaced failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/killer-ai/killer/pkg/cache"
	"github.com/killer-ai/killer/pkg/gemini"
	"github.com/killer-ai/killer/pkg/metrics"
	"github.com/killer-ai/killer/pkg/models"
	"github.com/killer-ai/killer/pkg/prompt"
	"github.com/killer-ai/killer/pkg/quota"
	"github.com/killer-ai/killer/pkg/ratelimit"
	"github.com/killer-ai/killer/pkg/store"
)

// Generator performs the remote AI call.
type Generator interface {
	Generate(ctx context.Context, settings models.Settings, prompt string) (*models.GenerateResponse, int, error)
}

// Pipeline owns the cache, rate window and daily quota for one process.
type Pipeline struct {
	cache    *cache.Cache
	limiter  *ratelimit.Limiter
	quota    *quota.Tracker
	store    store.Store
	remote   Generator
	defaults models.Settings

	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSleep overrides the rate-limit delay.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// WithDefaults sets the settings used for fields the store leaves empty.
func WithDefaults(s models.Settings) Option {
	return func(p *Pipeline) { p.defaults = s }
}

// New creates a Pipeline over the given state and collaborators.
func New(c *cache.Cache, l *ratelimit.Limiter, q *quota.Tracker, st store.Store, remote Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:   c,
		limiter: l,
		quota:   q,
		store:   st,
		remote:  remote,
		log:     zap.NewNop(),
		metrics: metrics.New(nil),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type requestIDKey struct{}

// ContextWithRequestID attaches a request ID that Handle logs with.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Restore rehydrates the cache and quota from the store.
func (p *Pipeline) Restore(ctx context.Context) error {
	entries, err := p.store.LoadCache(ctx)
	if err != nil {
		return fmt.Errorf("restore cache: %w", err)
	}
	p.cache.Restore(entries)

	q, ok, err := p.store.LoadQuota(ctx)
	if err != nil {
		return fmt.Errorf("restore quota: %w", err)
	}
	if ok {
		p.quota.Restore(q)
	}

	p.metrics.CacheEntries.Set(float64(p.cache.Len()))
	p.metrics.QuotaUsed.Set(float64(p.quota.Snapshot().Count))
	p.log.Info("state restored",
		zap.Int("cache_entries", p.cache.Len()),
		zap.Int("quota_used", p.quota.Snapshot().Count),
		zap.String("quota_date", p.quota.Snapshot().ResetDate),
	)
	return nil
}

// Handle runs req through the pipeline. Surfaced failures are *Error.
func (p *Pipeline) Handle(ctx context.Context, req models.Request) (models.Result, error) {
	log := p.log.With(
		zap.String("request_id", requestID(ctx)),
		zap.String("mode", string(req.Mode)),
		zap.Int("text_len", len(req.Text)),
	)

	if !req.Mode.Valid() {
		return p.fail(log, &Error{Kind: KindInvalidRequest, Message: MsgInvalidMode})
	}
	if strings.TrimSpace(req.Text) == "" {
		return p.fail(log, &Error{Kind: KindInvalidRequest, Message: MsgEmptyText})
	}

	now := p.now()
	if p.quota.RolloverIfNeeded(now) {
		log.Info("daily quota rolled over", zap.String("date", p.quota.CurrentDate(now)))
		p.saveQuota(ctx, log, p.quota.Snapshot())
	}

	if p.quota.IsExhausted() {
		return p.fallback(log, req, now), nil
	}

	if d := p.limiter.Check(now); !d.Allowed {
		log.Debug("rate limit approaching, delaying", zap.Duration("wait", d.Wait))
		p.metrics.RateDelays.Inc()
		if err := p.sleep(ctx, d.Wait); err != nil {
			return p.fail(log, fmt.Errorf("rate limit delay: %w", err))
		}
	}

	fp := cache.Fingerprint(req.Mode, req.Text)
	if entry, ok := p.cache.Get(fp); ok {
		return p.done(log, models.Result{
			Response:  entry.Response,
			Cached:    true,
			Timestamp: models.FormatTimestamp(entry.CreatedAt),
			State:     models.StateCached,
		}), nil
	}

	settings := p.Settings(ctx)
	if settings.APIKey == "" {
		return p.fail(log, &Error{Kind: KindConfigMissing, Message: MsgConfigMissing})
	}
	if _, err := gemini.ValidateEndpoint(settings.APIEndpoint); err != nil {
		return p.fail(log, &Error{Kind: KindConfigInvalid, Message: MsgBadEndpoint, Err: err})
	}

	q, ok := p.quota.Reserve()
	if !ok {
		// A concurrent request took the last slot.
		return p.fallback(log, req, now), nil
	}
	p.limiter.Record()
	p.saveQuota(ctx, log, q)

	text, err := p.call(ctx, log, settings, prompt.Build(req.Mode, req.Text))
	if err != nil {
		return p.fail(log, err)
	}

	ts := p.now()
	p.cache.Put(fp, text, ts)
	p.saveCache(ctx, log)

	info := p.quota.Info()
	return p.done(log, models.Result{
		Response:  text,
		Timestamp: models.FormatTimestamp(ts),
		QuotaInfo: &info,
		State:     models.StateRespond,
	}), nil
}

func (p *Pipeline) fallback(log *zap.Logger, req models.Request, now time.Time) models.Result {
	info := p.quota.ExhaustedInfo()
	log.Warn("daily quota exhausted, serving fallback", zap.Int("limit", info.Total))
	return p.done(log, models.Result{
		Response:  prompt.Fallback(req.Mode, req.Text),
		Fallback:  true,
		Timestamp: models.FormatTimestamp(now),
		QuotaInfo: &info,
		State:     models.StateFallback,
	})
}

// call performs the remote call and extracts the answer text.
func (p *Pipeline) call(ctx context.Context, log *zap.Logger, settings models.Settings, promptText string) (string, error) {
	start := time.Now()
	resp, status, err := p.remote.Generate(ctx, settings, promptText)
	elapsed := time.Since(start)
	p.metrics.RemoteCallDuration.Observe(elapsed.Seconds())

	switch {
	case errors.Is(err, gemini.ErrMalformed):
		p.metrics.RemoteCalls.WithLabelValues("malformed").Inc()
		log.Warn("remote returned malformed body", zap.Int("status", status), zap.Error(err))
		return MsgNoResponse, nil
	case err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled):
		p.metrics.RemoteCalls.WithLabelValues("canceled").Inc()
		return "", fmt.Errorf("remote call: %w", ctx.Err())
	case err != nil:
		e := classify(err)
		p.metrics.RemoteCalls.WithLabelValues(e.Kind.String()).Inc()
		return "", e
	}

	log.Debug("remote call finished", zap.Int("status", status), zap.Duration("elapsed", elapsed))
	text, perr := extractText(resp, status)
	if perr != nil {
		p.metrics.RemoteCalls.WithLabelValues(perr.Kind.String()).Inc()
		return "", perr
	}
	p.metrics.RemoteCalls.WithLabelValues("ok").Inc()
	return text, nil
}

// extractText picks the first candidate's text, substituting placeholders
// for empty, blocked, or missing candidates.
func extractText(resp *models.GenerateResponse, status int) (string, *Error) {
	if resp == nil {
		return MsgNoResponse, nil
	}
	if len(resp.Candidates) > 0 {
		c := resp.Candidates[0]
		if c.Content != nil && len(c.Content.Parts) > 0 {
			if c.Content.Parts[0].Text == "" {
				return MsgEmptyResponse, nil
			}
			return c.Content.Parts[0].Text, nil
		}
		if c.FinishReason == models.FinishReasonSafety {
			return MsgSafetyBlocked, nil
		}
		return MsgNoResponse, nil
	}
	if resp.Error != nil {
		msg := resp.Error.Message
		if msg == "" {
			msg = MsgRemoteError
		}
		return "", &Error{Kind: KindRemoteRejected, Status: status, Message: msg}
	}
	return MsgNoResponse, nil
}

// Settings returns stored settings with configured defaults filled in.
func (p *Pipeline) Settings(ctx context.Context) models.Settings {
	s, err := p.store.LoadSettings(ctx)
	if err != nil {
		p.log.Warn("load settings failed, using defaults", zap.Error(err))
		return p.defaults
	}
	return s.Merge(p.defaults)
}

// SaveSettings persists user settings.
func (p *Pipeline) SaveSettings(ctx context.Context, s models.Settings) error {
	if err := p.store.SaveSettings(ctx, s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// QuotaStatus reports today's usage, persisting a rollover if one happened.
func (p *Pipeline) QuotaStatus(ctx context.Context) models.QuotaStatus {
	st, rolled := p.quota.Status(p.now())
	if rolled {
		p.saveQuota(ctx, p.log, p.quota.Snapshot())
	}
	return st
}

// ResetQuota zeroes today's counter and persists it.
func (p *Pipeline) ResetQuota(ctx context.Context) error {
	q := p.quota.Reset(p.now())
	p.metrics.QuotaUsed.Set(0)
	if err := p.store.SaveQuota(context.WithoutCancel(ctx), q); err != nil {
		return fmt.Errorf("save quota: %w", err)
	}
	return nil
}

// CacheStats returns cache occupancy and hit counters.
func (p *Pipeline) CacheStats() models.CacheStats {
	return p.cache.Stats()
}

// ClearCache empties the cache and persists the empty snapshot.
func (p *Pipeline) ClearCache(ctx context.Context) error {
	p.cache.Clear()
	p.metrics.CacheEntries.Set(0)
	if err := p.store.SaveCache(context.WithoutCancel(ctx), nil); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

// saveQuota flushes the quota. Failures are logged, not returned.
func (p *Pipeline) saveQuota(ctx context.Context, log *zap.Logger, q models.DailyQuota) {
	p.metrics.QuotaUsed.Set(float64(q.Count))
	if err := p.store.SaveQuota(context.WithoutCancel(ctx), q); err != nil {
		log.Error("persist quota failed", zap.Error(err))
	}
}

// saveCache flushes the cache snapshot. Failures are logged, not returned.
func (p *Pipeline) saveCache(ctx context.Context, log *zap.Logger) {
	snapshot := p.cache.Snapshot()
	p.metrics.CacheEntries.Set(float64(len(snapshot)))
	if err := p.store.SaveCache(context.WithoutCancel(ctx), snapshot); err != nil {
		log.Error("persist cache failed", zap.Error(err))
	}
}

func (p *Pipeline) done(log *zap.Logger, res models.Result) models.Result {
	p.metrics.Requests.WithLabelValues(string(res.State)).Inc()
	log.Info("request handled", zap.String("state", string(res.State)), zap.Bool("cached", res.Cached))
	return res
}

func (p *Pipeline) fail(log *zap.Logger, err error) (models.Result, error) {
	p.metrics.Requests.WithLabelValues(string(models.StateErrored)).Inc()
	var e *Error
	if errors.As(err, &e) {
		log.Warn("request failed", zap.String("kind", e.Kind.String()), zap.Int("status", e.Status), zap.Error(e.Err))
	} else {
		log.Warn("request aborted", zap.Error(err))
	}
	return models.Result{State: models.StateErrored}, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
