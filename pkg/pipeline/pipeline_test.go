package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/killer-ai/killer/pkg/cache"
	"github.com/killer-ai/killer/pkg/gemini"
	"github.com/killer-ai/killer/pkg/metrics"
	"github.com/killer-ai/killer/pkg/models"
	"github.com/killer-ai/killer/pkg/quota"
	"github.com/killer-ai/killer/pkg/ratelimit"
	"github.com/killer-ai/killer/pkg/store"
	"github.com/killer-ai/killer/pkg/store/memory"
)

var day1 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// fakeRemote answers every prompt with a numbered reply unless fn is set.
type fakeRemote struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	fn      func(prompt string) (*models.GenerateResponse, int, error)
}

func (f *fakeRemote) Generate(ctx context.Context, settings models.Settings, prompt string) (*models.GenerateResponse, int, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.prompts = append(f.prompts, prompt)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(prompt)
	}
	return textResponse(fmt.Sprintf("reply %d", n)), http.StatusOK, nil
}

func (f *fakeRemote) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func textResponse(text string) *models.GenerateResponse {
	return &models.GenerateResponse{
		Candidates: []models.Candidate{{Content: &models.Content{Parts: []models.Part{{Text: text}}}}},
	}
}

type harness struct {
	p       *Pipeline
	remote  *fakeRemote
	store   *memory.Store
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	quota   *quota.Tracker
	metrics *metrics.Metrics
	now     time.Time
	sleeps  []time.Duration
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		remote:  &fakeRemote{},
		store:   memory.New(),
		cache:   cache.New(cache.DefaultCapacity),
		limiter: ratelimit.New(ratelimit.DefaultMaxPerMinute, ratelimit.DefaultWindow, ratelimit.DefaultDelay),
		quota:   quota.New(quota.DefaultDailyLimit, quota.DefaultWarnThreshold, time.UTC),
		metrics: metrics.New(prometheus.NewRegistry()),
		now:     day1,
	}
	base := []Option{
		WithMetrics(h.metrics),
		WithClock(func() time.Time { return h.now }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
		WithDefaults(models.Settings{APIKey: "test-key", APIEndpoint: "https://example.invalid/gen"}),
	}
	h.p = New(h.cache, h.limiter, h.quota, h.store, h.remote, append(base, opts...)...)
	return h
}

func ask(mode models.Mode, text string) models.Request {
	return models.Request{Mode: mode, Text: text}
}

func TestScenarioCacheMissThenHit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	text := "What is 2+2? A) 3 B) 4 C) 5 D) 6"

	first, err := h.p.Handle(ctx, ask(models.ModeAnswer, text))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, models.StateRespond, first.State)
	assert.Equal(t, "reply 1", first.Response)
	require.NotNil(t, first.QuotaInfo)
	assert.Equal(t, models.QuotaInfo{Remaining: 44, Total: 45}, *first.QuotaInfo)
	assert.Contains(t, h.remote.prompts[0], "Provide only the correct answer")

	entry, ok := h.cache.Get("answer:What is 2+2? A) 3 B) 4 C) 5 D) 6")
	require.True(t, ok)
	assert.Equal(t, "reply 1", entry.Response)

	h.now = day1.Add(5 * time.Second)
	second, err := h.p.Handle(ctx, ask(models.ModeAnswer, text))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, models.StateCached, second.State)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Nil(t, second.QuotaInfo)

	assert.Equal(t, 1, h.remote.Calls())
	assert.Equal(t, 1, h.quota.Snapshot().Count, "cached hit must not charge quota")
	assert.Equal(t, 1, h.limiter.Window().Count, "cached hit must not count against rate window")
	assert.Equal(t, 1, h.store.Writes(store.KeyCache))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Requests.WithLabelValues("cached")))
}

func TestCachePersistedAfterInsert(t *testing.T) {
	h := newHarness(t)
	_, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "gravity"))
	require.NoError(t, err)

	saved, err := h.store.LoadCache(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "explain:gravity", saved[0].Fingerprint)
	assert.Equal(t, day1, saved[0].CreatedAt)

	q, ok, _ := h.store.LoadQuota(context.Background())
	require.True(t, ok)
	assert.Equal(t, models.DailyQuota{Count: 1, ResetDate: "2026-03-14"}, q)
}

func TestScenarioQuotaExhausted(t *testing.T) {
	h := newHarness(t)
	h.quota.Restore(models.DailyQuota{Count: 45, ResetDate: "2026-03-14"})

	res, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "photosynthesis"))
	require.NoError(t, err)

	assert.True(t, res.Fallback)
	assert.False(t, res.Cached)
	assert.Equal(t, models.StateFallback, res.State)
	require.NotNil(t, res.QuotaInfo)
	assert.Equal(t, models.QuotaInfo{Remaining: 0, Total: 45, Exhausted: true}, *res.QuotaInfo)
	assert.Contains(t, res.Response, "daily API limit")

	assert.Equal(t, 0, h.remote.Calls())
	assert.Equal(t, 45, h.quota.Snapshot().Count)
	assert.Equal(t, 0, h.limiter.Window().Count)
}

func TestExhaustedFallbackWinsOverCache(t *testing.T) {
	h := newHarness(t)
	h.quota.Restore(models.DailyQuota{Count: 44, ResetDate: "2026-03-14"})

	_, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "gravity"))
	require.NoError(t, err)

	res, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "gravity"))
	require.NoError(t, err)
	assert.True(t, res.Fallback)
}

func TestRolloverBeforeExhaustionCheck(t *testing.T) {
	h := newHarness(t)
	h.quota.Restore(models.DailyQuota{Count: 45, ResetDate: "2026-03-13"})

	res, err := h.p.Handle(context.Background(), ask(models.ModeAnswer, "capital of peru"))
	require.NoError(t, err)

	assert.False(t, res.Fallback)
	assert.Equal(t, 1, h.remote.Calls())
	assert.Equal(t, models.DailyQuota{Count: 1, ResetDate: "2026-03-14"}, h.quota.Snapshot())
	assert.Equal(t, 44, res.QuotaInfo.Remaining)
	assert.GreaterOrEqual(t, h.store.Writes(store.KeyDailyCount), 2, "rollover and increment both persisted")
}

func TestTimeoutSurfacedOnceWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer upstream.Close()

	h := newHarness(t)
	h.p.remote = gemini.New(upstream.Client(), 50*time.Millisecond, models.GenerationConfig{}, nil)
	h.p.defaults = models.Settings{APIKey: "k", APIEndpoint: upstream.URL}

	_, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "slow"))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTimeout, perr.Kind)
	assert.Equal(t, MsgTimeout, perr.Message)
	assert.Equal(t, int32(1), hits.Load())

	assert.Equal(t, 1, h.quota.Snapshot().Count, "charge is not refunded")
	assert.Equal(t, 0, h.cache.Len())
}

func TestRateLimitDelaysThenProceeds(t *testing.T) {
	h := newHarness(t)
	h.p.limiter = ratelimit.New(1, time.Minute, 500*time.Millisecond)

	_, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "first"))
	require.NoError(t, err)
	assert.Empty(t, h.sleeps)

	res, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "second"))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.sleeps)
	assert.Equal(t, models.StateRespond, res.State)
	assert.Equal(t, 2, h.remote.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RateDelays))
}

func TestRateDelayCancelled(t *testing.T) {
	h := newHarness(t, WithSleep(sleepContext))
	h.p.limiter = ratelimit.New(1, time.Minute, time.Hour)
	h.p.limiter.Check(day1)
	h.p.limiter.Record()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.p.Handle(ctx, ask(models.ModeExplain, "anything"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.remote.Calls())
}

func TestConfigMissingNoCharge(t *testing.T) {
	h := newHarness(t, WithDefaults(models.Settings{APIEndpoint: "https://example.invalid/gen"}))

	_, err := h.p.Handle(context.Background(), ask(models.ModeAnswer, "hello"))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindConfigMissing, perr.Kind)
	assert.Equal(t, MsgConfigMissing, err.Error())
	assert.Equal(t, 0, h.remote.Calls())
	assert.Equal(t, 0, h.quota.Snapshot().Count)
}

func TestInvalidEndpointNoCharge(t *testing.T) {
	h := newHarness(t, WithDefaults(models.Settings{APIKey: "k", APIEndpoint: "not a url"}))

	_, err := h.p.Handle(context.Background(), ask(models.ModeAnswer, "hello"))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindConfigInvalid, perr.Kind)
	assert.Equal(t, MsgBadEndpoint, err.Error())
	assert.ErrorIs(t, err, gemini.ErrInvalidEndpoint)
	assert.Equal(t, 0, h.remote.Calls())
	assert.Equal(t, 0, h.quota.Snapshot().Count)
	assert.Equal(t, 0, h.limiter.Window().Count)
}

func TestStoredSettingsOverrideDefaults(t *testing.T) {
	h := newHarness(t, WithDefaults(models.Settings{APIEndpoint: "https://default.invalid/gen"}))
	require.NoError(t, h.p.SaveSettings(context.Background(), models.Settings{APIKey: "user-key"}))

	s := h.p.Settings(context.Background())
	assert.Equal(t, "user-key", s.APIKey)
	assert.Equal(t, "https://default.invalid/gen", s.APIEndpoint)

	_, err := h.p.Handle(context.Background(), ask(models.ModeAnswer, "hello"))
	require.NoError(t, err)
}

func TestRemoteRejectedMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		vendor  string
		message string
	}{
		{"daily quota", 429, "Quota exceeded for quota metric", MsgDailyQuota},
		{"rate", 429, "Too many requests", MsgRateLimited},
		{"forbidden", 403, "API key not valid", MsgAccessDenied},
		{"bad request", 400, "", MsgBadRequest},
		{"not found", 404, "", MsgNotFound},
		{"server", 503, "", "API request failed (503). Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.remote.fn = func(string) (*models.GenerateResponse, int, error) {
				return nil, tt.status, &gemini.APIError{StatusCode: tt.status, Message: tt.vendor}
			}

			_, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "x"))

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, KindRemoteRejected, perr.Kind)
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.message, perr.Message)
			assert.Equal(t, 1, h.quota.Snapshot().Count)
			assert.Equal(t, 0, h.cache.Len(), "failed call must not populate cache")
		})
	}
}

func TestTransportErrorSurfaced(t *testing.T) {
	h := newHarness(t)
	h.remote.fn = func(string) (*models.GenerateResponse, int, error) {
		return nil, 0, errors.New("dial tcp: connection refused")
	}

	_, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "x"))
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTransport, perr.Kind)
}

func TestTransportErrorLogOmitsKey(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := newHarness(t, WithLogger(zap.New(core)))
	h.p.remote = gemini.New(nil, time.Second, models.GenerationConfig{}, nil)
	h.p.defaults = models.Settings{APIKey: "SECRETKEY123", APIEndpoint: "http://127.0.0.1:1/gen"}

	_, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "x"))
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTransport, perr.Kind)

	require.NotZero(t, logs.Len())
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, "SECRETKEY123")
		for k, v := range entry.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "SECRETKEY123", "field %s", k)
		}
	}
}

func TestParsePlaceholders(t *testing.T) {
	tests := []struct {
		name string
		resp *models.GenerateResponse
		want string
	}{
		{"safety", &models.GenerateResponse{Candidates: []models.Candidate{{FinishReason: "SAFETY"}}}, MsgSafetyBlocked},
		{"no candidates", &models.GenerateResponse{}, MsgNoResponse},
		{"candidate without parts", &models.GenerateResponse{Candidates: []models.Candidate{{FinishReason: "STOP"}}}, MsgNoResponse},
		{"empty text", textResponse(""), MsgEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.remote.fn = func(string) (*models.GenerateResponse, int, error) { return tt.resp, 200, nil }

			res, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "x"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Response)
		})
	}
}

func TestMalformedBodyDegradesToPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.remote.fn = func(string) (*models.GenerateResponse, int, error) {
		return nil, 200, fmt.Errorf("%w: unexpected token", gemini.ErrMalformed)
	}

	res, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "x"))
	require.NoError(t, err)
	assert.Equal(t, MsgNoResponse, res.Response)
}

func TestErrorObjectInPayloadSurfaced(t *testing.T) {
	h := newHarness(t)
	h.remote.fn = func(string) (*models.GenerateResponse, int, error) {
		return &models.GenerateResponse{Error: &models.APIErrorBody{Message: "model overloaded"}}, 200, nil
	}

	_, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "x"))
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "model overloaded", perr.Message)
	assert.Equal(t, 0, h.cache.Len())
}

func TestQuotaWarningNearLimit(t *testing.T) {
	h := newHarness(t)
	h.quota.Restore(models.DailyQuota{Count: 39, ResetDate: "2026-03-14"})

	res, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "x"))
	require.NoError(t, err)
	assert.Equal(t, models.QuotaInfo{Remaining: 5, Total: 45, ShowWarning: true}, *res.QuotaInfo)
}

func TestInvalidRequests(t *testing.T) {
	h := newHarness(t)

	_, err := h.p.Handle(context.Background(), ask("summarize", "x"))
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindInvalidRequest, perr.Kind)

	_, err = h.p.Handle(context.Background(), ask(models.ModeExplain, "   "))
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, MsgEmptyText, perr.Message)
	assert.Equal(t, 0, h.remote.Calls())
}

func TestRestoreFromStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SaveCache(ctx, []models.CacheEntry{
		{Fingerprint: "explain:gravity", Response: "Mass attracts mass.", CreatedAt: day1.Add(-time.Hour)},
	}))
	require.NoError(t, h.store.SaveQuota(ctx, models.DailyQuota{Count: 7, ResetDate: "2026-03-14"}))

	require.NoError(t, h.p.Restore(ctx))
	assert.Equal(t, 7, h.quota.Snapshot().Count)

	res, err := h.p.Handle(ctx, ask(models.ModeExplain, "gravity"))
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "Mass attracts mass.", res.Response)
	assert.Equal(t, models.FormatTimestamp(day1.Add(-time.Hour)), res.Timestamp)
	assert.Equal(t, 0, h.remote.Calls())
}

// failingStore accepts loads but rejects every save.
type failingStore struct {
	*memory.Store
}

func (failingStore) SaveCache(context.Context, []models.CacheEntry) error {
	return errors.New("disk full")
}

func (failingStore) SaveQuota(context.Context, models.DailyQuota) error {
	return errors.New("disk full")
}

func TestPersistenceFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t)
	h.p.store = failingStore{memory.New()}

	res, err := h.p.Handle(context.Background(), ask(models.ModeExplain, "x"))
	require.NoError(t, err)
	assert.Equal(t, "reply 1", res.Response)
	assert.Equal(t, 1, h.cache.Len())
}

func TestConcurrentMissesChargeEachCall(t *testing.T) {
	h := newHarness(t, WithSleep(func(context.Context, time.Duration) error { return nil }))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.p.Handle(ctx, ask(models.ModeExplain, fmt.Sprintf("question %d", i)))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, h.remote.Calls())
	assert.Equal(t, 20, h.quota.Snapshot().Count)
	assert.Equal(t, cache.DefaultCapacity, h.cache.Len())
}

func TestConcurrentMissesNeverExceedLimit(t *testing.T) {
	h := newHarness(t, WithSleep(func(context.Context, time.Duration) error { return nil }))
	h.quota.Restore(models.DailyQuota{Count: 40, ResetDate: "2026-03-14"})
	ctx := context.Background()

	var fallbacks atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.p.Handle(ctx, ask(models.ModeAnswer, fmt.Sprintf("question %d", i)))
			if err == nil && res.Fallback {
				fallbacks.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 45, h.quota.Snapshot().Count)
	assert.Equal(t, 5, h.remote.Calls())
	assert.Equal(t, int32(15), fallbacks.Load())
}

func TestQuotaStatusAndReset(t *testing.T) {
	h := newHarness(t)
	h.quota.Restore(models.DailyQuota{Count: 45, ResetDate: "2026-03-14"})

	st := h.p.QuotaStatus(context.Background())
	assert.True(t, st.Exhausted)
	assert.Equal(t, 0, st.Remaining)

	require.NoError(t, h.p.ResetQuota(context.Background()))
	st = h.p.QuotaStatus(context.Background())
	assert.False(t, st.Exhausted)
	assert.Equal(t, 45, st.Remaining)
}

func TestClearCachePersists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.p.Handle(ctx, ask(models.ModeExplain, "x"))

	require.NoError(t, h.p.ClearCache(ctx))
	assert.Equal(t, 0, h.p.CacheStats().Entries)
	saved, _ := h.store.LoadCache(ctx)
	assert.Empty(t, saved)
}
