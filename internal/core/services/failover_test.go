package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calder-ai/relay/internal/budget"
	"github.com/calder-ai/relay/internal/core/domain"
	"github.com/calder-ai/relay/internal/core/ports"
	"github.com/calder-ai/relay/internal/ratelimit"
	"github.com/calder-ai/relay/internal/tracker"
	"github.com/calder-ai/relay/pkg/schema"
)

// MockClient implements ports.Client for testing
type MockClient struct {
	mock.Mock
	ID string
}

func (m *MockClient) Name() string { return m.ID }

func (m *MockClient) Complete(ctx context.Context, req *schema.CompletionRequest) (*schema.Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schema.Completion), args.Error(1)
}

func (m *MockClient) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func providerConfig(name string, priority int, tags ...string) domain.ProviderConfig {
	return domain.ProviderConfig{
		Name:            name,
		Type:            "openai",
		Model:           name + "-model",
		Priority:        priority,
		InputCostPer1K:  0.5,
		OutputCostPer1K: 1.0,
		Tags:            tags,
		Breaker: domain.BreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  time.Minute,
			HalfOpenMaxCalls: 1,
		},
		RateLimit: domain.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
		Timeout:   5 * time.Second,
		Enabled:   true,
	}
}

func completion(model string) *schema.Completion {
	return &schema.Completion{Text: "ok", Model: model, InputTokens: 1000, OutputTokens: 500}
}

func newService(t *testing.T, clock *fakeClock, bm *budget.Manager, cfgs []domain.ProviderConfig, clients map[string]ports.Client) (*FailoverService, *tracker.Tracker) {
	t.Helper()

	tr := tracker.New(bm, zap.NewNop(), tracker.WithClock(clock.Now))
	svc, err := New(cfgs, clients, Deps{
		Limiter: ratelimit.NewLimiter(1000, 1000, clock.Now),
		Budget:  bm,
		Tracker: tr,
		Logger:  zap.NewNop(),
		Clock:   clock.Now,
	})
	require.NoError(t, err)
	return svc, tr
}

func TestRoute_FailoverChain(t *testing.T) {
	clock := newFakeClock()

	p1 := &MockClient{ID: "p1"}
	p2 := &MockClient{ID: "p2"}
	p3 := &MockClient{ID: "p3"}

	svc, _ := newService(t, clock, nil,
		[]domain.ProviderConfig{
			providerConfig("p1", 1),
			providerConfig("p2", 2),
			providerConfig("p3", 3),
		},
		map[string]ports.Client{"p1": p1, "p2": p2, "p3": p3},
	)

	// First route: p1 fails (tripping its breaker at threshold 1), p2 serves.
	p1.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	p2.On("Complete", mock.Anything, mock.Anything).Return(completion("m2"), nil).Once()

	res, err := svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "p2", res.Provider)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"p1"}, res.FailedProviders)

	// Second route: p1's circuit is open and is skipped without an attempt;
	// p2 throws once, p3 succeeds.
	p2.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	p3.On("Complete", mock.Anything, mock.Anything).Return(completion("m3"), nil).Once()

	res, err = svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "hi again"})
	require.NoError(t, err)
	assert.Equal(t, "p3", res.Provider)
	assert.Equal(t, 2, res.Attempts, "skipped provider is not an attempt")
	assert.Equal(t, []string{"p2"}, res.FailedProviders)

	// The route log trail records the circuit skip.
	st := svc.Status()
	require.Len(t, st.RecentRoutes, 2)
	trail := st.RecentRoutes[1].Trail
	require.NotEmpty(t, trail)
	assert.Equal(t, "p1", trail[0].Provider)
	assert.Equal(t, "circuit_open", trail[0].Reason)

	p1.AssertExpectations(t)
	p2.AssertExpectations(t)
	p3.AssertExpectations(t)
}

func TestRoute_EmptyCandidateListFailsWithEmptyTrail(t *testing.T) {
	clock := newFakeClock()
	p1 := &MockClient{ID: "p1"}

	svc, _ := newService(t, clock, nil,
		[]domain.ProviderConfig{providerConfig("p1", 1, "chat")},
		map[string]ports.Client{"p1": p1},
	)

	_, err := svc.Route(context.Background(), &schema.CompletionRequest{
		Prompt:       "hi",
		RequiredTags: []string{"vision"},
	})

	var allFailed *domain.AllProvidersFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Empty(t, allFailed.Tried)
}

func TestRoute_AllProvidersFailedCarriesTrail(t *testing.T) {
	clock := newFakeClock()
	p1 := &MockClient{ID: "p1"}
	p2 := &MockClient{ID: "p2"}

	svc, _ := newService(t, clock, nil,
		[]domain.ProviderConfig{providerConfig("p1", 1), providerConfig("p2", 2)},
		map[string]ports.Client{"p1": p1, "p2": p2},
	)

	p1.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()
	p2.On("Complete", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded).Once()

	_, err := svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "hi"})

	var allFailed *domain.AllProvidersFailedError
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Tried, 2)
	assert.Equal(t, "transport_error", allFailed.Tried[0].Reason)
	assert.Equal(t, "timeout", allFailed.Tried[1].Reason)
}

func TestRoute_PreferredProviderMovesToFront(t *testing.T) {
	clock := newFakeClock()
	p1 := &MockClient{ID: "p1"}
	p2 := &MockClient{ID: "p2"}

	svc, _ := newService(t, clock, nil,
		[]domain.ProviderConfig{providerConfig("p1", 1), providerConfig("p2", 2)},
		map[string]ports.Client{"p1": p1, "p2": p2},
	)

	p2.On("Complete", mock.Anything, mock.Anything).Return(completion("m2"), nil).Once()

	res, err := svc.Route(context.Background(), &schema.CompletionRequest{
		Prompt:            "hi",
		PreferredProvider: "p2",
	})
	require.NoError(t, err)
	assert.Equal(t, "p2", res.Provider)
	assert.Equal(t, 1, res.Attempts)
	p1.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestRoute_BudgetDegradationFiltersToFreeProviders(t *testing.T) {
	clock := newFakeClock()
	bm := budget.NewManager(1.0, clock.Now)

	paid := &MockClient{ID: "paid"}
	free := &MockClient{ID: "free-local"}

	freeCfg := providerConfig("free-local", 2, "free")
	freeCfg.InputCostPer1K = 0
	freeCfg.OutputCostPer1K = 0

	svc, tr := newService(t, clock, bm,
		[]domain.ProviderConfig{providerConfig("paid", 1), freeCfg},
		map[string]ports.Client{"paid": paid, "free-local": free},
	)

	// One expensive request pushes spend past 90% of the $1 limit:
	// 1000 input tokens at $0.5/1K + 500 output at $1.0/1K = $1.00.
	paid.On("Complete", mock.Anything, mock.Anything).Return(completion("m-paid"), nil).Once()
	_, err := svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "expensive"})
	require.NoError(t, err)
	require.True(t, bm.ShouldUseFreeOnly(tr.TotalCost()))

	// Next request must route to the free-tagged provider despite its
	// lower priority.
	free.On("Complete", mock.Anything, mock.Anything).Return(completion("m-free"), nil).Once()
	res, err := svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "cheap please"})
	require.NoError(t, err)
	assert.Equal(t, "free-local", res.Provider)
	paid.AssertNumberOfCalls(t, "Complete", 1)
}

func TestRoute_RateLimitedProviderSkippedWithoutAttempt(t *testing.T) {
	clock := newFakeClock()
	p1 := &MockClient{ID: "p1"}
	p2 := &MockClient{ID: "p2"}

	cfg1 := providerConfig("p1", 1)
	cfg1.RateLimit = domain.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}

	svc, _ := newService(t, clock, nil,
		[]domain.ProviderConfig{cfg1, providerConfig("p2", 2)},
		map[string]ports.Client{"p1": p1, "p2": p2},
	)

	p1.On("Complete", mock.Anything, mock.Anything).Return(completion("m1"), nil).Once()
	p2.On("Complete", mock.Anything, mock.Anything).Return(completion("m2"), nil).Once()

	// First request drains p1's single-token bucket.
	res, err := svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "a"})
	require.NoError(t, err)
	require.Equal(t, "p1", res.Provider)

	// Second request skips p1 with a rate_limited trail entry.
	res, err = svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "b"})
	require.NoError(t, err)
	assert.Equal(t, "p2", res.Provider)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.FailedProviders)

	st := svc.Status()
	trail := st.RecentRoutes[1].Trail
	require.Len(t, trail, 1)
	assert.Equal(t, "rate_limited", trail[0].Reason)
}

func TestRoute_RateLimitedSkipDoesNotConsumeHalfOpenSlot(t *testing.T) {
	clock := newFakeClock()
	p1 := &MockClient{ID: "p1"}
	p2 := &MockClient{ID: "p2"}

	cfg1 := providerConfig("p1", 1)
	cfg1.Breaker.RecoveryTimeout = time.Minute
	cfg1.RateLimit = domain.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}

	lim := ratelimit.NewLimiter(1000, 1000, clock.Now)
	tr := tracker.New(nil, zap.NewNop(), tracker.WithClock(clock.Now))
	svc, err := New(
		[]domain.ProviderConfig{cfg1, providerConfig("p2", 2)},
		map[string]ports.Client{"p1": p1, "p2": p2},
		Deps{Limiter: lim, Tracker: tr, Logger: zap.NewNop(), Clock: clock.Now},
	)
	require.NoError(t, err)

	// First route drains p1's single-token bucket and trips its breaker.
	p1.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	p2.On("Complete", mock.Anything, mock.Anything).Return(completion("m2"), nil)

	_, err = svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "a"})
	require.NoError(t, err)

	// Past the recovery timeout p1 is half-open with one trial slot. The
	// limiter still denies it, so the skip must not burn that slot.
	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		_, err = svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "b"})
		require.NoError(t, err)

		st := svc.Status()
		trail := st.RecentRoutes[len(st.RecentRoutes)-1].Trail
		require.Len(t, trail, 1)
		assert.Equal(t, "rate_limited", trail[0].Reason,
			"skip keeps the trial slot for a later probe")
	}

	// Once tokens are back the probe runs and a success closes the circuit.
	lim.Reset("p1")
	p1.On("Complete", mock.Anything, mock.Anything).Return(completion("m1"), nil).Once()

	res, err := svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "c"})
	require.NoError(t, err)
	assert.Equal(t, "p1", res.Provider)

	for _, p := range svc.Status().Providers {
		if p.Name == "p1" {
			assert.Equal(t, "closed", p.Breaker.State)
		}
	}
	p1.AssertExpectations(t)
}

func TestRoute_CostAndUsageRecorded(t *testing.T) {
	clock := newFakeClock()
	p1 := &MockClient{ID: "p1"}

	svc, tr := newService(t, clock, nil,
		[]domain.ProviderConfig{providerConfig("p1", 1)},
		map[string]ports.Client{"p1": p1},
	)

	p1.On("Complete", mock.Anything, mock.Anything).Return(completion("m1"), nil).Once()

	res, err := svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "hi", Route: "chat"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Cost, 1e-9)

	byRoute := tr.ByRoute()
	require.Contains(t, byRoute, "chat")
	assert.Equal(t, int64(1), byRoute["chat"].Count)
	assert.InDelta(t, 1.0, tr.TotalCost(), 1e-9)
}

func TestSweep_RecordsBreakerOutcomes(t *testing.T) {
	clock := newFakeClock()
	up := &MockClient{ID: "up"}
	down := &MockClient{ID: "down"}

	svc, _ := newService(t, clock, nil,
		[]domain.ProviderConfig{providerConfig("up", 1), providerConfig("down", 2)},
		map[string]ports.Client{"up": up, "down": down},
	)

	up.On("Ping", mock.Anything).Return(nil)
	down.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	results := svc.Sweep(context.Background())
	require.Len(t, results, 2)
	assert.NoError(t, results["up"])
	assert.Error(t, results["down"])

	// The failing provider tripped its breaker (threshold 1) and is now
	// skipped by routing.
	st := svc.Status()
	for _, p := range st.Providers {
		if p.Name == "down" {
			assert.Equal(t, "open", p.Breaker.State)
		}
		if p.Name == "up" {
			assert.Equal(t, "closed", p.Breaker.State)
		}
	}
}

func TestResetProvider(t *testing.T) {
	clock := newFakeClock()
	p1 := &MockClient{ID: "p1"}
	p2 := &MockClient{ID: "p2"}

	svc, _ := newService(t, clock, nil,
		[]domain.ProviderConfig{providerConfig("p1", 1), providerConfig("p2", 2)},
		map[string]ports.Client{"p1": p1, "p2": p2},
	)

	p1.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	p2.On("Complete", mock.Anything, mock.Anything).Return(completion("m2"), nil).Once()
	_, err := svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)

	require.NoError(t, svc.ResetProvider("p1"))
	p1.On("Complete", mock.Anything, mock.Anything).Return(completion("m1"), nil).Once()

	res, err := svc.Route(context.Background(), &schema.CompletionRequest{Prompt: "again"})
	require.NoError(t, err)
	assert.Equal(t, "p1", res.Provider)

	assert.Error(t, svc.ResetProvider("nope"))
}
