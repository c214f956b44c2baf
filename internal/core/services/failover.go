package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/calder-ai/relay/internal/breaker"
	"github.com/calder-ai/relay/internal/budget"
	"github.com/calder-ai/relay/internal/core/domain"
	"github.com/calder-ai/relay/internal/core/ports"
	"github.com/calder-ai/relay/internal/httpclient"
	"github.com/calder-ai/relay/internal/ratelimit"
	"github.com/calder-ai/relay/internal/tracker"
	"github.com/calder-ai/relay/pkg/schema"
)

const (
	defaultCallTimeout = 30 * time.Second
	routeLogCap        = 256
	freeTag            = "free"
)

// candidate pairs one provider's config with its client and breaker.
type candidate struct {
	cfg     domain.ProviderConfig
	client  ports.Client
	breaker *breaker.Breaker
}

// Deps carries the collaborators a FailoverService composes. Limiter,
// Budget and Tracker are required; Cache is optional.
type Deps struct {
	Limiter  *ratelimit.Limiter
	Budget   *budget.Manager
	Tracker  *tracker.Tracker
	Cache    ports.CacheService
	CacheTTL time.Duration
	Logger   *zap.Logger
	Clock    func() time.Time
}

// FailoverService walks a priority-ordered provider chain, skipping
// circuit-unavailable and rate-limited candidates, and returns the first
// success. Strictly sequential per routing call; many routing calls run
// concurrently.
type FailoverService struct {
	candidates []*candidate
	limiter    *ratelimit.Limiter
	budget     *budget.Manager
	tracker    *tracker.Tracker
	cache      ports.CacheService
	cacheTTL   time.Duration
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu             sync.Mutex
	totalRoutes    uint64
	totalFailovers uint64
	routeLog       []RouteLogEntry
}

// RouteLogEntry is one line of the bounded recent-routes ring.
type RouteLogEntry struct {
	Time      time.Time                `json:"time"`
	Route     string                   `json:"route"`
	Provider  string                   `json:"provider,omitempty"`
	Success   bool                     `json:"success"`
	Attempts  int                      `json:"attempts"`
	LatencyMS int64                    `json:"latency_ms"`
	Trail     []domain.ProviderFailure `json:"trail,omitempty"`
}

// New builds a FailoverService from provider configs and their clients,
// keyed by provider name. Disabled providers are ignored. Candidate
// order is ascending priority with configuration order preserved among
// equals.
func New(cfgs []domain.ProviderConfig, clients map[string]ports.Client, deps Deps) (*FailoverService, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Limiter == nil {
		return nil, errors.New("failover: rate limiter is required")
	}
	if deps.Tracker == nil {
		return nil, errors.New("failover: usage tracker is required")
	}

	s := &FailoverService{
		limiter:  deps.Limiter,
		budget:   deps.Budget,
		tracker:  deps.Tracker,
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		logger:   deps.Logger,
		tracer:   otel.Tracer("relay/failover"),
		now:      deps.Clock,
	}

	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		client, ok := clients[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("failover: no client for provider %q", cfg.Name)
		}
		s.candidates = append(s.candidates, &candidate{
			cfg:    cfg,
			client: client,
			breaker: breaker.New(breaker.Settings{
				FailureThreshold: cfg.Breaker.FailureThreshold,
				RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
				HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
			}, deps.Clock),
		})
		s.limiter.Configure(cfg.Name, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	sort.SliceStable(s.candidates, func(i, j int) bool {
		return s.candidates[i].cfg.Priority < s.candidates[j].cfg.Priority
	})

	return s, nil
}

// Route submits a request to the first available provider in candidate
// order. The only error it returns is *domain.AllProvidersFailedError.
func (s *FailoverService) Route(ctx context.Context, req *schema.CompletionRequest) (*schema.RouteResult, error) {
	ctx, span := s.tracer.Start(ctx, "failover.route")
	defer span.End()

	if cached := s.cachedResult(ctx, req); cached != nil {
		s.finish(req, cached, nil)
		span.SetAttributes(attribute.Bool("relay.cache_hit", true))
		return cached, nil
	}

	var (
		trail     []domain.ProviderFailure
		attempted []string
		attempts  int
	)

	for _, c := range s.buildCandidates(req) {
		allowed, state := c.breaker.Allow()
		if !allowed {
			trail = append(trail, domain.ProviderFailure{
				Provider: c.cfg.Name,
				Reason:   "circuit_" + state.String(),
			})
			continue
		}

		if dec := s.limiter.Check(c.cfg.Name); !dec.Allowed {
			// The claimed half-open slot goes back: a rate-limited skip is
			// not a trial outcome and must not wedge the episode.
			c.breaker.Release()
			trail = append(trail, domain.ProviderFailure{
				Provider: c.cfg.Name,
				Reason:   "rate_limited",
			})
			continue
		}

		attempts++
		comp, latency, err := s.attempt(ctx, c, req)
		if err != nil {
			// The outcome is recorded against the breaker even when the
			// caller has gone away, so health signal is not lost.
			c.breaker.RecordFailure()
			reason := failureReason(err)
			trail = append(trail, domain.ProviderFailure{
				Provider:  c.cfg.Name,
				Reason:    reason,
				LatencyMS: latency.Milliseconds(),
			})
			attempted = append(attempted, c.cfg.Name)
			s.logger.Warn("provider attempt failed",
				zap.String("provider", c.cfg.Name),
				zap.String("reason", reason),
				zap.Duration("latency", latency),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		c.breaker.RecordSuccess()
		result := s.assembleResult(req, c, comp, latency, attempts, attempted)
		s.finish(req, result, trail)
		s.storeResult(ctx, req, result)
		span.SetAttributes(
			attribute.String("relay.provider", c.cfg.Name),
			attribute.Int("relay.attempts", attempts),
		)
		return result, nil
	}

	s.finish(req, nil, trail)
	return nil, &domain.AllProvidersFailedError{Tried: trail}
}

// buildCandidates applies tag filtering, preferred-provider promotion and
// budget degradation to the priority-ordered chain.
func (s *FailoverService) buildCandidates(req *schema.CompletionRequest) []*candidate {
	list := make([]*candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		if len(req.RequiredTags) > 0 && !c.cfg.HasAllTags(req.RequiredTags) {
			continue
		}
		list = append(list, c)
	}

	if req.PreferredProvider != "" {
		// Stable partition: preferred first, priority order preserved
		// among the rest.
		front := make([]*candidate, 0, len(list))
		rest := make([]*candidate, 0, len(list))
		for _, c := range list {
			if c.cfg.Name == req.PreferredProvider {
				front = append(front, c)
			} else {
				rest = append(rest, c)
			}
		}
		list = append(front, rest...)
	}

	if s.budget != nil && s.budget.ShouldUseFreeOnly(s.tracker.TotalCost()) {
		free := make([]*candidate, 0, len(list))
		for _, c := range list {
			if c.cfg.HasTag(freeTag) {
				free = append(free, c)
			}
		}
		// Fall back to the unfiltered list when no free provider matches.
		if len(free) > 0 {
			list = free
		}
	}

	return list
}

// attempt performs one bounded provider call.
func (s *FailoverService) attempt(ctx context.Context, c *candidate, req *schema.CompletionRequest) (*schema.Completion, time.Duration, error) {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	comp, err := c.client.Complete(callCtx, req)
	return comp, s.now().Sub(start), err
}

func (s *FailoverService) assembleResult(req *schema.CompletionRequest, c *candidate, comp *schema.Completion, latency time.Duration, attempts int, attempted []string) *schema.RouteResult {
	cost := float64(comp.InputTokens)/1000*c.cfg.InputCostPer1K +
		float64(comp.OutputTokens)/1000*c.cfg.OutputCostPer1K

	result := &schema.RouteResult{
		Text:            comp.Text,
		Provider:        c.cfg.Name,
		Model:           comp.Model,
		InputTokens:     comp.InputTokens,
		OutputTokens:    comp.OutputTokens,
		LatencyMS:       latency.Milliseconds(),
		Cost:            cost,
		Attempts:        attempts,
		FailedProviders: attempted,
	}

	s.tracker.Record(tracker.UsageRecord{
		Route:        req.Route,
		Provider:     c.cfg.Name,
		Model:        comp.Model,
		InputTokens:  comp.InputTokens,
		OutputTokens: comp.OutputTokens,
		Cost:         cost,
		LatencyMS:    latency.Milliseconds(),
	})

	return result
}

// finish updates route counters and the bounded route log. Appends never
// block callers; old entries drop silently at the cap.
func (s *FailoverService) finish(req *schema.CompletionRequest, result *schema.RouteResult, trail []domain.ProviderFailure) {
	entry := RouteLogEntry{
		Time:  s.now().UTC(),
		Route: req.Route,
		Trail: trail,
	}
	if result != nil {
		entry.Provider = result.Provider
		entry.Success = true
		entry.Attempts = result.Attempts
		entry.LatencyMS = result.LatencyMS
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRoutes++
	if len(trail) > 0 {
		s.totalFailovers++
	}
	s.routeLog = append(s.routeLog, entry)
	if len(s.routeLog) > routeLogCap {
		s.routeLog = s.routeLog[len(s.routeLog)-routeLogCap:]
	}
}

// failureReason classifies a provider error for the failure trail.
func failureReason(err error) string {
	var upstream *httpclient.UpstreamError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &upstream):
		return fmt.Sprintf("upstream_status_%d", upstream.StatusCode)
	default:
		return "transport_error"
	}
}

// --- response cache ---

func (s *FailoverService) cachedResult(ctx context.Context, req *schema.CompletionRequest) *schema.RouteResult {
	if s.cache == nil {
		return nil
	}
	var result schema.RouteResult
	if err := s.cache.Get(ctx, cacheKey(req), &result); err != nil {
		return nil
	}
	result.Cached = true
	return &result
}

func (s *FailoverService) storeResult(ctx context.Context, req *schema.CompletionRequest, result *schema.RouteResult) {
	if s.cache == nil {
		return
	}
	ttl := s.cacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.cache.Set(ctx, cacheKey(req), result, ttl); err != nil {
		s.logger.Debug("response cache write failed", zap.Error(err))
	}
}

func cacheKey(req *schema.CompletionRequest) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		req.Prompt,
		req.System,
		fmt.Sprint(req.MaxTokens),
		fmt.Sprint(req.Temperature),
		strings.Join(req.RequiredTags, ","),
		req.PreferredProvider,
	}, "\x1f")))
	return "route:" + hex.EncodeToString(sum[:])
}
