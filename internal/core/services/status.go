package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calder-ai/relay/internal/breaker"
	"github.com/calder-ai/relay/internal/tracker"
)

const sweepTimeout = 5 * time.Second

// ProviderStatus is one provider's line in the status snapshot.
type ProviderStatus struct {
	Name     string  `json:"name"`
	Priority int     `json:"priority"`
	Breaker  breaker.Snapshot `json:"circuit"`
}

// Status is the structured monitoring snapshot consumed by dashboards.
type Status struct {
	TotalRoutes    uint64             `json:"total_routes"`
	TotalFailovers uint64             `json:"total_failovers"`
	FailoverRate   float64            `json:"failover_rate"`
	Providers      []ProviderStatus   `json:"providers"`
	RecentRoutes   []RouteLogEntry    `json:"recent_routes"`
	RateLimiter    map[string]float64 `json:"rate_limiter_tokens"`
	Budget         tracker.Standing   `json:"budget"`
}

// Status assembles a point-in-time snapshot of the whole service.
func (s *FailoverService) Status() Status {
	s.mu.Lock()
	routes := s.totalRoutes
	failovers := s.totalFailovers
	tail := make([]RouteLogEntry, len(s.routeLog))
	copy(tail, s.routeLog)
	s.mu.Unlock()

	st := Status{
		TotalRoutes:    routes,
		TotalFailovers: failovers,
		RecentRoutes:   tail,
		RateLimiter:    s.limiter.Occupancy(),
		Budget:         s.tracker.Standing(),
	}
	if routes > 0 {
		st.FailoverRate = float64(failovers) / float64(routes)
	}

	for _, c := range s.candidates {
		st.Providers = append(st.Providers, ProviderStatus{
			Name:     c.cfg.Name,
			Priority: c.cfg.Priority,
			Breaker:  c.breaker.Snapshot(),
		})
	}
	return st
}

// Sweep probes every provider concurrently (fan-out/fan-in) and records
// the outcome against its circuit breaker, so recovered providers close
// their circuits without waiting for live traffic. Independent of
// in-flight routing requests.
func (s *FailoverService) Sweep(ctx context.Context) map[string]error {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	results := make(map[string]error, len(s.candidates))

	for _, c := range s.candidates {
		wg.Add(1)
		go func(c *candidate) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, sweepTimeout)
			defer cancel()

			err := c.client.Ping(pctx)
			if err != nil {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}

			mu.Lock()
			results[c.cfg.Name] = err
			mu.Unlock()
		}(c)
	}

	wg.Wait()
	return results
}

// ResetProvider force-closes one provider's circuit and clears its
// rate-limit bucket.
func (s *FailoverService) ResetProvider(name string) error {
	for _, c := range s.candidates {
		if c.cfg.Name == name {
			c.breaker.Reset()
			s.limiter.Reset(name)
			return nil
		}
	}
	return fmt.Errorf("unknown provider %q", name)
}
