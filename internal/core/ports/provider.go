package ports

import (
	"context"
	"time"

	"github.com/calder-ai/relay/pkg/schema"
)

// Client is the outbound contract every backend adapter implements. The
// concrete transport is injected per provider; the core never builds
// requests itself.
type Client interface {
	Name() string

	// Complete performs one upstream call. Implementations honor ctx
	// cancellation and return an error for timeouts, transport failures,
	// and non-2xx responses alike.
	Complete(ctx context.Context, req *schema.CompletionRequest) (*schema.Completion, error)

	// Ping is a cheap liveness probe used by health sweeps.
	Ping(ctx context.Context) error
}

// CacheService defines the interface for a response cache.
type CacheService interface {
	// Get retrieves a value from the cache into the 'dest' pointer.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value in the cache with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error
}
