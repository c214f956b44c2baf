package registry

import (
	"fmt"
	"sync"

	"github.com/calder-ai/relay/internal/core/domain"
	"github.com/calder-ai/relay/internal/core/ports"
)

// Factory creates a backend client from its configuration. The
// domain.ProviderConfig struct is the unified configuration shape.
type Factory func(cfg domain.ProviderConfig) (ports.Client, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a client factory available under a backend type key
// (e.g. "openai", "anthropic"). Called from adapter init functions.
func Register(backendType string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[backendType]; exists {
		panic(fmt.Sprintf("client factory %s already registered", backendType))
	}
	factories[backendType] = f
}

// Build creates a client for the given provider configuration.
func Build(cfg domain.ProviderConfig) (ports.Client, error) {
	mu.RLock()
	f, ok := factories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("client factory not found for type: %s", cfg.Type)
	}
	return f(cfg)
}
