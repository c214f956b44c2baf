package schema

// --- Request Types ---

// CompletionRequest is the caller-facing request routed across backends.
type CompletionRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	System string `json:"system,omitempty"`

	// LLM Parameters
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// Routing constraints
	RequiredTags      []string `json:"required_tags,omitempty"`
	PreferredProvider string   `json:"preferred_provider,omitempty"`

	// Route is an optional caller-supplied label used for usage accounting
	// (e.g. "chat", "summarize"). Defaults to "default" when empty.
	Route string `json:"route,omitempty"`
}

// --- Response Types ---

// Completion is the raw upstream result of a single provider call.
type Completion struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// RouteResult is the outcome of one successful routing attempt.
// Immutable once constructed.
type RouteResult struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	LatencyMS    int64   `json:"latency_ms"`
	Cost         float64 `json:"cost"`

	// Attempts counts actual provider calls; candidates skipped by the
	// circuit breaker or rate limiter are not attempts.
	Attempts int `json:"attempts"`

	// FailedProviders lists, in order, providers that were attempted and
	// failed before the serving one.
	FailedProviders []string `json:"failed_providers,omitempty"`

	Cached bool `json:"cached,omitempty"`
}
