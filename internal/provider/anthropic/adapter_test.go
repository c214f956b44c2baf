package anthropic_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-ai/relay/internal/core/domain"
	"github.com/calder-ai/relay/internal/provider/anthropic"
	"github.com/calder-ai/relay/pkg/schema"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "claude-3-5-haiku",
			"content": [
				{"type": "text", "text": "Hello "},
				{"type": "tool_use", "text": "ignored"},
				{"type": "text", "text": "world"}
			],
			"usage": {"input_tokens": 9, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	adapter, err := anthropic.NewAdapter(domain.ProviderConfig{
		Name:    "anthropic-main",
		Model:   "claude-3-5-haiku",
		APIKey:  "sk-ant-test",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	comp, err := adapter.Complete(context.Background(), &schema.CompletionRequest{Prompt: "Hi"})
	require.NoError(t, err)

	assert.Equal(t, "Hello world", comp.Text)
	assert.Equal(t, "claude-3-5-haiku", comp.Model)
	assert.Equal(t, 9, comp.InputTokens)
	assert.Equal(t, 3, comp.OutputTokens)
}

func TestComplete_NoTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model": "claude-3-5-haiku", "content": []}`))
	}))
	defer srv.Close()

	adapter, err := anthropic.NewAdapter(domain.ProviderConfig{
		Name: "anthropic-main", Model: "claude-3-5-haiku", BaseURL: srv.URL,
	})
	require.NoError(t, err)

	_, err = adapter.Complete(context.Background(), &schema.CompletionRequest{Prompt: "Hi"})
	assert.ErrorContains(t, err, "no text blocks")
}
