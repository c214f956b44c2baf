package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-ai/relay/internal/core/domain"
	"github.com/calder-ai/relay/internal/httpclient"
	"github.com/calder-ai/relay/internal/provider/openai"
	"github.com/calder-ai/relay/pkg/schema"
)

func TestComplete(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"content": "Hi there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4}
		}`))
	}))
	defer srv.Close()

	adapter, err := openai.NewAdapter(domain.ProviderConfig{
		Name:    "openai-main",
		Model:   "gpt-4o-mini",
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)

	comp, err := adapter.Complete(context.Background(), &schema.CompletionRequest{
		Prompt: "Hello",
		System: "Be terse",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi there", comp.Text)
	assert.Equal(t, "gpt-4o-mini", comp.Model)
	assert.Equal(t, 12, comp.InputTokens)
	assert.Equal(t, 4, comp.OutputTokens)

	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 2)
	first := messages[0].(map[string]interface{})
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "Be terse", first["content"])
}

func TestComplete_UpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter, err := openai.NewAdapter(domain.ProviderConfig{
		Name: "openai-main", Model: "gpt-4o-mini", BaseURL: srv.URL,
	})
	require.NoError(t, err)

	_, err = adapter.Complete(context.Background(), &schema.CompletionRequest{Prompt: "Hello"})
	require.Error(t, err)

	var upstream *httpclient.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model": "gpt-4o-mini", "choices": []}`))
	}))
	defer srv.Close()

	adapter, err := openai.NewAdapter(domain.ProviderConfig{
		Name: "openai-main", Model: "gpt-4o-mini", BaseURL: srv.URL,
	})
	require.NoError(t, err)

	_, err = adapter.Complete(context.Background(), &schema.CompletionRequest{Prompt: "Hello"})
	assert.ErrorContains(t, err, "no choices")
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	adapter, err := openai.NewAdapter(domain.ProviderConfig{
		Name: "openai-main", Model: "gpt-4o-mini", BaseURL: srv.URL,
	})
	require.NoError(t, err)

	assert.NoError(t, adapter.Ping(context.Background()))
}
