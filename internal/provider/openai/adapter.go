package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/calder-ai/relay/internal/core/domain"
	"github.com/calder-ai/relay/internal/core/ports"
	"github.com/calder-ai/relay/internal/httpclient"
	"github.com/calder-ai/relay/internal/registry"
	"github.com/calder-ai/relay/pkg/schema"
)

func init() {
	registry.Register("openai", NewAdapter)
}

// Adapter speaks the OpenAI chat-completions dialect. It also covers
// OpenAI-compatible backends (DeepSeek, Ollama, vLLM) via BaseURL.
type Adapter struct {
	config domain.ProviderConfig
	client *http.Client
}

func NewAdapter(config domain.ProviderConfig) (ports.Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	return &Adapter{
		config: config,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (a *Adapter) Name() string {
	return a.config.Name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Complete(ctx context.Context, req *schema.CompletionRequest) (*schema.Completion, error) {
	body := chatRequest{
		Model:       a.config.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	var resp chatResponse
	err := httpclient.SendJSON(ctx, a.client, http.MethodPost,
		a.config.BaseURL+"/chat/completions", a.headers(), body, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	model := resp.Model
	if model == "" {
		model = a.config.Model
	}
	return &schema.Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	return httpclient.SendJSON(ctx, a.client, http.MethodGet,
		a.config.BaseURL+"/models", a.headers(), nil, nil)
}

func (a *Adapter) headers() map[string]string {
	h := map[string]string{}
	if a.config.APIKey != "" {
		h["Authorization"] = "Bearer " + a.config.APIKey
	}
	return h
}
