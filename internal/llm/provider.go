// Package llm narrows the OpenAI client to what the code cleaner needs, so
// any OpenAI-compatible endpoint (or a test fake) can stand in.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the chat completion call used by internal/clean.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ModelLister is implemented by providers that can enumerate models.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIProvider adapts *openai.Client to Client and ModelLister.
type OpenAIProvider struct {
	Inner *openai.Client
}

// New builds a provider for an OpenAI-compatible endpoint. An empty baseURL
// uses the library default.
func New(baseURL, apiKey string, httpClient *http.Client) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIProvider{Inner: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return p.Inner.CreateChatCompletion(ctx, request)
}

func (p *OpenAIProvider) ListModels(ctx context.Context) (openai.ModelsList, error) {
	return p.Inner.ListModels(ctx)
}

// Ping checks that the endpoint answers and, when model is set, serves it.
func Ping(ctx context.Context, c Client, model string) error {
	lister, ok := c.(ModelLister)
	if !ok {
		return nil
	}
	list, err := lister.ListModels(ctx)
	if err != nil {
		return err
	}
	if model == "" {
		return nil
	}
	for _, m := range list.Models {
		if m.ID == model {
			return nil
		}
	}
	return errors.New("model not served: " + model)
}
