// Package clean rewrites retrieved submissions so they compile on Judge0.
package clean

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/cfsource/internal/budget"
	"github.com/hyperifyio/cfsource/internal/cache"
	"github.com/hyperifyio/cfsource/internal/llm"
)

// ErrEmptyOutput is returned when the model produced no code.
var ErrEmptyOutput = errors.New("model returned no code")

// ErrCacheMiss is returned in cache-only mode when no reply is cached.
var ErrCacheMiss = errors.New("no cached reply")

// ErrNotConfigured is returned when no client or model is set.
var ErrNotConfigured = errors.New("cleaner not configured")

// Cleaner calls a chat model with the Judge0 compatibility prompt.
type Cleaner struct {
	Client llm.Client
	Model  string
	Cache  *cache.LLMCache
	// CacheOnly fails on a cache miss instead of calling the model.
	CacheOnly bool
	// SystemPrompt overrides DefaultSystemPrompt when non-empty.
	SystemPrompt string
	// RetryDelay separates the single retry after a failed call.
	RetryDelay time.Duration
}

// Clean returns sourceCode rewritten for Judge0. language is a hint only;
// the model detects the language itself.
func (c *Cleaner) Clean(ctx context.Context, sourceCode, language string) (string, error) {
	if c == nil || c.Client == nil || strings.TrimSpace(c.Model) == "" {
		return "", ErrNotConfigured
	}
	system := c.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	user := userMessage(sourceCode, language)
	key := cache.KeyFrom(c.Model, system+"\n\n"+user)

	if c.Cache != nil {
		raw, ok, err := c.Cache.Get(ctx, key)
		if err != nil {
			log.Debug().Err(err).Str("dir", c.Cache.Dir).Msg("clean: cache read failed")
		}
		if ok {
			var out struct {
				CleanCode string `json:"cleanCode"`
			}
			if err := json.Unmarshal(raw, &out); err == nil && strings.TrimSpace(out.CleanCode) != "" {
				log.Debug().Str("model", c.Model).Msg("clean: cache hit")
				return out.CleanCode, nil
			}
		}
	}
	if c.CacheOnly {
		return "", fmt.Errorf("clean: %w", ErrCacheMiss)
	}

	// the cleaned program is about as long as the input
	maxTokens, err := budget.MaxOutputTokens(c.Model, 8192, budget.EstimateTokens(sourceCode), system, user)
	if err != nil {
		return "", fmt.Errorf("clean: %w", err)
	}
	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
		TopP:        0.95,
		MaxTokens:   maxTokens,
		N:           1,
	}
	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		delay := c.RetryDelay
		if delay <= 0 {
			delay = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		resp, err = c.Client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", fmt.Errorf("clean call (after retry): %w", err)
		}
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyOutput
	}
	out := StripFences(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyOutput
	}
	if c.Cache != nil {
		payload, _ := json.Marshal(map[string]string{"cleanCode": out})
		if err := c.Cache.Save(ctx, key, payload); err != nil {
			log.Warn().Err(err).Msg("clean: cache save failed")
		}
	}
	return out, nil
}

var (
	openFence  = regexp.MustCompile("^```[\\w+#-]*[ \\t]*\\r?\\n")
	closeFence = regexp.MustCompile("\\r?\\n?```\\s*$")
)

// StripFences removes one leading and trailing Markdown code fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = openFence.ReplaceAllString(s, "")
	s = closeFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func userMessage(sourceCode, language string) string {
	var b strings.Builder
	if l := strings.TrimSpace(language); l != "" {
		b.WriteString("Language hint: ")
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	b.WriteString("Now convert the following code to be 100% Judge0 compatible:\n\n")
	b.WriteString(sourceCode)
	return b.String()
}
