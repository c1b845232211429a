// Package budget sizes model requests against a model's context window.
package budget

import (
	"errors"
	"math"
	"strings"
)

// ErrPromptTooLarge means the prompt leaves no room for the reply.
var ErrPromptTooLarge = errors.New("prompt exceeds model context")

// EstimateTokens converts text length into a token estimate using ~4 chars
// per token, rounded up. Source code tokenizes denser than prose, so callers
// should treat this as a floor.
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return int(math.Ceil(float64(len(s)) / 4.0))
}

// ModelContextTokens returns the context window of a known model. Unknown
// models report ok=false and are not constrained.
func ModelContextTokens(modelName string) (n int, ok bool) {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if name == "" {
		return 0, false
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if v, ok := knownModelMax[name]; ok {
		return v, true
	}
	for _, s := range []struct {
		suffix string
		tokens int
	}{
		{"1m", 1_000_000},
		{"200k", 200_000},
		{"128k", 128_000},
		{"32k", 32_768},
		{"16k", 16_384},
	} {
		if strings.HasSuffix(name, s.suffix) {
			return s.tokens, true
		}
	}
	return 0, false
}

// HeadroomTokens is reserved for message framing and tokenizer drift: the
// larger of 5% of the context or 512 tokens.
func HeadroomTokens(contextTokens int) int {
	dyn := int(math.Ceil(float64(contextTokens) * 0.05))
	if dyn < 512 {
		return 512
	}
	return dyn
}

// MaxOutputTokens returns how many reply tokens to request from modelName
// for a prompt made of parts, capped at want. minOut is the smallest reply
// worth asking for; when even that does not fit ErrPromptTooLarge is returned.
func MaxOutputTokens(modelName string, want, minOut int, parts ...string) (int, error) {
	ctxTokens, ok := ModelContextTokens(modelName)
	if !ok {
		return want, nil
	}
	prompt := 0
	for _, p := range parts {
		prompt += EstimateTokens(p)
	}
	remaining := ctxTokens - HeadroomTokens(ctxTokens) - prompt
	if remaining < minOut {
		return 0, ErrPromptTooLarge
	}
	if remaining < want {
		return remaining, nil
	}
	return want, nil
}

// knownModelMax holds approximate context sizes for common identifiers.
var knownModelMax = map[string]int{
	"gpt-4o":           128_000,
	"gpt-4o-mini":      128_000,
	"gpt-4-turbo":      128_000,
	"gpt-4.1":          1_000_000,
	"gpt-4.1-mini":     1_000_000,
	"gpt-3.5-turbo":    16_384,
	"llama-3":          8_192,
	"llama-3.1":        128_000,
	"qwen2.5-coder":    32_768,
	"deepseek-coder":   16_384,
	"codellama":        16_384,
	"gpt-oss-20b":      4_096,
	"mistral-small":    32_768,
	"codestral":        32_768,
	"codestral-latest": 32_768,
}
