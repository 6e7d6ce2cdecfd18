// Package llm provides the Gemini-backed text completion client and the
// translation, semantic check, and plausibility adapters built on it.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sqlbridge/internal/config"
	"sqlbridge/internal/usage"
)

// Completion is one model response with its token accounting.
type Completion struct {
	Text    string
	Model   string
	Usage   usage.Tokens
	Latency time.Duration
}

// Client is the text completion interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error)
	// CompleteWithModel overrides the configured default model for one
	// call. An empty model falls back to the default.
	CompleteWithModel(ctx context.Context, model, systemPrompt, userPrompt string) (Completion, error)
}

// New creates a client for the configured provider.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case "gemini", "":
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (valid: %s)",
			cfg.LLM.Provider, strings.Join(config.ValidProviders, ", "))
	}
}
