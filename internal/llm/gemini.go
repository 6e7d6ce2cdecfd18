package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"sqlbridge/internal/config"
	"sqlbridge/internal/logging"
	"sqlbridge/internal/usage"
)

// GeminiClient implements Client on the Google GenAI API.
type GeminiClient struct {
	client          *genai.Client
	model           string
	temperature     float32
	maxOutputTokens int32
	timeout         time.Duration
	minInterval     time.Duration
	maxAttempts     int

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGeminiClient creates a Gemini client from configuration.
func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.LLM.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.LLM.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}

	maxAttempts := cfg.LLM.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	return &GeminiClient{
		client:          client,
		model:           model,
		temperature:     float32(cfg.LLM.Temperature),
		maxOutputTokens: int32(cfg.LLM.MaxOutputTokens),
		timeout:         cfg.GetLLMTimeout(),
		minInterval:     cfg.GetMinRequestInterval(),
		maxAttempts:     maxAttempts,
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	return c.CompleteWithModel(ctx, "", "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	return c.CompleteWithModel(ctx, "", systemPrompt, userPrompt)
}

// CompleteWithModel sends a prompt using the given model, falling back to
// the configured default when model is empty.
func (c *GeminiClient) CompleteWithModel(ctx context.Context, model, systemPrompt, userPrompt string) (Completion, error) {
	if model == "" {
		model = c.model
	}

	// Auto-apply timeout if the context has no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.LLMDebug("[Gemini] request model=%s system_len=%d user_len=%d", model, len(systemPrompt), len(userPrompt))

	// Rate limiting: enforce a minimum gap between requests.
	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temperature),
		MaxOutputTokens: c.maxOutputTokens,
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			time.Sleep(time.Duration(1<<uint(attempt-1)) * time.Second)
		}

		resp, err := c.client.Models.GenerateContent(ctx, model, contents, genCfg)
		if err != nil {
			if isRateLimited(err) {
				lastErr = fmt.Errorf("rate limit exceeded (429): %w", err)
				continue
			}
			if ctx.Err() != nil {
				return Completion{}, ctx.Err()
			}
			logging.LLMError("[Gemini] request failed after %v: %v", time.Since(startTime), err)
			return Completion{}, fmt.Errorf("generate content failed: %w", err)
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return Completion{}, fmt.Errorf("no completion returned")
		}

		var result strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			result.WriteString(part.Text)
		}

		comp := Completion{
			Text:    strings.TrimSpace(result.String()),
			Model:   model,
			Latency: time.Since(startTime),
		}
		if um := resp.UsageMetadata; um != nil {
			comp.Usage = usage.Tokens{
				Input:  int(um.PromptTokenCount),
				Output: int(um.CandidatesTokenCount),
				Cached: int(um.CachedContentTokenCount),
				Total:  int(um.TotalTokenCount),
			}
		}

		logging.LLM("[Gemini] completed in %v model=%s response_len=%d tokens=%d",
			comp.Latency, model, len(comp.Text), comp.Usage.Total)
		return comp, nil
	}

	logging.LLMError("[Gemini] max retries exceeded after %v: %v", time.Since(startTime), lastErr)
	return Completion{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Close closes the underlying genai client. The genai SDK client holds no
// resources that require explicit closing.
func (c *GeminiClient) Close() error {
	return nil
}

func isRateLimited(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
