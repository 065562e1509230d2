// Package ai provides the Anthropic-backed diagnosis collaborator.
//
// The subsystem treats diagnosis as advisory annotation: any error here
// means "collaborator unavailable" and callers fall back to a templated
// description. Nothing in this package is on the recovery critical path.
package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Model constants. Diagnosis prompts are short causal-explanation
// requests, so the cost-efficient model is the default.
const (
	// ModelSonnet is the high-end model for complex reasoning tasks
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for short diagnosis text
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the diagnosis model, checking SENTINEL_MODEL first
func GetDefaultModel() string {
	if model := os.Getenv("SENTINEL_MODEL"); model != "" {
		return model
	}
	return ModelHaiku
}

// Client wraps the Anthropic API for diagnosis generation with retry,
// circuit breaking, rate limiting, and a concurrency bound.
type Client struct {
	client         *anthropic.Client
	model          string
	maxTokens      int64
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	limiter        *rate.Limiter
}

// Config holds diagnosis client configuration
type Config struct {
	APIKey    string      // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model     string      // Model to use (default: claude-3-5-haiku-20241022)
	MaxTokens int64       // Response budget (default: 512, diagnosis text is short)
	Retry     RetryConfig // Retry configuration (uses defaults if not specified)
	RateLimit rate.Limit  // API calls per second (default: 1/s)
}

// NewClient creates a diagnosis client.
func NewClient(cfg *Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Limit(1)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	c := &Client{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
		retry:     retry,
		limiter:   rate.NewLimiter(limit, 1),
	}

	if retry.CircuitBreakerEnabled {
		c.circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		c.concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	return c, nil
}

// GenerateDiagnosis requests a short causal explanation for the prompt.
// Any error means the collaborator is unavailable; the caller falls back
// to a deterministic description.
func (c *Client) GenerateDiagnosis(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, "diagnosis", func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: c.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty diagnosis response")
	}
	return text, nil
}
