package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lumora-cloud/ragserve/internal/domain"
	"github.com/lumora-cloud/ragserve/internal/metrics"
)

// Generator is an LLM text generation provider using the OpenAI-compatible
// chat completions API.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	user        string
	timeout     time.Duration
	logger      *zap.Logger
}

// GeneratorConfig holds the generation provider settings.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	User        string
	Timeout     time.Duration // per-call deadline; <= 0 disables
	Logger      *zap.Logger
}

// NewGenerator creates an OpenAI-compatible generation provider.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Generator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		user:        cfg.User,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
}

// Generate implements domain.Generator with a single chat completion call.
// A content_filter finish reason is reported as Blocked, not as an error:
// the caller decides the user-facing wording.
func (g *Generator) Generate(ctx context.Context, prompt string) (domain.GenerationResult, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.temperature,
		User:        g.user,
	}
	if g.maxTokens > 0 {
		req.MaxTokens = g.maxTokens
	}

	ctx, cancel := callContext(ctx, g.timeout)
	defer cancel()

	start := time.Now()

	resp, err := g.client.CreateChatCompletion(ctx, req)

	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return domain.GenerationResult{}, parseGenerationAPIError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return domain.GenerationResult{}, fmt.Errorf("empty generation response: %w", domain.ErrGenerationProviderError)
	}

	choice := resp.Choices[0]
	result := domain.GenerationResult{
		Text:             choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	if choice.FinishReason == openai.FinishReasonContentFilter {
		result.Blocked = true
		result.BlockReason = string(choice.FinishReason)
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "blocked").Inc()
	} else {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "success").Inc()
	}

	metrics.GenerationRequestDuration.WithLabelValues(g.model).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(g.model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.GenerationTokensTotal.WithLabelValues(g.model, "completion").Add(float64(resp.Usage.CompletionTokens))
		metrics.GenerationTokensTotal.WithLabelValues(g.model, "total").Add(float64(resp.Usage.TotalTokens))
	}

	return result, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (g *Generator) HealthCheck(ctx context.Context) error {
	ctx, cancel := callContext(ctx, g.timeout)
	defer cancel()

	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseGenerationAPIError wraps all errors with domain.ErrGenerationProviderError
// for correct 502 mapping.
func parseGenerationAPIError(err error) error {
	return parseAPIError(err, "generation", domain.ErrGenerationProviderError)
}
