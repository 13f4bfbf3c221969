package domain

import "context"

// Generator is the LLM text generation contract.
type Generator interface {
	Generate(ctx context.Context, prompt string) (GenerationResult, error)
}

// GenerationResult is the outcome of a single generation call. Blocked
// signals a moderation/safety stop; Text is empty in that case and
// BlockReason names the cause.
type GenerationResult struct {
	Text             string
	Blocked          bool
	BlockReason      string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
