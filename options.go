package ragserve

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EmbeddingResult carries an embedding vector and provider token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder is the public text vectorization contract. Implementations wrap
// whatever provider the host application uses.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// GenerationResult is the outcome of a single LLM generation call. Blocked
// signals a moderation stop; BlockReason names the cause.
type GenerationResult struct {
	Text             string
	Blocked          bool
	BlockReason      string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Generator is the public LLM text generation contract.
type Generator interface {
	Generate(ctx context.Context, prompt string) (GenerationResult, error)
}

// Option configures the Client.
type Option func(*clientConfig)

type clientConfig struct {
	addrs    []string
	password string

	keyPrefix string

	embedder  Embedder
	generator Generator

	vectorDimensions int
	hnswM            int
	hnswEFConstruct  int

	docInstruction     string
	queryInstruction   string
	instructionsCustom bool

	topK           int
	fanOutFactor   int
	rrfK           float64
	queryExpansion bool

	chunkSize    int
	chunkOverlap int

	historyMaxTurns int
	historyTTL      time.Duration

	perRequestSnapshots bool

	logger *zap.Logger
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	}
}

// WithKeyPrefix sets the namespace prefix for every stored key.
// Default: "ragserve:".
func WithKeyPrefix(prefix string) Option {
	return func(c *clientConfig) {
		c.keyPrefix = prefix
	}
}

// WithEmbedder sets the text embedding provider. Required for ingestion
// and retrieval; the client returns errors from both without it.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

// WithGenerator sets the LLM answer provider. Required for Ask.
func WithGenerator(g Generator) Option {
	return func(c *clientConfig) {
		c.generator = g
	}
}

// WithVectorDimensions sets the embedding vector dimension.
// Defaults to 768.
func WithVectorDimensions(dim int) Option {
	return func(c *clientConfig) {
		c.vectorDimensions = dim
	}
}

// WithHNSW configures HNSW index parameters (M and EF construction).
// Defaults: M=16, EFConstruct=200.
func WithHNSW(m, efConstruct int) Option {
	return func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	}
}

// WithInstructions sets the asymmetric instruction prefixes prepended to
// documents and queries before embedding. Pass empty strings to disable.
// Defaults to the prefixes tuned for the default embedding model.
func WithInstructions(document, query string) Option {
	return func(c *clientConfig) {
		c.docInstruction = document
		c.queryInstruction = query
		c.instructionsCustom = true
	}
}

// WithTopK sets how many fused fragments feed the answer prompt. Default: 5.
func WithTopK(k int) Option {
	return func(c *clientConfig) {
		c.topK = k
	}
}

// WithRetrieval tunes the hybrid retrieval stage: per-path candidate fan-out
// factor and the rank fusion constant. Defaults: factor=2, rrfK=60.
func WithRetrieval(fanOutFactor int, rrfK float64) Option {
	return func(c *clientConfig) {
		c.fanOutFactor = fanOutFactor
		c.rrfK = rrfK
	}
}

// WithQueryExpansion enables hypothetical-passage query expansion before
// retrieval. Requires a generator; adds one LLM call per question.
func WithQueryExpansion() Option {
	return func(c *clientConfig) {
		c.queryExpansion = true
	}
}

// WithChunking sets the document splitter window. Defaults: size=1000,
// overlap=200 (runes).
func WithChunking(size, overlap int) Option {
	return func(c *clientConfig) {
		c.chunkSize = size
		c.chunkOverlap = overlap
	}
}

// WithHistory configures per-session chat history retention.
// Defaults: 20 turns, no TTL.
func WithHistory(maxTurns int, ttl time.Duration) Option {
	return func(c *clientConfig) {
		c.historyMaxTurns = maxTurns
		c.historyTTL = ttl
	}
}

// WithPerRequestSnapshots reloads the lexical corpus on every question
// instead of caching it between ingestions. Use when another process writes
// to the same keyspace.
func WithPerRequestSnapshots() Option {
	return func(c *clientConfig) {
		c.perRequestSnapshots = true
	}
}

// WithLogger enables structured logging for client operations.
// Default: no logging.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}
