// Package expand implements hypothetical document query expansion (HyDE).
// The LLM drafts a short passage that would answer the query; appending it to
// the query gives the lexical retriever more terms to match against.
package expand

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumora-cloud/ragserve/internal/domain"
)

const hydePromptTemplate = `Write a short passage that directly answers the following question. ` +
	`Write only the passage, without preamble.

Question: %s

Passage:`

// QueryExpander enriches queries with a hypothetical answer passage.
type QueryExpander struct {
	gen    domain.Generator
	logger *zap.Logger
}

// New creates a query expander backed by a generation provider.
func New(gen domain.Generator, logger *zap.Logger) *QueryExpander {
	return &QueryExpander{gen: gen, logger: logger}
}

// Expand returns the query with a hypothetical answer passage appended.
// Expansion is best effort: on any failure, block, or empty generation the
// original query is returned unchanged. The original query always comes
// first so its terms dominate the expansion's.
func (e *QueryExpander) Expand(ctx context.Context, query string) string {
	start := time.Now()

	result, err := e.gen.Generate(ctx, fmt.Sprintf(hydePromptTemplate, query))
	if err != nil {
		e.logger.Warn("Query expansion failed, using original query",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return query
	}
	if result.Blocked {
		e.logger.Warn("Query expansion blocked, using original query",
			zap.String("block_reason", result.BlockReason),
		)
		return query
	}

	passage := strings.TrimSpace(result.Text)
	if passage == "" {
		e.logger.Debug("Query expansion returned empty passage, using original query")
		return query
	}

	e.logger.Debug("Query expanded",
		zap.Duration("duration", time.Since(start)),
		zap.Int("passage_len", len(passage)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return query + "\n" + passage
}
