package answer

import (
	"context"

	"github.com/lumora-cloud/ragserve/internal/domain"
	"github.com/lumora-cloud/ragserve/internal/repository/fragment"
)

// CorpusLoader loads every stored fragment for snapshot building.
type CorpusLoader interface {
	LoadAll(ctx context.Context) ([]domain.Fragment, error)
}

// VectorSearcher runs nearest-neighbor search over the fragment index.
type VectorSearcher interface {
	SearchKNN(ctx context.Context, vector []float32, k int) ([]fragment.VectorHit, error)
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Generator produces the final answer text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (domain.GenerationResult, error)
}

// Expander enriches queries before lexical retrieval. Best effort: it never
// fails, it returns the original query when expansion is impossible.
type Expander interface {
	Expand(ctx context.Context, query string) string
}
