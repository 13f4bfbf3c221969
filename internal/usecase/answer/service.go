// Package answer implements the retrieval-augmented answer pipeline: hybrid
// lexical + vector retrieval, reciprocal rank fusion, and LLM generation.
package answer

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumora-cloud/ragserve/internal/metrics"
)

// Defaults for retrieval tuning.
const (
	DefaultTopK         = 5
	DefaultFanOutFactor = 2
)

// Config tunes the retrieval stage.
type Config struct {
	TopK         int
	FanOutFactor int
	RRFK         float64
}

// Service orchestrates the answer pipeline. Predictable provider failures
// (embedding, generation, moderation) degrade to fixed user-facing messages;
// only corpus-load infrastructure failure is returned as an error.
type Service struct {
	snapshots SnapshotProvider
	searcher  VectorSearcher
	embed     Embedder
	gen       Generator
	expand    Expander

	topK   int
	fanOut int
	rrfK   float64
	logger *zap.Logger
}

// New creates the answer service. The expander is optional; everything else
// is required.
func New(
	snapshots SnapshotProvider,
	searcher VectorSearcher,
	embed Embedder,
	gen Generator,
	expand Expander,
	cfg Config,
	logger *zap.Logger,
) (*Service, error) {
	if snapshots == nil {
		return nil, errors.New("answer: snapshot provider is required")
	}
	if searcher == nil {
		return nil, errors.New("answer: vector searcher is required")
	}
	if embed == nil {
		return nil, errors.New("answer: embedder is required")
	}
	if gen == nil {
		return nil, errors.New("answer: generator is required")
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	fanOutFactor := cfg.FanOutFactor
	if fanOutFactor <= 0 {
		fanOutFactor = DefaultFanOutFactor
	}
	rrfK := cfg.RRFK
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}

	return &Service{
		snapshots: snapshots,
		searcher:  searcher,
		embed:     embed,
		gen:       gen,
		expand:    expand,
		topK:      topK,
		fanOut:    topK * fanOutFactor,
		rrfK:      rrfK,
		logger:    logger,
	}, nil
}

// Answer runs the full pipeline for one query. chatMemory is a rendered
// transcript of prior turns, empty for a fresh session. The returned string
// is always suitable for the end user; an error is returned only when the
// corpus snapshot cannot be loaded.
func (s *Service) Answer(ctx context.Context, query, chatMemory string) (string, error) {
	// Expansion output feeds observability only. Retrieval uses the original
	// query: hypothetical passages embed and tokenize noisily, and the
	// original terms are what the user actually asked.
	if s.expand != nil {
		expanded := s.expand.Expand(ctx, query)
		if expanded != query {
			s.logger.Debug("Query expanded", zap.Int("expanded_len", len(expanded)))
		}
	}

	embResult, err := s.embed.Embed(ctx, query)
	if err != nil {
		s.logger.Error("Query embedding failed", zap.Error(err))
		return msgEmbeddingError, nil
	}

	contents, err := s.retrieve(ctx, query, embResult.Embedding)
	if err != nil {
		return "", err
	}

	contextBlock := noContextSentinel
	if len(contents) > 0 {
		contextBlock = strings.Join(contents, contextSeparator)
	} else {
		s.logger.Warn("No relevant fragments found", zap.String("query", query))
	}

	result, err := s.gen.Generate(ctx, buildPrompt(query, contextBlock, chatMemory))
	if err != nil {
		s.logger.Error("Answer generation failed", zap.Error(err))
		return msgGenerationError, nil
	}
	if result.Blocked {
		s.logger.Warn("Answer generation blocked", zap.String("block_reason", result.BlockReason))
		return blockedMessage(result.BlockReason), nil
	}

	return result.Text, nil
}

// Invalidate drops any cached corpus snapshot. Called after ingestion.
func (s *Service) Invalidate() {
	s.snapshots.Invalidate()
}

// retrieve runs both retrieval paths over a corpus snapshot, fuses them, and
// resolves the surviving fragment ids to contents.
func (s *Service) retrieve(ctx context.Context, query string, vector []float32) ([]string, error) {
	start := time.Now()

	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var lexIDs []string
	for _, hit := range snap.Index.Query(query, s.fanOut) {
		lexIDs = append(lexIDs, hit.FragmentID)
	}
	metrics.RetrievalCandidatesTotal.WithLabelValues("lexical").Add(float64(len(lexIDs)))
	if len(lexIDs) == 0 {
		metrics.RetrievalDegradedTotal.WithLabelValues("lexical").Inc()
	}

	var vecIDs []string
	vecHits, err := s.searcher.SearchKNN(ctx, vector, s.fanOut)
	if err != nil {
		// vector path outage degrades to lexical-only retrieval
		s.logger.Warn("Vector search failed, continuing with lexical results only", zap.Error(err))
		metrics.RetrievalDegradedTotal.WithLabelValues("vector").Inc()
	} else {
		for _, hit := range vecHits {
			vecIDs = append(vecIDs, hit.FragmentID)
		}
		metrics.RetrievalCandidatesTotal.WithLabelValues("vector").Add(float64(len(vecIDs)))
		if len(vecIDs) == 0 {
			metrics.RetrievalDegradedTotal.WithLabelValues("vector").Inc()
		}
	}

	fused := fuseRRF(lexIDs, vecIDs, s.rrfK)
	if len(fused) > s.topK {
		fused = fused[:s.topK]
	}
	if len(fused) == 0 {
		metrics.RetrievalDegradedTotal.WithLabelValues("both").Inc()
	}

	contents := make([]string, 0, len(fused))
	for _, id := range fused {
		content, ok := snap.Contents[id]
		if !ok {
			// stale vector index entry whose hash is already gone
			s.logger.Warn("Fused fragment missing from corpus snapshot", zap.String("fragment_id", id))
			continue
		}
		contents = append(contents, content)
	}

	metrics.RetrievalDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	metrics.RetrievalFusedFragments.Observe(float64(len(contents)))

	s.logger.Debug("Hybrid retrieval completed",
		zap.Int("lexical_candidates", len(lexIDs)),
		zap.Int("vector_candidates", len(vecIDs)),
		zap.Int("fused", len(contents)),
		zap.Duration("duration", time.Since(start)),
	)
	return contents, nil
}
