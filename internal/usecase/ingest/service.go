// Package ingest turns uploaded documents into embedded fragments: text
// extraction, chunking, batch embedding, and persistence.
package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumora-cloud/ragserve/internal/domain"
)

// Repository persists documents and their fragments.
type Repository interface {
	UpsertFragments(ctx context.Context, frags []domain.Fragment) error
	UpsertDocument(ctx context.Context, doc domain.Document) error
}

// Embedder vectorizes fragment contents, batched.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// Invalidator drops cached corpus snapshots after the corpus changes.
type Invalidator interface {
	Invalidate()
}

// Service implements document ingestion.
type Service struct {
	repo      Repository
	embed     Embedder
	snapshots Invalidator
	splitter  *Splitter
	logger    *zap.Logger
}

// New creates an ingestion service.
func New(repo Repository, embed Embedder, snapshots Invalidator, splitter *Splitter, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		embed:     embed,
		snapshots: snapshots,
		splitter:  splitter,
		logger:    logger,
	}
}

// IngestPDF extracts text from a PDF and ingests it.
func (s *Service) IngestPDF(ctx context.Context, title string, r io.ReaderAt, size int64) (domain.Document, error) {
	text, err := extractPDFText(r, size)
	if err != nil {
		return domain.Document{}, err
	}
	return s.ingest(ctx, title, text)
}

// IngestText ingests plain text.
func (s *Service) IngestText(ctx context.Context, title, text string) (domain.Document, error) {
	return s.ingest(ctx, title, text)
}

func (s *Service) ingest(ctx context.Context, title, text string) (domain.Document, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Document{}, domain.ErrEmptyDocument
	}

	chunks := s.splitter.Split(text)
	if len(chunks) == 0 {
		return domain.Document{}, domain.ErrEmptyDocument
	}

	start := time.Now()

	batch, err := s.embed.BatchEmbed(ctx, chunks)
	if err != nil {
		return domain.Document{}, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if len(batch.Embeddings) != len(chunks) {
		return domain.Document{}, fmt.Errorf(
			"embed %d chunks: got %d vectors: %w",
			len(chunks), len(batch.Embeddings), domain.ErrEmbeddingProviderError)
	}

	doc := domain.Document{
		ID:         uuid.NewString(),
		Title:      title,
		UploadedAt: time.Now().UTC(),
		Fragments:  len(chunks),
	}

	frags := make([]domain.Fragment, len(chunks))
	for i, content := range chunks {
		frags[i] = domain.Fragment{
			ID:         fmt.Sprintf("%s:%d", doc.ID, i),
			DocumentID: doc.ID,
			Content:    content,
			Embedding:  batch.Embeddings[i],
		}
	}

	if err := s.repo.UpsertFragments(ctx, frags); err != nil {
		return domain.Document{}, fmt.Errorf("persist fragments: %w", err)
	}
	if err := s.repo.UpsertDocument(ctx, doc); err != nil {
		return domain.Document{}, fmt.Errorf("persist document: %w", err)
	}

	s.snapshots.Invalidate()

	s.logger.Info("Document ingested",
		zap.String("document_id", doc.ID),
		zap.String("title", title),
		zap.Int("fragments", len(frags)),
		zap.Int("total_tokens", batch.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return doc, nil
}
