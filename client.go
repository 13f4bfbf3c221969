// Package ragserve embeds the retrieval-augmented QA engine as a library:
// the same ingestion, hybrid retrieval and answer pipeline the HTTP server
// runs, wired directly over a Redis connection without the transport layer.
package ragserve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	dbRedis "github.com/lumora-cloud/ragserve/internal/db/redis"
	"github.com/lumora-cloud/ragserve/internal/domain"
	fragmentrepo "github.com/lumora-cloud/ragserve/internal/repository/fragment"
	historyrepo "github.com/lumora-cloud/ragserve/internal/repository/history"
	answeruc "github.com/lumora-cloud/ragserve/internal/usecase/answer"
	expanduc "github.com/lumora-cloud/ragserve/internal/usecase/expand"
	ingestuc "github.com/lumora-cloud/ragserve/internal/usecase/ingest"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultKeyPrefix        = "ragserve:"
	defaultHistoryMaxTurns  = 20
)

// Document describes an ingested source file.
type Document struct {
	ID         string
	Title      string
	Fragments  int
	UploadedAt time.Time
}

// Client is the ragserve SDK entry point.
type Client struct {
	store   *dbRedis.Store
	answers *answeruc.Service
	ingest  *ingestuc.Service
	frags   *fragmentrepo.Repo
	history *historyrepo.Repo
}

// New creates a ragserve Client, connects to the database and ensures the
// vector index exists.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		keyPrefix:        defaultKeyPrefix,
		vectorDimensions: domain.DefaultVectorConfig().Dimensions,
	}
	for _, o := range opts {
		o(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("ragserve: database address required (use WithRedis)")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("ragserve: create redis store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("ragserve: database not ready: %w", err)
	}

	c, err := wireClient(store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	if err := c.frags.EnsureIndex(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ragserve: ensure vector index: %w", err)
	}

	return c, nil
}

func wireClient(store *dbRedis.Store, cfg *clientConfig) (*Client, error) {
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Providers: noop when not configured (ingest/ask return errors).
	var domEmb domain.Embedder = &noopEmbedder{}
	if cfg.embedder != nil {
		domEmb = &embedderAdapter{inner: cfg.embedder}
	}
	var domGen domain.Generator = &noopGenerator{}
	if cfg.generator != nil {
		domGen = &generatorAdapter{inner: cfg.generator}
	}

	// Asymmetric instruction prefixes, outermost so documents and queries
	// embed differently with the same provider.
	docInstruction := cfg.docInstruction
	queryInstruction := cfg.queryInstruction
	if !cfg.instructionsCustom {
		vecDefaults := domain.DefaultVectorConfig()
		docInstruction = vecDefaults.DocumentInstruction
		queryInstruction = vecDefaults.QueryInstruction
	}
	docEmb := domEmb
	queryEmb := domEmb
	if cfg.embedder != nil {
		if docInstruction != "" {
			docEmb = domain.NewInstructionEmbedder(domEmb, docInstruction)
		}
		if queryInstruction != "" {
			queryEmb = domain.NewInstructionEmbedder(domEmb, queryInstruction)
		}
	}

	hnswM, hnswEF := cfg.hnswM, cfg.hnswEFConstruct
	if hnswM <= 0 {
		hnswM = 16
	}
	if hnswEF <= 0 {
		hnswEF = 200
	}
	fragRepo := fragmentrepo.New(store, cfg.keyPrefix, cfg.vectorDimensions,
		fragmentrepo.HNSWConfig{M: hnswM, EFConstruct: hnswEF})

	var snapshots answeruc.SnapshotProvider
	if cfg.perRequestSnapshots {
		snapshots = answeruc.NewPerRequestSnapshots(fragRepo)
	} else {
		// No TTL: the client owns every corpus write and invalidates itself.
		snapshots = answeruc.NewCachedSnapshots(fragRepo, 0)
	}

	var expander answeruc.Expander
	if cfg.queryExpansion && cfg.generator != nil {
		expander = expanduc.New(domGen, logger)
	}

	answerSvc, err := answeruc.New(snapshots, fragRepo, queryEmb, domGen, expander,
		answeruc.Config{
			TopK:         cfg.topK,
			FanOutFactor: cfg.fanOutFactor,
			RRFK:         cfg.rrfK,
		}, logger)
	if err != nil {
		return nil, fmt.Errorf("ragserve: %w", err)
	}

	ingestSvc := ingestuc.New(fragRepo, &batchEmbedder{inner: docEmb}, answerSvc,
		ingestuc.NewSplitter(cfg.chunkSize, cfg.chunkOverlap), logger)

	maxTurns := cfg.historyMaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultHistoryMaxTurns
	}
	histRepo := historyrepo.New(store, cfg.keyPrefix, maxTurns, cfg.historyTTL)

	return &Client{
		store:   store,
		answers: answerSvc,
		ingest:  ingestSvc,
		frags:   fragRepo,
		history: histRepo,
	}, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Ask answers a question from the ingested corpus.
func (c *Client) Ask(ctx context.Context, query string) (string, error) {
	return c.answers.Answer(ctx, query, "")
}

// AskWithMemory answers a question with a caller-supplied conversation
// transcript as additional prompt context.
func (c *Client) AskWithMemory(ctx context.Context, query, chatMemory string) (string, error) {
	return c.answers.Answer(ctx, query, chatMemory)
}

// AskSession answers a question using the stored history of the given
// session and records the exchange. History failures do not fail the call.
func (c *Client) AskSession(ctx context.Context, sessionID, query string) (string, error) {
	turns, err := c.history.Recent(ctx, sessionID)
	if err != nil {
		turns = nil
	}

	answer, err := c.answers.Answer(ctx, query, historyrepo.Render(turns))
	if err != nil {
		return "", err
	}

	_ = c.history.Append(ctx, sessionID, historyrepo.Turn{Question: query, Answer: answer})
	return answer, nil
}

// IngestText splits, embeds and stores a plain-text document.
func (c *Client) IngestText(ctx context.Context, title, text string) (Document, error) {
	doc, err := c.ingest.IngestText(ctx, title, text)
	if err != nil {
		return Document{}, err
	}
	return toPublicDocument(doc), nil
}

// IngestPDF extracts text from a PDF, then splits, embeds and stores it.
func (c *Client) IngestPDF(ctx context.Context, title string, r io.ReaderAt, size int64) (Document, error) {
	doc, err := c.ingest.IngestPDF(ctx, title, r, size)
	if err != nil {
		return Document{}, err
	}
	return toPublicDocument(doc), nil
}

// Documents lists every ingested document.
func (c *Client) Documents(ctx context.Context) ([]Document, error) {
	docs, err := c.frags.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = toPublicDocument(d)
	}
	return out, nil
}

// DeleteDocument removes a document and its fragments, then drops cached
// corpus snapshots.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	if err := c.frags.DeleteDocument(ctx, id); err != nil {
		return err
	}
	c.answers.Invalidate()
	return nil
}

func toPublicDocument(d domain.Document) Document {
	return Document{
		ID:         d.ID,
		Title:      d.Title,
		Fragments:  d.Fragments,
		UploadedAt: d.UploadedAt,
	}
}

// embedderAdapter wraps the public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// generatorAdapter wraps the public Generator to satisfy internal domain.Generator.
type generatorAdapter struct {
	inner Generator
}

func (a *generatorAdapter) Generate(ctx context.Context, prompt string) (domain.GenerationResult, error) {
	r, err := a.inner.Generate(ctx, prompt)
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("generate: %w", err)
	}
	return domain.GenerationResult{
		Text:             r.Text,
		Blocked:          r.Blocked,
		BlockReason:      r.BlockReason,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
	}, nil
}

// batchEmbedder adapts a domain.Embedder to the ingestion batch contract.
type batchEmbedder struct {
	inner domain.Embedder
}

func (b *batchEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := b.inner.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, b.inner, texts)
}

// noopEmbedder returns an error on Embed call (used when no embedder configured).
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, errors.New(
		"ragserve: embedder not configured (use WithEmbedder)",
	)
}

// noopGenerator returns an error on Generate call (used when no generator configured).
type noopGenerator struct{}

func (noopGenerator) Generate(_ context.Context, _ string) (domain.GenerationResult, error) {
	return domain.GenerationResult{}, errors.New(
		"ragserve: generator not configured (use WithGenerator)",
	)
}
