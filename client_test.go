package ragserve

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNew_NoAddress(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("expected error when no address provided")
	}
}

func TestNoopEmbedder(t *testing.T) {
	noop := &noopEmbedder{}
	_, err := noop.Embed(context.Background(), "test")
	if err == nil {
		t.Fatal("expected error from noopEmbedder")
	}
}

func TestNoopGenerator(t *testing.T) {
	noop := &noopGenerator{}
	_, err := noop.Generate(context.Background(), "test")
	if err == nil {
		t.Fatal("expected error from noopGenerator")
	}
}

func TestEmbedderAdapter(t *testing.T) {
	called := false
	mock := &mockEmbedder{
		fn: func(_ context.Context, _ string) (EmbeddingResult, error) {
			called = true
			return EmbeddingResult{
				Embedding:    []float32{1, 2, 3},
				PromptTokens: 5,
				TotalTokens:  10,
			}, nil
		},
	}

	adapter := &embedderAdapter{inner: mock}
	result, err := adapter.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("inner embedder was not called")
	}
	if len(result.Embedding) != 3 {
		t.Errorf("embedding len = %d, want 3", len(result.Embedding))
	}
	if result.TotalTokens != 10 {
		t.Errorf("total tokens = %d, want 10", result.TotalTokens)
	}
}

func TestEmbedderAdapter_Error(t *testing.T) {
	mock := &mockEmbedder{
		fn: func(_ context.Context, _ string) (EmbeddingResult, error) {
			return EmbeddingResult{}, errors.New("provider down")
		},
	}

	adapter := &embedderAdapter{inner: mock}
	_, err := adapter.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error from adapter")
	}
}

func TestGeneratorAdapter(t *testing.T) {
	mock := &mockGenerator{
		fn: func(_ context.Context, prompt string) (GenerationResult, error) {
			return GenerationResult{Text: "answer", TotalTokens: 42}, nil
		},
	}

	adapter := &generatorAdapter{inner: mock}
	result, err := adapter.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "answer" {
		t.Errorf("text = %q, want %q", result.Text, "answer")
	}
	if result.TotalTokens != 42 {
		t.Errorf("total tokens = %d, want 42", result.TotalTokens)
	}
}

func TestGeneratorAdapter_Blocked(t *testing.T) {
	mock := &mockGenerator{
		fn: func(_ context.Context, _ string) (GenerationResult, error) {
			return GenerationResult{Blocked: true, BlockReason: "content_filter"}, nil
		},
	}

	adapter := &generatorAdapter{inner: mock}
	result, err := adapter.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Blocked {
		t.Error("expected blocked result")
	}
	if result.BlockReason != "content_filter" {
		t.Errorf("block reason = %q, want content_filter", result.BlockReason)
	}
}

func TestBatchEmbedder_Fallback(t *testing.T) {
	// embedderAdapter has no native batch support — the batch wrapper must
	// fall back to one Embed call per text.
	calls := 0
	mock := &mockEmbedder{
		fn: func(_ context.Context, _ string) (EmbeddingResult, error) {
			calls++
			return EmbeddingResult{Embedding: []float32{1}}, nil
		},
	}

	batch := &batchEmbedder{inner: &embedderAdapter{inner: mock}}
	result, err := batch.BatchEmbed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("embed calls = %d, want 3", calls)
	}
	if len(result.Embeddings) != 3 {
		t.Errorf("embeddings = %d, want 3", len(result.Embeddings))
	}
}

func TestClientOptions(t *testing.T) {
	cfg := &clientConfig{}

	WithRedis("localhost:6379", "secret")(cfg)
	if len(cfg.addrs) != 1 || cfg.addrs[0] != "localhost:6379" {
		t.Errorf("addrs = %v, want [localhost:6379]", cfg.addrs)
	}
	if cfg.password != "secret" {
		t.Errorf("password = %q, want secret", cfg.password)
	}

	WithKeyPrefix("kb:")(cfg)
	if cfg.keyPrefix != "kb:" {
		t.Errorf("keyPrefix = %q, want kb:", cfg.keyPrefix)
	}

	WithVectorDimensions(1024)(cfg)
	if cfg.vectorDimensions != 1024 {
		t.Errorf("vectorDimensions = %d, want 1024", cfg.vectorDimensions)
	}

	WithHNSW(32, 400)(cfg)
	if cfg.hnswM != 32 || cfg.hnswEFConstruct != 400 {
		t.Errorf("hnsw = (%d, %d), want (32, 400)", cfg.hnswM, cfg.hnswEFConstruct)
	}

	WithTopK(10)(cfg)
	if cfg.topK != 10 {
		t.Errorf("topK = %d, want 10", cfg.topK)
	}

	WithRetrieval(3, 20)(cfg)
	if cfg.fanOutFactor != 3 || cfg.rrfK != 20 {
		t.Errorf("retrieval = (%d, %v), want (3, 20)", cfg.fanOutFactor, cfg.rrfK)
	}

	WithChunking(500, 50)(cfg)
	if cfg.chunkSize != 500 || cfg.chunkOverlap != 50 {
		t.Errorf("chunking = (%d, %d), want (500, 50)", cfg.chunkSize, cfg.chunkOverlap)
	}

	WithHistory(10, time.Hour)(cfg)
	if cfg.historyMaxTurns != 10 || cfg.historyTTL != time.Hour {
		t.Errorf("history = (%d, %v), want (10, 1h)", cfg.historyMaxTurns, cfg.historyTTL)
	}

	WithQueryExpansion()(cfg)
	if !cfg.queryExpansion {
		t.Error("expected queryExpansion enabled")
	}

	WithPerRequestSnapshots()(cfg)
	if !cfg.perRequestSnapshots {
		t.Error("expected perRequestSnapshots enabled")
	}
}

func TestWithInstructions(t *testing.T) {
	cfg := &clientConfig{}
	WithInstructions("doc: ", "query: ")(cfg)
	if cfg.docInstruction != "doc: " || cfg.queryInstruction != "query: " {
		t.Errorf("instructions = (%q, %q)", cfg.docInstruction, cfg.queryInstruction)
	}
	if !cfg.instructionsCustom {
		t.Error("expected instructionsCustom set")
	}

	// Explicitly empty disables the defaults.
	cfg2 := &clientConfig{}
	WithInstructions("", "")(cfg2)
	if !cfg2.instructionsCustom {
		t.Error("expected instructionsCustom set for empty instructions")
	}
}

func TestWithEmbedder(t *testing.T) {
	mock := &mockEmbedder{
		fn: func(_ context.Context, _ string) (EmbeddingResult, error) {
			return EmbeddingResult{}, nil
		},
	}
	cfg := &clientConfig{}
	WithEmbedder(mock)(cfg)
	if cfg.embedder == nil {
		t.Error("expected non-nil embedder")
	}
}

func TestClient_Close_NilStore(t *testing.T) {
	// Close on a client with a nil store must not panic.
	c := &Client{store: nil}
	c.Close()
}

type mockEmbedder struct {
	fn func(ctx context.Context, text string) (EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	return m.fn(ctx, text)
}

type mockGenerator struct {
	fn func(ctx context.Context, prompt string) (GenerationResult, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (GenerationResult, error) {
	return m.fn(ctx, prompt)
}
