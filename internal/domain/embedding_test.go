package domain

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	result EmbeddingResult
	err    error
	got    []string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.got = append(s.got, text)
	return s.result, s.err
}

func TestInstructionEmbedder_PrependsInstruction(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	emb := NewInstructionEmbedder(inner, "search_document: ")

	result, err := emb.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.got[0] != "search_document: hello world" {
		t.Errorf("expected prepended text, got %q", inner.got[0])
	}
	if len(result.Embedding) != 3 {
		t.Errorf("expected 3-element vector, got %d", len(result.Embedding))
	}
}

func TestInstructionEmbedder_ErrorPropagation(t *testing.T) {
	innerErr := errors.New("provider down")
	inner := &stubEmbedder{err: innerErr}
	emb := NewInstructionEmbedder(inner, "search_document: ")

	_, err := emb.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, innerErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestInstructionEmbedder_BatchFallsBackToSingleEmbeds(t *testing.T) {
	inner := &stubEmbedder{result: EmbeddingResult{Embedding: []float32{0.5}, TotalTokens: 2}}
	emb := NewInstructionEmbedder(inner, "doc: ")

	res, err := emb.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(res.Embeddings))
	}
	if res.TotalTokens != 4 {
		t.Errorf("expected aggregated tokens 4, got %d", res.TotalTokens)
	}
	if inner.got[0] != "doc: a" || inner.got[1] != "doc: b" {
		t.Errorf("expected prefixed texts, got %v", inner.got)
	}
}

func TestBatchFallback_StopsOnError(t *testing.T) {
	inner := &stubEmbedder{err: errors.New("boom")}

	_, err := BatchFallback(context.Background(), inner, []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(inner.got) != 1 {
		t.Errorf("expected fallback to stop after first failure, got %d calls", len(inner.got))
	}
}
