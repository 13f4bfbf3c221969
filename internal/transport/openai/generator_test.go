package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lumora-cloud/ragserve/internal/domain"
)

// openaiChatResponse mirrors the OpenAI-compatible chat completion response.
type openaiChatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func chatResponse(content, finishReason string) openaiChatResponse {
	var resp openaiChatResponse
	resp.ID = "chatcmpl-test"
	resp.Object = "chat.completion"
	resp.Model = "test-model"
	resp.Choices = append(resp.Choices, struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	}{
		FinishReason: finishReason,
	})
	resp.Choices[0].Message.Role = "assistant"
	resp.Choices[0].Message.Content = content
	resp.Usage.PromptTokens = 15
	resp.Usage.CompletionTokens = 7
	resp.Usage.TotalTokens = 22
	return resp
}

func TestGenerator_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "test-model" {
			t.Errorf("unexpected model: %v", req["model"])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse("Cats are mammals.", "stop"))
	}))
	defer server.Close()

	gen := NewGenerator(&GeneratorConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	result, err := gen.Generate(context.Background(), "Are cats mammals?")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Text != "Cats are mammals." {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if result.Blocked {
		t.Error("expected not blocked")
	}
	if result.TotalTokens != 22 || result.PromptTokens != 15 || result.CompletionTokens != 7 {
		t.Errorf("unexpected usage: %+v", result)
	}
}

func TestGenerator_ContentFilterBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse("", "content_filter"))
	}))
	defer server.Close()

	gen := NewGenerator(&GeneratorConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	result, err := gen.Generate(context.Background(), "something nasty")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !result.Blocked {
		t.Fatal("expected blocked result")
	}
	if result.BlockReason != "content_filter" {
		t.Errorf("unexpected block reason: %q", result.BlockReason)
	}
}

func TestGenerator_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "upstream exploded",
				"type":    "server_error",
			},
		})
	}))
	defer server.Close()

	gen := NewGenerator(&GeneratorConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	_, err := gen.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !errors.Is(err, domain.ErrGenerationProviderError) {
		t.Errorf("expected ErrGenerationProviderError, got %v", err)
	}
}

func TestGenerator_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp openaiChatResponse
		resp.ID = "chatcmpl-test"
		resp.Object = "chat.completion"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	gen := NewGenerator(&GeneratorConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})

	_, err := gen.Generate(context.Background(), "hello")
	if !errors.Is(err, domain.ErrGenerationProviderError) {
		t.Errorf("expected ErrGenerationProviderError, got %v", err)
	}
}

func TestGenerator_Timeout(t *testing.T) {
	// Provider hangs until the caller disconnects; the configured deadline
	// must cut the call instead of the server write timeout.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	gen := NewGenerator(&GeneratorConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Timeout: 30 * time.Millisecond,
		Logger:  zap.NewNop(),
	})

	start := time.Now()
	_, err := gen.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, domain.ErrGenerationProviderError) {
		t.Errorf("expected ErrGenerationProviderError wrap, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("deadline not applied, call took %v", elapsed)
	}
}
