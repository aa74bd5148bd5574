package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestOpenAIEmbedderReordersByIndex 响应乱序时按 index 还原顺序
func TestOpenAIEmbedderReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Errorf("expected 2 inputs, got %d", len(req.Input))
		}
		// 故意乱序返回
		json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingData{
				{Index: 1, Embedding: []float32{2, 2, 2}},
				{Index: 0, Embedding: []float32{1, 1, 1}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, Dims: 3})
	vectors, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][0] != 2 {
		t.Errorf("vectors not reordered by index: %v", vectors)
	}
}

// TestOpenAIEmbedderAPIError API 错误归为 EmbeddingProviderError（可重试）
func TestOpenAIEmbedderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, Dims: 3})
	_, err := e.Embed(context.Background(), []string{"text"})
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindEmbeddingProvider {
		t.Errorf("expected EmbeddingProviderError, got %v", KindOf(err))
	}
	if !IsRetryable(err) {
		t.Error("provider errors must be retryable")
	}
}

// TestOpenAIEmbedderCountMismatch 向量数量与输入不符报错
func TestOpenAIEmbedderCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingData{{Index: 0, Embedding: []float32{1}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, Dims: 1})
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	if KindOf(err) != KindEmbeddingProvider {
		t.Fatalf("expected EmbeddingProviderError, got %v", err)
	}
}

// TestOpenAIEmbedderEmptyInput 空输入直接返回，不发请求
func TestOpenAIEmbedderEmptyInput(t *testing.T) {
	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: "http://unreachable.invalid", Dims: 3})
	vectors, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil vectors, got %v", vectors)
	}
}
