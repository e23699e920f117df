package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIProviderEmbed(t *testing.T) {
	// Mock OpenAI-compatible embedding server.
	// APIProvider posts to endpoint+"/embeddings", so we use a mux.
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		resp := apiResponse{
			Data: []apiEmbeddingData{
				{Embedding: []float32{0.1, 0.2, 0.3}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{
		Endpoint: srv.URL,
		Model:    "test-model",
	})

	vectors, err := p.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vectors))
	}
	if len(vectors[0]) != 3 {
		t.Fatalf("got dimension %d, want 3", len(vectors[0]))
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIProviderEmbed_Empty(t *testing.T) {
	p := NewAPIProvider(Config{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 128,
	})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestAPIProviderDimension_Fallback(t *testing.T) {
	p := NewAPIProvider(Config{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 256,
	})

	// Before any Embed call, Dimension should return the configured default.
	if d := p.Dimension(); d != 256 {
		t.Errorf("got dimension %d, want configured default 256", d)
	}
}

func TestLocalProviderEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(localResponse{Embedding: []float32{1, 0, -1, 0.5}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "test-model"})

	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if p.Dimension() != 4 {
		t.Errorf("got dimension %d, want 4", p.Dimension())
	}
}

func TestLocalProviderEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "test-model"})
	if _, err := p.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0, 1, -1, 0.25, float32(math.Pi)}
	decoded, err := DecodeVector(EncodeVector(vec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("got %d values, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("value %d: got %v, want %v", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeVector_BadLength(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for misaligned blob")
	}
}

// countingProvider records Embed calls for cache tests.
type countingProvider struct {
	calls int
	dim   int
}

func (p *countingProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dim)
	}
	return out, nil
}

func (p *countingProvider) Dimension() int { return p.dim }

func TestCachedProvider_NilCachePassesThrough(t *testing.T) {
	inner := &countingProvider{dim: 3}
	p := NewCachedProvider(inner, nil, "test-model")

	vectors, err := p.Embed(context.Background(), []string{"x", "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || inner.calls != 1 {
		t.Errorf("got %d vectors after %d calls", len(vectors), inner.calls)
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}
