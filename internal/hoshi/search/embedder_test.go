package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "text-embedding-3-small" {
			t.Errorf("model = %v", body["model"])
		}
		if body["dimensions"] != float64(3) {
			t.Errorf("dimensions = %v", body["dimensions"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(EmbedderConfig{APIKey: "k", BaseURL: srv.URL, Model: "text-embedding-3-small", Dimensions: 3})
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder: %v", err)
	}
	vec, err := e.Embed(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOpenAIEmbedder_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"object":"list","data":[],"model":"m"}`))
	}))
	defer srv.Close()

	e, _ := NewOpenAIEmbedder(EmbedderConfig{BaseURL: srv.URL, Model: "m", Dimensions: 3})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestNewOpenAIEmbedder_Validation(t *testing.T) {
	if _, err := NewOpenAIEmbedder(EmbedderConfig{Dimensions: 3}); err == nil {
		t.Error("missing model accepted")
	}
	if _, err := NewOpenAIEmbedder(EmbedderConfig{Model: "m"}); err == nil {
		t.Error("zero dimensions accepted")
	}
}
