package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/civictriage/backend/internal/apperrors"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewOllama(Options{BaseURL: srv.URL, Model: "test-model", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}
	return client
}

func TestOllama_Embed(t *testing.T) {
	var gotPrompt, gotModel string
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotPrompt, gotModel = req.Prompt, req.Model
		json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float64{0.1, 0.2, 0.3}})
	})

	vec, err := client.Embed(context.Background(), "Pothole. Deep hole")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("Embed() = %v", vec)
	}
	if gotPrompt != "Pothole. Deep hole" || gotModel != "test-model" {
		t.Errorf("request prompt=%q model=%q", gotPrompt, gotModel)
	}
}

func TestOllama_EmbedErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"model not loaded"}`))
			},
			want: apperrors.ErrUpstreamUnavailable,
		},
		{
			name: "empty vector",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"embedding":[]}`))
			},
			want: apperrors.ErrMalformedResponse,
		},
		{
			name: "missing field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"vector":[1,2]}`))
			},
			want: apperrors.ErrMalformedResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newOllamaServer(t, tt.handler)
			_, err := client.Embed(context.Background(), "text")
			if !errors.Is(err, tt.want) {
				t.Errorf("Embed() error = %v, expected %v", err, tt.want)
			}
		})
	}
}

func TestOllama_EmbedUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewOllama(Options{BaseURL: url, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Embed(context.Background(), "text"); !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestOllama_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client, err := NewOllama(Options{BaseURL: srv.URL, Model: "m", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Generate(context.Background(), "hello", false)
	if !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Errorf("timeout should map to ErrUpstreamUnavailable, got %v", err)
	}
}

func TestOllama_GenerateJSONMode(t *testing.T) {
	var gotFormat json.RawMessage
	var gotStream *bool
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Format json.RawMessage `json:"format"`
			Stream *bool           `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotFormat, gotStream = req.Format, req.Stream
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":   "test-model",
			"message": map[string]string{"role": "assistant", "content": `{"subject": "Urgent", "body": "Please act"}`},
			"done":    true,
		})
	})

	out, err := client.Generate(context.Background(), "draft", true)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != `{"subject":"Urgent","body":"Please act"}` {
		t.Errorf("Generate() = %q", out)
	}
	if string(gotFormat) != `"json"` {
		t.Errorf("format = %s, expected \"json\"", gotFormat)
	}
	if gotStream == nil || *gotStream {
		t.Error("stream should be explicitly false")
	}
}

func TestOllama_GenerateJSONModeRejectsProse(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"role": "assistant", "content": "I think it is a pothole."},
			"done":    true,
		})
	})

	_, err := client.Generate(context.Background(), "classify", true)
	if !errors.Is(err, apperrors.ErrInvalidModelOutput) {
		t.Errorf("expected ErrInvalidModelOutput, got %v", err)
	}
}

func TestOllama_GenerateText(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"role": "assistant", "content": "Hello! How can I help?"},
			"done":    true,
		})
	})

	out, err := client.Generate(context.Background(), "hi", false)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "Hello! How can I help?" {
		t.Errorf("Generate() = %q", out)
	}
	if client.Provider() != "ollama" || client.Model() != "test-model" {
		t.Errorf("Describer = %s/%s", client.Provider(), client.Model())
	}
}
