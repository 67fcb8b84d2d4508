package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ollamaServer(t *testing.T, handler http.HandlerFunc) *OllamaProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewOllamaProvider(Config{BaseURL: srv.URL + "/", Model: "llama3.1", Timeout: 5})
	require.NoError(t, err)
	return p
}

func TestOllamaProvider_Complete(t *testing.T) {
	p := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)
		assert.Equal(t, "llama3.1", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, ollamaMessage{Role: "system", Content: "strict json"}, req.Messages[0])
		assert.Equal(t, ollamaMessage{Role: "user", Content: "input"}, req.Messages[1])
		assert.EqualValues(t, 512, req.Options["num_predict"])

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           "llama3.1",
			Message:         ollamaMessage{Role: "assistant", Content: "\n{\"status\":\"ok\",\"data\":{}}\n"},
			Done:            true,
			PromptEvalCount: 10,
			EvalCount:       20,
		})
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{System: "strict json", Prompt: "input"})
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok","data":{}}`, resp.Text)
	assert.Equal(t, "llama3.1", resp.Model)
	assert.Equal(t, 30, resp.TokensUsed)
}

func TestOllamaProvider_Complete_NoSystemMessage(t *testing.T) {
	p := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaMessage{Content: "{}"}, Done: true})
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{Prompt: "12345678"})
	require.NoError(t, err)
	// no counts reported: (8 + 2) / 4
	assert.Equal(t, 2, resp.TokensUsed)
}

func TestOllamaProvider_Complete_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"api error field", http.StatusNotFound, `{"error":"model 'llama3.1' not found"}`, "not found"},
		{"plain body", http.StatusInternalServerError, "boom", "boom"},
		{"malformed json", http.StatusOK, `{malformed`, "decode response"},
		{"incomplete reply", http.StatusOK, `{"message":{"content":"{}"},"done":false}`, "not complete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOllamaProvider_Complete_NoModel(t *testing.T) {
	p, err := NewOllamaProvider(Config{})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be specified")
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	var down atomic.Bool
	p := ollamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !down.Load() && r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	assert.True(t, p.IsAvailable(context.Background()))
	down.Store(true)
	assert.False(t, p.IsAvailable(context.Background()))
}
