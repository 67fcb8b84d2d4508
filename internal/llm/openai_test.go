package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatReply(content string, tokens int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{TotalTokens: tokens},
	}
}

func openAIServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: srv.URL + "/", Timeout: 5})
	require.NoError(t, err)
	return p
}

func TestOpenAIProvider_Complete(t *testing.T) {
	p := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, openai.GPT4oMini, req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, `{"claim":"x"}`, req.Messages[1].Content)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)

		_ = json.NewEncoder(w).Encode(chatReply(`  {"status":"ok","data":{},"error":null,"rollback":"none"}  `, 100))
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{System: "strict json", Prompt: `{"claim":"x"}`})
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok","data":{},"error":null,"rollback":"none"}`, resp.Text)
	assert.Equal(t, 100, resp.TokensUsed)
}

func TestOpenAIProvider_FallsBackWithoutJSONMode(t *testing.T) {
	var calls atomic.Int32
	p := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.ResponseFormat != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"response_format is not supported","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(chatReply(`{"status":"ok"}`, 5))
	})

	resp, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok"}`, resp.Text)
	assert.Equal(t, int32(2), calls.Load())

	// JSON mode stays off once rejected
	_, err = p.Complete(context.Background(), CompletionRequest{Prompt: "y"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIProvider_MissingKey(t *testing.T) {
	_, err := NewOpenAIProvider(Config{})
	assert.Error(t, err)
}

func TestOpenAIProvider_Complete_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"Internal Server Error","type":"server_error"}}`))
		}},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{ID: "empty"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := openAIServer(t, tt.handler)
			_, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x"})
			assert.Error(t, err)
		})
	}
}

func TestOpenAIProvider_Complete_CallerDeadline(t *testing.T) {
	p := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(chatReply("{}", 1))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, CompletionRequest{Prompt: "x"})
	assert.Error(t, err)
}

func TestOpenAIProvider_IsAvailable(t *testing.T) {
	var down atomic.Bool
	p := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !down.Load() && r.URL.Path == "/models" {
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o-mini"}]}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	assert.True(t, p.IsAvailable(context.Background()))
	down.Store(true)
	assert.False(t, p.IsAvailable(context.Background()))
}
