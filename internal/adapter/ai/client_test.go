package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

func newTestClient(url string) *Client {
	return New(url, "test-key", "gpt-4o-mini", "text-embedding-3-small", 10*time.Second)
}

func TestChatStream_CollectsChunksAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
				"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":2,\"total_tokens\":14}}\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	var chunks []string
	usage, err := newTestClient(srv.URL).ChatStream(context.Background(),
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, 100,
		func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, 14, usage.TotalTokens)
}

func TestChatStream_CallbackErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ChatStream(context.Background(),
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, 100,
		func(string) error { return assert.AnError })
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestChatStream_ProviderStatusInError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ChatStream(context.Background(),
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, 100,
		func(string) error { return nil })
	require.Error(t, err)
	// The status code must surface so the retry classifier sees it.
	assert.Contains(t, err.Error(), "429")
	assert.True(t, domain.Retryable(err))
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 0.3, req["temperature"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "A short title"}}},
			"usage":   map[string]any{"prompt_tokens": 20, "completion_tokens": 4, "total_tokens": 24},
		})
	}))
	defer srv.Close()

	content, usage, err := newTestClient(srv.URL).ChatCompletion(context.Background(),
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: "title please"}}, 20, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "A short title", content)
	assert.Equal(t, 24, usage.TotalTokens)
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2}},
				{"embedding": []float32{0.3, 0.4}},
			},
		})
	}))
	defer srv.Close()

	vecs, err := newTestClient(srv.URL).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.3, 0.4}, vecs[1])
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(context.Background(), []string{"a"})
	assert.Error(t, err)
}
