package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

func TestChunkCollectionName(t *testing.T) {
	name := ChunkCollectionName("file-123")
	assert.Len(t, name, len("FileChunk_")+12)
	assert.Equal(t, name, ChunkCollectionName("file-123"), "stable")
	assert.NotEqual(t, name, ChunkCollectionName("file-124"))
}

func TestSearch_MapsScoreToDistance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/RagData/points/search", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(5), body["limit"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"score": 0.92, "payload": map[string]any{"content": "chunk text", "file_name": "doc.pdf"}},
				{"score": -0.1, "payload": map[string]any{"content": "far away"}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	hits, err := c.Search(context.Background(), "RagData", []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 0.08, hits[0].Distance, 1e-9)
	assert.Equal(t, "chunk text", hits[0].Text)
	assert.Equal(t, "doc.pdf", hits[0].FileName)
	assert.InDelta(t, 1.1, hits[1].Distance, 1e-9)
}

func TestSearch_MissingCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	hits, err := c.Search(context.Background(), "RagData", []float32{0.1}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertChunks_LengthMismatch(t *testing.T) {
	c := New("http://unused", "")
	err := c.UpsertChunks(context.Background(), "x",
		[]domain.DocumentChunk{{Text: "a"}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRecreateCollection(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	require.NoError(t, c.RecreateCollection(context.Background(), "FileChunk_abc", 1536))
	assert.Equal(t, []string{
		"DELETE /collections/FileChunk_abc",
		"PUT /collections/FileChunk_abc",
	}, calls)
}

func TestDeleteByFileID_Filter(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/RagData/points/delete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	require.NoError(t, c.DeleteByFileID(context.Background(), "RagData", "file-1"))
	filter := got["filter"].(map[string]any)
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	assert.Equal(t, "file_id", cond["key"])
}
