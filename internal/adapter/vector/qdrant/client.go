// Package qdrant implements the vector store on Qdrant's HTTP API.
package qdrant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// Client is a minimal Qdrant HTTP client implementing domain.VectorStore.
// Collections use cosine distance; hit scores are converted to distances so
// callers reason in one metric.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New constructs a Qdrant client with baseURL and optional apiKey.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ChunkCollectionName derives the per-file chunk collection from a file id.
func ChunkCollectionName(fileID string) string {
	return domain.ChunkCollectionName(fileID)
}

// EnsureCollection creates the collection if it does not exist.
func (c *Client) EnsureCollection(ctx domain.Context, name string, dim int) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.baseURL, name), nil)
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.EnsureCollection: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return c.createCollection(ctx, name, dim)
}

// RecreateCollection drops and recreates the collection, wiping its points.
// Used when a file is re-ingested.
func (c *Client) RecreateCollection(ctx domain.Context, name string, dim int) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/collections/%s", c.baseURL, name), nil)
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.RecreateCollection: %w", err)
	}
	_ = resp.Body.Close()
	// 404 on delete is fine: first ingestion of this file.
	return c.createCollection(ctx, name, dim)
}

func (c *Client) createCollection(ctx domain.Context, name string, dim int) error {
	payload := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	b, _ := json.Marshal(payload)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", c.baseURL, name), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.createCollection: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=qdrant.createCollection: status %d", resp.StatusCode)
	}
	return nil
}

// UpsertChunks writes document chunks with their vectors. Point payloads
// carry the chunk text plus file metadata used for filtering and citations.
func (c *Client) UpsertChunks(ctx domain.Context, collection string, chunks []domain.DocumentChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: chunks and vectors length mismatch", domain.ErrInvalidArgument)
	}
	points := make([]map[string]any, 0, len(chunks))
	for i, ch := range chunks {
		points = append(points, map[string]any{
			"id":     uuid.NewString(),
			"vector": vectors[i],
			"payload": map[string]any{
				"content":     ch.Text,
				"chunk_index": ch.Index,
				"file_id":     ch.FileID,
				"file_name":   ch.FileName,
			},
		})
	}
	body := map[string]any{"points": points}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s/points", c.baseURL, collection), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.UpsertChunks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=qdrant.UpsertChunks: status %d", resp.StatusCode)
	}
	return nil
}

// Search returns the top-k nearest chunks. Cosine similarity scores are
// mapped to distance = 1 - score.
func (c *Client) Search(ctx domain.Context, collection string, vector []float32, topK int) ([]domain.VectorHit, error) {
	body := map[string]any{"vector": vector, "limit": topK, "with_payload": true}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, collection), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=qdrant.Search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		// Collection absent means nothing indexed yet.
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=qdrant.Search: status %d", resp.StatusCode)
	}
	var out struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=qdrant.Search: decode: %w", err)
	}
	hits := make([]domain.VectorHit, 0, len(out.Result))
	for _, r := range out.Result {
		hit := domain.VectorHit{Distance: 1 - r.Score}
		if s, ok := r.Payload["content"].(string); ok {
			hit.Text = s
		}
		if s, ok := r.Payload["file_name"].(string); ok {
			hit.FileName = s
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByFileID removes all points whose payload references the file.
func (c *Client) DeleteByFileID(ctx domain.Context, collection, fileID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "file_id", "match": map[string]any{"value": fileID}},
			},
		},
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/delete", c.baseURL, collection), bytes.NewReader(b))
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.DeleteByFileID: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=qdrant.DeleteByFileID: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}

var _ domain.VectorStore = (*Client)(nil)
