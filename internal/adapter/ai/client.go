// Package ai implements the LLM and embeddings provider over an
// OpenAI-compatible HTTP API, including SSE streaming for chat.
package ai

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/chat-orchestrator/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
)

// Client talks to an OpenAI-compatible provider.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	httpClient     *http.Client
	counter        *tokencount.Counter
}

// New constructs a Client.
func New(baseURL, apiKey, model, embeddingModel string, timeout time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		model:          model,
		embeddingModel: embeddingModel,
		httpClient:     &http.Client{Timeout: timeout},
		counter:        tokencount.NewCounter(),
	}
}

type chatRequest struct {
	Model         string               `json:"model"`
	Messages      []domain.ChatMessage `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *streamOptions       `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *domain.TokenUsage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *domain.TokenUsage `json:"usage"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// ChatStream streams a chat completion, invoking fn once per content chunk.
// Usage comes from the provider's final stream chunk when available, with a
// tokenizer-based estimate as fallback.
func (c *Client) ChatStream(ctx domain.Context, msgs []domain.ChatMessage, maxTokens int, fn func(chunk string) error) (domain.TokenUsage, error) {
	start := time.Now()
	observability.LLMRequestsTotal.WithLabelValues("chat_stream").Inc()
	defer func() {
		observability.LLMRequestDuration.WithLabelValues("chat_stream").Observe(time.Since(start).Seconds())
	}()

	body := chatRequest{
		Model:         c.model,
		Messages:      msgs,
		MaxTokens:     maxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return domain.TokenUsage{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return domain.TokenUsage{}, c.apiError(resp)
	}

	var (
		usage     *domain.TokenUsage
		completed strings.Builder
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed keep-alive frames.
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			completed.WriteString(choice.Delta.Content)
			if err := fn(choice.Delta.Content); err != nil {
				return domain.TokenUsage{}, fmt.Errorf("op=ai.ChatStream: callback: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.TokenUsage{}, fmt.Errorf("op=ai.ChatStream: read stream: %w", err)
	}
	if usage != nil {
		return *usage, nil
	}
	return c.estimateUsage(msgs, completed.String()), nil
}

// ChatCompletion performs a one-shot (non-streaming) chat completion.
func (c *Client) ChatCompletion(ctx domain.Context, msgs []domain.ChatMessage, maxTokens int, temperature float64) (string, domain.TokenUsage, error) {
	start := time.Now()
	observability.LLMRequestsTotal.WithLabelValues("chat").Inc()
	defer func() {
		observability.LLMRequestDuration.WithLabelValues("chat").Observe(time.Since(start).Seconds())
	}()

	body := chatRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", domain.TokenUsage{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", domain.TokenUsage{}, c.apiError(resp)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.TokenUsage{}, fmt.Errorf("op=ai.ChatCompletion: decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", domain.TokenUsage{}, fmt.Errorf("op=ai.ChatCompletion: empty choices")
	}
	content := out.Choices[0].Message.Content
	if out.Usage != nil {
		return content, *out.Usage, nil
	}
	return content, c.estimateUsage(msgs, content), nil
}

// Embed returns one embedding vector per input text.
func (c *Client) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	observability.LLMRequestsTotal.WithLabelValues("embed").Inc()
	defer func() {
		observability.LLMRequestDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	}()

	resp, err := c.post(ctx, "/embeddings", embeddingsRequest{Model: c.embeddingModel, Input: texts})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}
	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=ai.Embed: decode: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("op=ai.Embed: got %d embeddings for %d inputs", len(out.Data), len(texts))
	}
	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (c *Client) post(ctx domain.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("op=ai.post: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("op=ai.post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=ai.post: %w", err)
	}
	return resp, nil
}

// apiError surfaces the provider status code in the message so the retry
// classifier can recognize 429/503/504 responses.
func (c *Client) apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return fmt.Errorf("op=ai: provider status %d: %s", resp.StatusCode, msg)
}

func (c *Client) estimateUsage(msgs []domain.ChatMessage, completion string) domain.TokenUsage {
	var promptText strings.Builder
	for _, m := range msgs {
		promptText.WriteString(m.Content)
		promptText.WriteString("\n")
	}
	prompt, err := c.counter.CountTokens(promptText.String(), c.model)
	if err != nil {
		prompt = len(promptText.String()) / 4
	}
	comp, err := c.counter.CountTokens(completion, c.model)
	if err != nil {
		comp = len(completion) / 4
	}
	return domain.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: comp,
		TotalTokens:      prompt + comp,
	}
}

var _ domain.AIClient = (*Client)(nil)
