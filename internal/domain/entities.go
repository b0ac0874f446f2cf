// Package domain contains core business types and ports shared by all
// services. It has no dependencies on adapters.
package domain

import (
	"context"
	"time"
)

// Context is re-exported so signatures across the codebase read uniformly.
type Context = context.Context

// Chat roles as sent to the LLM provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single turn in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is a persisted chat thread. Messages hold the display form of
// each turn; the full LLM-form content (with file segments) is only carried on
// the bus.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Messages  []ChatMessage
	FileIDs   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationSummary is the list view of a conversation, without messages.
type ConversationSummary struct {
	ID           string
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PromptSet holds the operator-editable prompts driving the chat handler.
type PromptSet struct {
	SystemPrompt      string
	RAGPromptTemplate string
	TitlePrompt       string
}

// ChatJob is the payload carried on the chat topic. GenerateTitle is set when
// the conversation was just created and still needs a model-derived title.
type ChatJob struct {
	CorrelationID  string `json:"correlation_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	ModelID        string `json:"model_id,omitempty"`
	GenerateTitle  bool   `json:"generate_title,omitempty"`
}

// FileJob is the payload carried on the file topic. Content is the extracted
// text, already bounded by the gateway's extraction limits; FileSize is the
// byte size of the original upload.
type FileJob struct {
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	FileID        string `json:"file_id"`
	FileName      string `json:"file_name"`
	FileType      string `json:"file_type"`
	FileSize      int64  `json:"file_size"`
	Content       string `json:"content"`
	Preview       string `json:"preview,omitempty"`
}

// KB actions.
const (
	KBActionUpsert = "upsert"
	KBActionDelete = "delete"
)

// KBJob is the payload carried on the knowledge-base topic.
type KBJob struct {
	CorrelationID string `json:"correlation_id"`
	Action        string `json:"action"`
	FileID        string `json:"file_id"`
	FileName      string `json:"file_name,omitempty"`
	Content       string `json:"content,omitempty"`
}

// FileRecord tracks an ingested file's indexing state.
type FileRecord struct {
	ID         string
	UserID     string
	Name       string
	Type       string
	Collection string
	ChunkCount int
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// KBDocument tracks a knowledge-base document's indexing state.
type KBDocument struct {
	ID         string
	Name       string
	ChunkCount int
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DocumentChunk is one unit of vectorized text.
type DocumentChunk struct {
	Index    int
	Text     string
	FileID   string
	FileName string
}

// VectorHit is a search result from the vector store. Distance is 0 for an
// exact match and grows with dissimilarity.
type VectorHit struct {
	Text     string
	FileName string
	Distance float64
}

// TokenUsage mirrors the usage block of OpenAI-compatible responses.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
