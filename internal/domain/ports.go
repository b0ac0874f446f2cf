package domain

import "time"

// Publisher enqueues a job payload on a primary-bus topic. The correlation id
// is used as the record key so retries of one job stay ordered.
type Publisher interface {
	Publish(ctx Context, topic, correlationID string, payload map[string]any) error
}

// EventEmitter publishes analytics events on the secondary bus. Emission is
// fire-and-forget: implementations must never block or fail the caller.
type EventEmitter interface {
	Emit(topic string, event map[string]any)
}

// ResultChannel is the shared progress store polled by the gateway and written
// by the workers.
type ResultChannel interface {
	Write(ctx Context, rec ProgressRecord) error
	Read(ctx Context, correlationID string) (ProgressRecord, error)
	Delete(ctx Context, correlationID string) error
}

// ConversationRepo persists chat threads.
type ConversationRepo interface {
	Get(ctx Context, id, userID string) (Conversation, error)
	Create(ctx Context, conv Conversation) error
	AppendMessages(ctx Context, id string, msgs []ChatMessage) error
	SetTitle(ctx Context, id, title string) error
	AttachFile(ctx Context, id, fileID string) error
	List(ctx Context, userID string, limit int) ([]ConversationSummary, error)
	Delete(ctx Context, id, userID string) error
}

// PromptRepo stores the operator-editable prompt set.
type PromptRepo interface {
	Get(ctx Context) (PromptSet, error)
	Seed(ctx Context, ps PromptSet) error
}

// FileRepo tracks per-user file indexing state.
type FileRepo interface {
	Save(ctx Context, rec FileRecord) error
	Get(ctx Context, id string) (FileRecord, error)
	SetStatus(ctx Context, id, status string, chunkCount int) error
}

// KBRepo tracks knowledge-base document state.
type KBRepo interface {
	Save(ctx Context, doc KBDocument) error
	SetStatus(ctx Context, id, status string, chunkCount int) error
	Delete(ctx Context, id string) error
}

// DLQRepo stores exhausted jobs for operator review. Save is idempotent on
// correlation id: a second failure of the same job appends to the error
// history instead of inserting a duplicate.
type DLQRepo interface {
	Save(ctx Context, rec DLQRecord) error
	Get(ctx Context, id string) (DLQRecord, error)
	List(ctx Context, status string, limit, offset int) ([]DLQRecord, error)
	SetStatus(ctx Context, id string, status DLQStatus, at time.Time) error
	Stats(ctx Context) (DLQStats, error)
	PendingIDs(ctx Context) ([]string, error)
	Remove(ctx Context, id string) error
}

// AIClient is an OpenAI-compatible provider: streaming chat, one-shot
// completion, and embeddings.
type AIClient interface {
	// ChatStream invokes fn once per streamed content chunk. A non-nil error
	// from fn aborts the stream.
	ChatStream(ctx Context, msgs []ChatMessage, maxTokens int, fn func(chunk string) error) (TokenUsage, error)
	ChatCompletion(ctx Context, msgs []ChatMessage, maxTokens int, temperature float64) (string, TokenUsage, error)
	Embed(ctx Context, texts []string) ([][]float32, error)
}

// VectorStore indexes and searches document chunks.
type VectorStore interface {
	EnsureCollection(ctx Context, name string, dim int) error
	RecreateCollection(ctx Context, name string, dim int) error
	UpsertChunks(ctx Context, collection string, chunks []DocumentChunk, vectors [][]float32) error
	Search(ctx Context, collection string, vector []float32, topK int) ([]VectorHit, error)
	DeleteByFileID(ctx Context, collection, fileID string) error
}

// TextExtractor converts an uploaded document to bounded plain text.
type TextExtractor interface {
	Extract(ctx Context, name string, data []byte) (ExtractedText, error)
}

// ExtractedText is the outcome of text extraction, already truncated to the
// configured limits.
type ExtractedText struct {
	Text      string
	Preview   string
	FileType  string
	Truncated bool
}

// RateLimiter enforces per-client request budgets.
type RateLimiter interface {
	// Allow reports whether the client identified by key may proceed under
	// the given per-minute limit, and how many requests remain.
	Allow(ctx Context, class, clientIP string, limit int) (allowed bool, remaining int, err error)
	IsBlacklisted(ctx Context, clientIP string) (bool, error)
}
