package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// FileConfig carries the file handler's chunking knobs.
type FileConfig struct {
	ChunkSize    int
	ChunkOverlap int
	FileTopic    string
}

// FileHandler indexes an uploaded file: chunk, embed, store in a per-file
// vector collection, and record the outcome.
type FileHandler struct {
	files   domain.FileRepo
	vectors domain.VectorStore
	ai      domain.AIClient
	results domain.ResultChannel
	events  domain.EventEmitter
	cfg     FileConfig
}

// NewFileHandler wires a FileHandler.
func NewFileHandler(
	files domain.FileRepo,
	vectors domain.VectorStore,
	ai domain.AIClient,
	results domain.ResultChannel,
	events domain.EventEmitter,
	cfg FileConfig,
) *FileHandler {
	return &FileHandler{files: files, vectors: vectors, ai: ai, results: results, events: events, cfg: cfg}
}

// Handle processes one file job payload.
func (h *FileHandler) Handle(ctx domain.Context, payload map[string]any) (err error) {
	var job domain.FileJob
	if derr := domain.DecodePayload(payload, &job); derr != nil {
		return derr
	}
	if job.CorrelationID == "" || job.FileID == "" {
		return fmt.Errorf("%w: file job missing ids", domain.ErrInvalidArgument)
	}
	start := time.Now()
	chunkCount := 0

	// The analytics event fires whether indexing worked or not.
	defer func() {
		event := map[string]any{
			"event_type":    "FILE_PROCESSED",
			"user_id":       job.UserID,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
			"file_id":       job.FileID,
			"file_type":     job.FileType,
			"original_name": job.FileName,
			"file_size":     job.FileSize,
			"chunk_count":   chunkCount,
			"latency_ms":    time.Since(start).Milliseconds(),
			"success":       err == nil,
		}
		if err != nil {
			event["error"] = err.Error()
		}
		h.events.Emit(h.cfg.FileTopic, event)
	}()

	seed := domain.NewProgress(job.CorrelationID, domain.StatusProcessing)
	seed.Type = domain.JobTypeFile
	_ = h.results.Write(ctx, seed)

	chunks := ChunkText(job.Content, h.cfg.ChunkSize, h.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		h.setStatus(ctx, job.FileID, "error", 0)
		return fmt.Errorf("%w: no text extracted from file", domain.ErrInvalidArgument)
	}
	chunkCount = len(chunks)
	for i := range chunks {
		chunks[i].FileID = job.FileID
		chunks[i].FileName = job.FileName
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := h.ai.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("op=file.handle: embed: %w", err)
	}

	// Recreating the collection makes a re-upload of the same file replace
	// its chunks instead of accumulating duplicates.
	collection := domain.ChunkCollectionName(job.FileID)
	if err := h.vectors.RecreateCollection(ctx, collection, len(vectors[0])); err != nil {
		return fmt.Errorf("op=file.handle: collection: %w", err)
	}
	if err := h.vectors.UpsertChunks(ctx, collection, chunks, vectors); err != nil {
		return fmt.Errorf("op=file.handle: upsert: %w", err)
	}

	h.setStatus(ctx, job.FileID, "completed", len(chunks))

	rec := domain.CompletedProgress(job.CorrelationID, "", "")
	rec.Type = domain.JobTypeFile
	rec.ChunkCount = len(chunks)
	rec.CollectionName = collection
	if err := h.results.Write(ctx, rec); err != nil {
		return fmt.Errorf("op=file.handle: result: %w", err)
	}
	return nil
}

func (h *FileHandler) setStatus(ctx domain.Context, fileID, status string, chunkCount int) {
	if err := h.files.SetStatus(ctx, fileID, status, chunkCount); err != nil {
		slog.Warn("failed to update file status",
			slog.String("file_id", fileID),
			slog.String("status", status),
			slog.Any("error", err))
	}
}
