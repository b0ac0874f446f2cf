package usecase

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// KBConfig carries the knowledge-base handler's settings.
type KBConfig struct {
	Collection string
	MaxChars   int
}

// KBHandler maintains the shared knowledge-base collection: sentence-chunked
// upserts on admin uploads, and removals when a document is deleted.
type KBHandler struct {
	kb      domain.KBRepo
	vectors domain.VectorStore
	ai      domain.AIClient
	results domain.ResultChannel
	cfg     KBConfig
}

// NewKBHandler wires a KBHandler.
func NewKBHandler(kb domain.KBRepo, vectors domain.VectorStore, ai domain.AIClient, results domain.ResultChannel, cfg KBConfig) *KBHandler {
	return &KBHandler{kb: kb, vectors: vectors, ai: ai, results: results, cfg: cfg}
}

// Handle processes one knowledge-base job payload.
func (h *KBHandler) Handle(ctx domain.Context, payload map[string]any) error {
	var job domain.KBJob
	if err := domain.DecodePayload(payload, &job); err != nil {
		return err
	}
	if job.FileID == "" {
		return fmt.Errorf("%w: kb job missing file id", domain.ErrInvalidArgument)
	}

	switch job.Action {
	case domain.KBActionUpsert:
		if job.CorrelationID == "" {
			return fmt.Errorf("%w: kb job missing correlation id", domain.ErrInvalidArgument)
		}
		return h.upsert(ctx, job)
	case domain.KBActionDelete:
		return h.delete(ctx, job)
	default:
		return fmt.Errorf("%w: unknown kb action %q", domain.ErrInvalidArgument, job.Action)
	}
}

func (h *KBHandler) upsert(ctx domain.Context, job domain.KBJob) error {
	seed := domain.NewProgress(job.CorrelationID, domain.StatusProcessing)
	seed.Type = domain.JobTypeKB
	_ = h.results.Write(ctx, seed)

	chunks := ChunkSentences(job.Content, h.cfg.MaxChars)
	if len(chunks) == 0 {
		h.setStatus(ctx, job.FileID, "error", 0)
		return fmt.Errorf("%w: no text extracted from document", domain.ErrInvalidArgument)
	}
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
		return fmt.Errorf("op=kb.upsert: embed: %w", err)
	}

	if err := h.vectors.EnsureCollection(ctx, h.cfg.Collection, len(vectors[0])); err != nil {
		return fmt.Errorf("op=kb.upsert: collection: %w", err)
	}
	// Re-ingest replaces this document's chunks, leaving the rest of the
	// collection untouched.
	if err := h.vectors.DeleteByFileID(ctx, h.cfg.Collection, job.FileID); err != nil {
		return fmt.Errorf("op=kb.upsert: clear previous: %w", err)
	}
	if err := h.vectors.UpsertChunks(ctx, h.cfg.Collection, chunks, vectors); err != nil {
		return fmt.Errorf("op=kb.upsert: upsert: %w", err)
	}

	h.setStatus(ctx, job.FileID, "completed", len(chunks))

	rec := domain.CompletedProgress(job.CorrelationID, "", "")
	rec.Type = domain.JobTypeKB
	rec.ChunkCount = len(chunks)
	if err := h.results.Write(ctx, rec); err != nil {
		return fmt.Errorf("op=kb.upsert: result: %w", err)
	}
	return nil
}

// delete removes a document's chunks. Deletes need no correlation id: the
// admin surface fire-and-forgets them, so progress is only written when the
// publisher asked for it.
func (h *KBHandler) delete(ctx domain.Context, job domain.KBJob) error {
	if err := h.vectors.DeleteByFileID(ctx, h.cfg.Collection, job.FileID); err != nil {
		return fmt.Errorf("op=kb.delete: %w", err)
	}
	if err := h.kb.Delete(ctx, job.FileID); err != nil && !domain.IsNotFound(err) {
		return fmt.Errorf("op=kb.delete: record: %w", err)
	}
	if job.CorrelationID == "" {
		return nil
	}
	rec := domain.CompletedProgress(job.CorrelationID, "", "")
	rec.Type = domain.JobTypeKB
	if err := h.results.Write(ctx, rec); err != nil {
		return fmt.Errorf("op=kb.delete: result: %w", err)
	}
	return nil
}

func (h *KBHandler) setStatus(ctx domain.Context, fileID, status string, chunkCount int) {
	if err := h.kb.SetStatus(ctx, fileID, status, chunkCount); err != nil {
		slog.Warn("failed to update kb document status",
			slog.String("file_id", fileID),
			slog.String("status", status),
			slog.Any("error", err))
	}
}
