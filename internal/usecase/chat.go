package usecase

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/security"
)

// fileMarkerRe pulls the original filename out of an attached file segment.
var fileMarkerRe = regexp.MustCompile(`\[File:\s*([^\]]+)\]`)

// ChatConfig carries the chat handler's tuning knobs.
type ChatConfig struct {
	Budget           TokenBudget
	ResponseReserve  int
	KBCollection     string
	RAGTopK          int
	RAGMaxDistance   float64
	MaxRAGTokens     int
	TitleMaxTokens   int
	TitleTemperature float64
	StreamFlushEvery int
	Model            string
	LLMTopic         string
}

// ChatHandler processes chat jobs: security screening, history and RAG
// context assembly under a token budget, streamed generation with periodic
// progress flushes, persistence, and analytics emission.
type ChatHandler struct {
	conversations domain.ConversationRepo
	prompts       domain.PromptRepo
	ai            domain.AIClient
	vectors       domain.VectorStore
	results       domain.ResultChannel
	events        domain.EventEmitter
	cfg           ChatConfig
}

// NewChatHandler wires a ChatHandler.
func NewChatHandler(
	conversations domain.ConversationRepo,
	prompts domain.PromptRepo,
	ai domain.AIClient,
	vectors domain.VectorStore,
	results domain.ResultChannel,
	events domain.EventEmitter,
	cfg ChatConfig,
) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		prompts:       prompts,
		ai:            ai,
		vectors:       vectors,
		results:       results,
		events:        events,
		cfg:           cfg,
	}
}

// Handle processes one chat job payload. A returned error sends the job
// through the retry machinery; permanent failures should wrap a domain
// sentinel so the classifier does not retry them.
func (h *ChatHandler) Handle(ctx domain.Context, payload map[string]any) error {
	var job domain.ChatJob
	if err := domain.DecodePayload(payload, &job); err != nil {
		return err
	}
	if job.CorrelationID == "" || job.ConversationID == "" {
		return fmt.Errorf("%w: chat job missing ids", domain.ErrInvalidArgument)
	}
	start := time.Now()

	// Input screening. Suspicious input is logged and sanitized, never
	// rejected, so a false positive cannot break a legitimate chat.
	if suspicious, patterns := security.DetectInjection(job.Message); suspicious {
		n := len(patterns)
		if n > 3 {
			patterns = patterns[:3]
		}
		slog.Warn("prompt injection attempt detected",
			slog.String("correlation_id", job.CorrelationID),
			slog.String("user_id", job.UserID),
			slog.Int("pattern_count", n),
			slog.Any("patterns", patterns))
	}
	sanitized := security.Sanitize(job.Message)
	if strings.Contains(sanitized, fileContentMarker) {
		parts := strings.SplitN(sanitized, fileContentMarker, 2)
		filename := "uploaded_file"
		if m := fileMarkerRe.FindStringSubmatch(parts[1]); m != nil {
			filename = m[1]
		}
		sanitized = parts[0] + fileContentMarker + security.WrapFileContent(parts[1], filename)
	}

	maskedMessage, piiStats := security.MaskPII(job.Message)
	if len(piiStats) > 0 {
		slog.Info("pii detected in message",
			slog.String("correlation_id", job.CorrelationID),
			slog.Any("counts", piiStats))
	}

	ps, err := h.prompts.Get(ctx)
	if err != nil {
		return fmt.Errorf("op=chat.handle: prompts: %w", err)
	}

	conv, err := h.conversations.Get(ctx, job.ConversationID, job.UserID)
	if err != nil {
		return fmt.Errorf("op=chat.handle: conversation %s: %w", job.ConversationID, err)
	}

	history := conv.Messages
	if len(history) > h.cfg.Budget.MaxHistoryLength {
		history = history[len(history)-h.cfg.Budget.MaxHistoryLength:]
	}
	history = append(append([]domain.ChatMessage{}, history...),
		domain.ChatMessage{Role: domain.RoleUser, Content: sanitized})

	// Knowledge-base retrieval. Failures here degrade to a plain chat
	// instead of failing the job.
	systemPrompt := ps.SystemPrompt
	hasRAG := false
	if snippets := h.retrieveContext(ctx, job); len(snippets) > 0 {
		hasRAG = true
		systemPrompt = renderRAGPrompt(ps.RAGPromptTemplate, FitContext(snippets, h.cfg.MaxRAGTokens))
	}

	msgs := append([]domain.ChatMessage{{Role: domain.RoleSystem, Content: systemPrompt}},
		h.cfg.Budget.Fit(history, systemPrompt)...)

	// Pollers flip to streaming with an empty reply before the first chunk
	// arrives.
	_ = h.results.Write(ctx, domain.StreamingProgress(job.CorrelationID, "", 0))

	var (
		reply      strings.Builder
		chunkCount int
	)
	usage, err := h.ai.ChatStream(ctx, msgs, h.cfg.ResponseReserve, func(chunk string) error {
		reply.WriteString(chunk)
		chunkCount++
		if chunkCount%h.cfg.StreamFlushEvery == 0 {
			return h.results.Write(ctx, domain.StreamingProgress(job.CorrelationID, reply.String(), chunkCount))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=chat.handle: stream: %w", err)
	}
	aiReply := reply.String()
	latencyMS := time.Since(start).Milliseconds()

	// Response screening, log-only.
	if security.DetectPromptLeak(aiReply, systemPrompt) {
		slog.Warn("possible system prompt leak in response",
			slog.String("correlation_id", job.CorrelationID),
			slog.String("user_id", job.UserID))
	}
	if _, respPII := security.MaskPII(aiReply); len(respPII) > 0 {
		slog.Info("pii detected in response",
			slog.String("correlation_id", job.CorrelationID),
			slog.Any("counts", respPII))
	}

	title := ""
	if job.GenerateTitle {
		title = h.generateTitle(ctx, ps.TitlePrompt, job.Message)
	}

	if err := h.conversations.AppendMessages(ctx, job.ConversationID,
		[]domain.ChatMessage{{Role: domain.RoleAssistant, Content: aiReply}}); err != nil {
		return fmt.Errorf("op=chat.handle: append: %w", err)
	}
	if title != "" {
		if err := h.conversations.SetTitle(ctx, job.ConversationID, title); err != nil {
			slog.Warn("failed to set conversation title", slog.Any("error", err))
		}
	}

	final := domain.CompletedProgress(job.CorrelationID, aiReply, title)
	final.Type = domain.JobTypeChat
	if err := h.results.Write(ctx, final); err != nil {
		return fmt.Errorf("op=chat.handle: result: %w", err)
	}

	h.events.Emit(h.cfg.LLMTopic, map[string]any{
		"event_type":       "LLM_RESPONSE",
		"conversation_id":  job.ConversationID,
		"user_id":          job.UserID,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"model":            h.cfg.Model,
		"latency_ms":       latencyMS,
		"token_prompt":     usage.PromptTokens,
		"token_completion": usage.CompletionTokens,
		"success":          true,
		"has_rag":          hasRAG,
		"message_length":   len(truncate(maskedMessage, 500)),
		"reply_length":     len(truncate(aiReply, 500)),
		"title":            title,
	})
	return nil
}

// retrieveContext searches the shared knowledge base for chunks relevant to
// the user's text. Only the user-authored part of the message drives the
// query, capped so attached files cannot skew retrieval.
func (h *ChatHandler) retrieveContext(ctx domain.Context, job domain.ChatJob) []string {
	query := truncate(UserText(job.Message), 500)
	if strings.TrimSpace(query) == "" {
		return nil
	}
	vectors, err := h.ai.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		slog.Warn("kb query embedding failed", slog.Any("error", err))
		return nil
	}
	hits, err := h.vectors.Search(ctx, h.cfg.KBCollection, vectors[0], h.cfg.RAGTopK)
	if err != nil {
		slog.Warn("kb search failed", slog.Any("error", err))
		return nil
	}
	var snippets []string
	for _, hit := range hits {
		if hit.Distance >= h.cfg.RAGMaxDistance {
			continue
		}
		name := hit.FileName
		if name == "" {
			name = "KB"
		}
		snippets = append(snippets, "[Knowledge Base: "+name+"]\n"+hit.Text)
	}
	return snippets
}

// generateTitle asks the model for a short conversation title. Any failure
// leaves the title empty; the conversation keeps its provisional one.
func (h *ChatHandler) generateTitle(ctx domain.Context, titlePrompt, message string) string {
	seed := truncate(UserText(message), 150)
	prompt := titlePrompt + "\n\n\"" + seed + "\""
	out, _, err := h.ai.ChatCompletion(ctx,
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: prompt}},
		h.cfg.TitleMaxTokens, h.cfg.TitleTemperature)
	if err != nil {
		slog.Warn("title generation failed", slog.Any("error", err))
		return ""
	}
	title := strings.Trim(strings.TrimSpace(out), `"'`)
	return truncate(title, 50)
}

// renderRAGPrompt substitutes the retrieved context into the operator's
// template. Templates without a placeholder get the context appended.
func renderRAGPrompt(template, context string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, context)
	}
	return template + "\n\n" + context
}

// FriendlyErrorMessage rewrites provider errors whose raw text would confuse
// end users. Oversized requests surface as rate-limit or 413 responses.
func FriendlyErrorMessage(errMsg string) string {
	lower := strings.ToLower(errMsg)
	if strings.Contains(lower, "rate_limit") || strings.Contains(errMsg, "413") {
		return "Message too long. Please try with a shorter message or smaller file."
	}
	return errMsg
}

// truncate caps s at n runes. Byte slicing would split multi-byte characters
// in non-ASCII messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
