package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/security"
)

// MessageAuditor records which client IP sent which message. Auditing is
// best-effort; failures are logged, never surfaced.
type MessageAuditor interface {
	RecordMessage(ctx domain.Context, clientIP, userID, endpoint, preview string) error
}

// GatewayConfig carries the gateway's topics and limits.
type GatewayConfig struct {
	TopicChat       string
	TopicFile       string
	TopicKB         string
	TopicEvents     string
	MaxMessageChars int
}

// Gateway is the request-intake service: it validates input, persists the
// synchronous side effects, enqueues the job, and seeds the result channel so
// pollers immediately see a processing state.
type Gateway struct {
	publisher     domain.Publisher
	results       domain.ResultChannel
	conversations domain.ConversationRepo
	files         domain.FileRepo
	kb            domain.KBRepo
	extractor     domain.TextExtractor
	audit         MessageAuditor
	events        domain.EventEmitter
	cfg           GatewayConfig
}

// NewGateway wires a Gateway.
func NewGateway(
	publisher domain.Publisher,
	results domain.ResultChannel,
	conversations domain.ConversationRepo,
	files domain.FileRepo,
	kb domain.KBRepo,
	extractor domain.TextExtractor,
	audit MessageAuditor,
	events domain.EventEmitter,
	cfg GatewayConfig,
) *Gateway {
	return &Gateway{
		publisher:     publisher,
		results:       results,
		conversations: conversations,
		files:         files,
		kb:            kb,
		extractor:     extractor,
		audit:         audit,
		events:        events,
		cfg:           cfg,
	}
}

// SendInput is a chat send request. Message is the full form (with any file
// content) forwarded to the model; DisplayContent is the short form saved for
// the UI.
type SendInput struct {
	ConversationID string
	Message        string
	DisplayContent string
}

// SendResult identifies the enqueued job and its conversation.
type SendResult struct {
	CorrelationID  string `json:"correlation_id"`
	ConversationID string `json:"conversation_id"`
}

// SendMessage validates and enqueues a chat message, creating the
// conversation when needed.
func (g *Gateway) SendMessage(ctx domain.Context, userID, clientIP string, in SendInput) (SendResult, error) {
	if strings.TrimSpace(in.Message) == "" {
		return SendResult{}, fmt.Errorf("%w: message is required", domain.ErrInvalidArgument)
	}
	if ok, reason := security.ValidateInput(in.Message, g.cfg.MaxMessageChars); !ok {
		slog.Warn("invalid chat input blocked",
			slog.String("user_id", userID),
			slog.String("client_ip", clientIP),
			slog.String("reason", reason))
		return SendResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, reason)
	}

	isNew := in.ConversationID == ""
	conversationID := in.ConversationID
	if isNew {
		conversationID = uuid.NewString()
		if err := g.conversations.Create(ctx, domain.Conversation{
			ID:     conversationID,
			UserID: userID,
			Title:  provisionalTitle(in),
		}); err != nil {
			return SendResult{}, fmt.Errorf("op=gateway.send: create conversation: %w", err)
		}
		g.events.Emit(g.cfg.TopicEvents, map[string]any{
			"event_type":      "CONVERSATION_CREATED",
			"conversation_id": conversationID,
			"user_id":         userID,
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
		})
	} else if _, err := g.conversations.Get(ctx, conversationID, userID); err != nil {
		return SendResult{}, fmt.Errorf("op=gateway.send: %w", err)
	}

	// The stored turn is the display form so reloading a conversation shows
	// the short message, not pasted file content.
	saved := in.DisplayContent
	if saved == "" {
		saved = in.Message
	}
	if err := g.conversations.AppendMessages(ctx, conversationID,
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: saved}}); err != nil {
		return SendResult{}, fmt.Errorf("op=gateway.send: append: %w", err)
	}

	if err := g.audit.RecordMessage(ctx, clientIP, userID, "/api/chat/send", saved); err != nil {
		slog.Warn("message audit failed", slog.Any("error", err))
	}

	correlationID := uuid.NewString()
	payload, err := domain.EncodePayload(domain.ChatJob{
		CorrelationID:  correlationID,
		UserID:         userID,
		ConversationID: conversationID,
		Message:        in.Message,
		GenerateTitle:  isNew,
	})
	if err != nil {
		return SendResult{}, err
	}
	if err := g.publisher.Publish(ctx, g.cfg.TopicChat, correlationID, payload); err != nil {
		return SendResult{}, fmt.Errorf("op=gateway.send: publish: %w", err)
	}

	// Seed the channel so a poll racing the worker sees processing instead
	// of a miss.
	seed := domain.NewProgress(correlationID, domain.StatusProcessing)
	seed.Type = domain.JobTypeChat
	if err := g.results.Write(ctx, seed); err != nil {
		slog.Warn("failed to seed result channel", slog.Any("error", err))
	}

	return SendResult{CorrelationID: correlationID, ConversationID: conversationID}, nil
}

// Poll reads the current progress of a job. A missing record reads as
// processing: either the worker has not started, or the record expired after
// completion. Terminal records are deleted on first read.
func (g *Gateway) Poll(ctx domain.Context, correlationID string) (domain.ProgressRecord, error) {
	rec, err := g.results.Read(ctx, correlationID)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.ProgressRecord{CorrelationID: correlationID, Status: domain.StatusProcessing}, nil
		}
		return domain.ProgressRecord{}, fmt.Errorf("op=gateway.poll: %w", err)
	}
	if rec.Finished == 1 {
		if err := g.results.Delete(ctx, correlationID); err != nil {
			slog.Warn("failed to delete finished result", slog.Any("error", err))
		}
	}
	return rec, nil
}

// UploadResult identifies an accepted upload and its extraction preview.
type UploadResult struct {
	CorrelationID string `json:"correlation_id"`
	FileID        string `json:"file_id"`
	FileType      string `json:"file_type"`
	Preview       string `json:"preview,omitempty"`
	Truncated     bool   `json:"truncated"`
}

// UploadFile extracts text from an upload and enqueues it for indexing.
func (g *Gateway) UploadFile(ctx domain.Context, userID, conversationID, fileName string, data []byte) (UploadResult, error) {
	if ok, reason := security.ValidateFilename(fileName); !ok {
		return UploadResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, reason)
	}
	extracted, err := g.extractor.Extract(ctx, fileName, data)
	if err != nil {
		return UploadResult{}, fmt.Errorf("op=gateway.upload: %w", err)
	}

	fileID := uuid.NewString()
	if err := g.files.Save(ctx, domain.FileRecord{
		ID:         fileID,
		UserID:     userID,
		Name:       fileName,
		Type:       extracted.FileType,
		Collection: domain.ChunkCollectionName(fileID),
		Status:     "processing",
	}); err != nil {
		return UploadResult{}, fmt.Errorf("op=gateway.upload: save: %w", err)
	}
	if conversationID != "" {
		if err := g.conversations.AttachFile(ctx, conversationID, fileID); err != nil {
			return UploadResult{}, fmt.Errorf("op=gateway.upload: attach: %w", err)
		}
	}

	correlationID := uuid.NewString()
	payload, err := domain.EncodePayload(domain.FileJob{
		CorrelationID: correlationID,
		UserID:        userID,
		FileID:        fileID,
		FileName:      fileName,
		FileType:      extracted.FileType,
		FileSize:      int64(len(data)),
		Content:       extracted.Text,
		Preview:       extracted.Preview,
	})
	if err != nil {
		return UploadResult{}, err
	}
	if err := g.publisher.Publish(ctx, g.cfg.TopicFile, correlationID, payload); err != nil {
		return UploadResult{}, fmt.Errorf("op=gateway.upload: publish: %w", err)
	}
	seed := domain.NewProgress(correlationID, domain.StatusProcessing)
	seed.Type = domain.JobTypeFile
	if err := g.results.Write(ctx, seed); err != nil {
		slog.Warn("failed to seed result channel", slog.Any("error", err))
	}

	return UploadResult{
		CorrelationID: correlationID,
		FileID:        fileID,
		FileType:      extracted.FileType,
		Preview:       extracted.Preview,
		Truncated:     extracted.Truncated,
	}, nil
}

// UploadKBDocument extracts an admin upload and enqueues it for knowledge-base
// ingestion.
func (g *Gateway) UploadKBDocument(ctx domain.Context, fileName string, data []byte) (UploadResult, error) {
	if ok, reason := security.ValidateFilename(fileName); !ok {
		return UploadResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, reason)
	}
	extracted, err := g.extractor.Extract(ctx, fileName, data)
	if err != nil {
		return UploadResult{}, fmt.Errorf("op=gateway.kb_upload: %w", err)
	}

	fileID := uuid.NewString()
	if err := g.kb.Save(ctx, domain.KBDocument{
		ID:     fileID,
		Name:   fileName,
		Status: "processing",
	}); err != nil {
		return UploadResult{}, fmt.Errorf("op=gateway.kb_upload: save: %w", err)
	}

	correlationID := uuid.NewString()
	payload, err := domain.EncodePayload(domain.KBJob{
		CorrelationID: correlationID,
		Action:        domain.KBActionUpsert,
		FileID:        fileID,
		FileName:      fileName,
		Content:       extracted.Text,
	})
	if err != nil {
		return UploadResult{}, err
	}
	if err := g.publisher.Publish(ctx, g.cfg.TopicKB, correlationID, payload); err != nil {
		return UploadResult{}, fmt.Errorf("op=gateway.kb_upload: publish: %w", err)
	}
	seed := domain.NewProgress(correlationID, domain.StatusProcessing)
	seed.Type = domain.JobTypeKB
	if err := g.results.Write(ctx, seed); err != nil {
		slog.Warn("failed to seed result channel", slog.Any("error", err))
	}

	return UploadResult{CorrelationID: correlationID, FileID: fileID, FileType: extracted.FileType, Truncated: extracted.Truncated}, nil
}

// DeleteKBDocument enqueues removal of a knowledge-base document.
func (g *Gateway) DeleteKBDocument(ctx domain.Context, fileID string) (SendResult, error) {
	if fileID == "" {
		return SendResult{}, fmt.Errorf("%w: file id is required", domain.ErrInvalidArgument)
	}
	correlationID := uuid.NewString()
	payload, err := domain.EncodePayload(domain.KBJob{
		CorrelationID: correlationID,
		Action:        domain.KBActionDelete,
		FileID:        fileID,
	})
	if err != nil {
		return SendResult{}, err
	}
	if err := g.publisher.Publish(ctx, g.cfg.TopicKB, correlationID, payload); err != nil {
		return SendResult{}, fmt.Errorf("op=gateway.kb_delete: publish: %w", err)
	}
	return SendResult{CorrelationID: correlationID}, nil
}

// Conversations lists the user's recent conversations.
func (g *Gateway) Conversations(ctx domain.Context, userID string, limit int) ([]domain.ConversationSummary, error) {
	return g.conversations.List(ctx, userID, limit)
}

// Conversation loads one conversation with its messages.
func (g *Gateway) Conversation(ctx domain.Context, id, userID string) (domain.Conversation, error) {
	return g.conversations.Get(ctx, id, userID)
}

// DeleteConversation removes a conversation owned by the user.
func (g *Gateway) DeleteConversation(ctx domain.Context, id, userID string) error {
	if err := g.conversations.Delete(ctx, id, userID); err != nil {
		return err
	}
	g.events.Emit(g.cfg.TopicEvents, map[string]any{
		"event_type":      "CONVERSATION_DELETED",
		"conversation_id": id,
		"user_id":         userID,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// provisionalTitle derives the conversation's initial title from the first
// message. The chat worker replaces it with a model-generated one.
func provisionalTitle(in SendInput) string {
	source := in.DisplayContent
	if source == "" {
		source = UserText(in.Message)
	}
	if len(source) > 50 {
		return source[:50] + "..."
	}
	return source
}
