package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// ConversationRepo persists chat threads with their message arrays as JSONB.
type ConversationRepo struct{ Pool PgxPool }

// NewConversationRepo constructs a ConversationRepo with the given pool.
func NewConversationRepo(p PgxPool) *ConversationRepo { return &ConversationRepo{Pool: p} }

// Get loads a conversation. The user id is matched in the query so a wrong
// owner reads as not-found rather than forbidden, leaking nothing.
func (r *ConversationRepo) Get(ctx domain.Context, id, userID string) (domain.Conversation, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Get")
	defer span.End()
	q := `SELECT id, user_id, title, messages, file_ids, created_at, updated_at
	      FROM conversations WHERE id=$1 AND user_id=$2`
	row := r.Pool.QueryRow(ctx, q, id, userID)
	var (
		c        domain.Conversation
		messages []byte
		fileIDs  []byte
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &messages, &fileIDs, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Conversation{}, fmt.Errorf("op=conversation.get: %w", domain.ErrNotFound)
		}
		return domain.Conversation{}, fmt.Errorf("op=conversation.get: %w", err)
	}
	if err := json.Unmarshal(messages, &c.Messages); err != nil {
		return domain.Conversation{}, fmt.Errorf("op=conversation.get: messages: %w", err)
	}
	if err := json.Unmarshal(fileIDs, &c.FileIDs); err != nil {
		return domain.Conversation{}, fmt.Errorf("op=conversation.get: file_ids: %w", err)
	}
	return c, nil
}

// Create inserts a new conversation.
func (r *ConversationRepo) Create(ctx domain.Context, c domain.Conversation) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Create")
	defer span.End()
	messages, err := json.Marshal(emptyIfNilMsgs(c.Messages))
	if err != nil {
		return fmt.Errorf("op=conversation.create: %w", err)
	}
	fileIDs, err := json.Marshal(emptyIfNil(c.FileIDs))
	if err != nil {
		return fmt.Errorf("op=conversation.create: %w", err)
	}
	q := `INSERT INTO conversations (id, user_id, title, messages, file_ids, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)`
	now := time.Now().UTC()
	if _, err := r.Pool.Exec(ctx, q, c.ID, c.UserID, c.Title, messages, fileIDs, now, now); err != nil {
		return fmt.Errorf("op=conversation.create: %w", err)
	}
	return nil
}

// AppendMessages appends turns to the message array and bumps updated_at.
func (r *ConversationRepo) AppendMessages(ctx domain.Context, id string, msgs []domain.ChatMessage) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.AppendMessages")
	defer span.End()
	if len(msgs) == 0 {
		return nil
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("op=conversation.append: %w", err)
	}
	q := `UPDATE conversations SET messages = messages || $2::jsonb, updated_at = now() WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, b)
	if err != nil {
		return fmt.Errorf("op=conversation.append: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=conversation.append: %w", domain.ErrNotFound)
	}
	return nil
}

// SetTitle replaces the provisional title with the model-generated one.
func (r *ConversationRepo) SetTitle(ctx domain.Context, id, title string) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.SetTitle")
	defer span.End()
	q := `UPDATE conversations SET title=$2, updated_at=now() WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, title); err != nil {
		return fmt.Errorf("op=conversation.set_title: %w", err)
	}
	return nil
}

// AttachFile links an uploaded file to the conversation.
func (r *ConversationRepo) AttachFile(ctx domain.Context, id, fileID string) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.AttachFile")
	defer span.End()
	q := `UPDATE conversations SET file_ids = file_ids || to_jsonb($2::text), updated_at = now() WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, fileID)
	if err != nil {
		return fmt.Errorf("op=conversation.attach_file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=conversation.attach_file: %w", domain.ErrNotFound)
	}
	return nil
}

// List returns the user's most recent conversations, newest first.
func (r *ConversationRepo) List(ctx domain.Context, userID string, limit int) ([]domain.ConversationSummary, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.List")
	defer span.End()
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	q := `SELECT id, title, jsonb_array_length(messages), created_at, updated_at
	      FROM conversations WHERE user_id=$1 ORDER BY updated_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=conversation.list: %w", err)
	}
	defer rows.Close()
	var out []domain.ConversationSummary
	for rows.Next() {
		var s domain.ConversationSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.MessageCount, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=conversation.list: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=conversation.list: %w", err)
	}
	return out, nil
}

// Delete removes a conversation owned by the user.
func (r *ConversationRepo) Delete(ctx domain.Context, id, userID string) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Delete")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM conversations WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("op=conversation.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=conversation.delete: %w", domain.ErrNotFound)
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyIfNilMsgs(m []domain.ChatMessage) []domain.ChatMessage {
	if m == nil {
		return []domain.ChatMessage{}
	}
	return m
}
