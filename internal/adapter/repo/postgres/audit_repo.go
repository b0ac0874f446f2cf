package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// AuditRepo records which IPs sent which messages. The preview column holds a
// short masked excerpt, never the full message.
type AuditRepo struct{ Pool PgxPool }

// NewAuditRepo constructs an AuditRepo with the given pool.
func NewAuditRepo(p PgxPool) *AuditRepo { return &AuditRepo{Pool: p} }

// previewLimit bounds the stored excerpt.
const previewLimit = 120

// RecordMessage inserts one audit row per accepted send.
func (r *AuditRepo) RecordMessage(ctx domain.Context, ip, userID, endpoint, preview string) error {
	tracer := otel.Tracer("repo.audit")
	ctx, span := tracer.Start(ctx, "audit.RecordMessage")
	defer span.End()
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	q := `INSERT INTO ip_messages (ip, user_id, endpoint, preview) VALUES ($1,$2,$3,$4)`
	if _, err := r.Pool.Exec(ctx, q, ip, userID, endpoint, preview); err != nil {
		return fmt.Errorf("op=audit.record_message: %w", err)
	}
	return nil
}
