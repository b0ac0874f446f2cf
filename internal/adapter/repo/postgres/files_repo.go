package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// FileRepo tracks per-user file indexing state.
type FileRepo struct{ Pool PgxPool }

// NewFileRepo constructs a FileRepo with the given pool.
func NewFileRepo(p PgxPool) *FileRepo { return &FileRepo{Pool: p} }

// Save upserts a file record keyed by id.
func (r *FileRepo) Save(ctx domain.Context, rec domain.FileRecord) error {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.Save")
	defer span.End()
	q := `INSERT INTO files (id, user_id, name, type, collection, chunk_count, status, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	      ON CONFLICT (id) DO UPDATE SET
	        name=EXCLUDED.name, type=EXCLUDED.type, collection=EXCLUDED.collection,
	        chunk_count=EXCLUDED.chunk_count, status=EXCLUDED.status, updated_at=now()`
	if _, err := r.Pool.Exec(ctx, q, rec.ID, rec.UserID, rec.Name, rec.Type, rec.Collection, rec.ChunkCount, rec.Status); err != nil {
		return fmt.Errorf("op=files.save: %w", err)
	}
	return nil
}

// Get loads a file record by id.
func (r *FileRepo) Get(ctx domain.Context, id string) (domain.FileRecord, error) {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.Get")
	defer span.End()
	q := `SELECT id, user_id, name, type, collection, chunk_count, status, created_at, updated_at
	      FROM files WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var rec domain.FileRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Type, &rec.Collection, &rec.ChunkCount, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.FileRecord{}, fmt.Errorf("op=files.get: %w", domain.ErrNotFound)
		}
		return domain.FileRecord{}, fmt.Errorf("op=files.get: %w", err)
	}
	return rec, nil
}

// SetStatus updates indexing progress for a file.
func (r *FileRepo) SetStatus(ctx domain.Context, id, status string, chunkCount int) error {
	tracer := otel.Tracer("repo.files")
	ctx, span := tracer.Start(ctx, "files.SetStatus")
	defer span.End()
	q := `UPDATE files SET status=$2, chunk_count=$3, updated_at=now() WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, chunkCount)
	if err != nil {
		return fmt.Errorf("op=files.set_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=files.set_status: %w", domain.ErrNotFound)
	}
	return nil
}

// KBRepo tracks knowledge-base document state.
type KBRepo struct{ Pool PgxPool }

// NewKBRepo constructs a KBRepo with the given pool.
func NewKBRepo(p PgxPool) *KBRepo { return &KBRepo{Pool: p} }

// Save upserts a knowledge-base document record.
func (r *KBRepo) Save(ctx domain.Context, doc domain.KBDocument) error {
	tracer := otel.Tracer("repo.kb")
	ctx, span := tracer.Start(ctx, "kb.Save")
	defer span.End()
	q := `INSERT INTO kb_documents (id, name, chunk_count, status, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,now(),now())
	      ON CONFLICT (id) DO UPDATE SET
	        name=EXCLUDED.name, chunk_count=EXCLUDED.chunk_count, status=EXCLUDED.status, updated_at=now()`
	if _, err := r.Pool.Exec(ctx, q, doc.ID, doc.Name, doc.ChunkCount, doc.Status); err != nil {
		return fmt.Errorf("op=kb.save: %w", err)
	}
	return nil
}

// SetStatus updates indexing progress for a document.
func (r *KBRepo) SetStatus(ctx domain.Context, id, status string, chunkCount int) error {
	tracer := otel.Tracer("repo.kb")
	ctx, span := tracer.Start(ctx, "kb.SetStatus")
	defer span.End()
	q := `UPDATE kb_documents SET status=$2, chunk_count=$3, updated_at=now() WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, status, chunkCount); err != nil {
		return fmt.Errorf("op=kb.set_status: %w", err)
	}
	return nil
}

// Delete removes a document record after its vectors are gone.
func (r *KBRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.kb")
	ctx, span := tracer.Start(ctx, "kb.Delete")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM kb_documents WHERE id=$1`, id); err != nil {
		return fmt.Errorf("op=kb.delete: %w", err)
	}
	return nil
}
