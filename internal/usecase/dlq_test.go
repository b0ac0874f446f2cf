package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

func pendingDLQRecord(id, correlationID string) domain.DLQRecord {
	return domain.DLQRecord{
		ID:            id,
		CorrelationID: correlationID,
		OriginalTopic: "chat_requests",
		Payload: map[string]any{
			"correlation_id": correlationID,
			"message":        "hello",
			domain.RetryMetaKey: map[string]any{
				"original_topic": "chat_requests",
				"retry_count":    5,
			},
		},
		LastError:     "Max retries (5) exceeded. timeout",
		RetryCount:    5,
		Status:        domain.DLQPending,
		FirstFailedAt: time.Now().UTC(),
		LastFailedAt:  time.Now().UTC(),
	}
}

func TestDLQRetry_RepublishesCleanPayload(t *testing.T) {
	repo := newFakeDLQ()
	repo.records["d1"] = pendingDLQRecord("d1", "req-1")
	pub := &fakePublisher{}
	results := newFakeResults()
	s := NewDLQService(repo, pub, results)

	rec, err := s.Retry(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DLQRetried, rec.Status)

	require.Len(t, pub.jobs, 1)
	assert.Equal(t, "chat_requests", pub.jobs[0].topic)
	assert.Equal(t, "req-1", pub.jobs[0].correlationID)
	assert.Equal(t, "hello", pub.jobs[0].payload["message"])
	// The replay starts with a fresh retry budget.
	assert.NotContains(t, pub.jobs[0].payload, domain.RetryMetaKey)
	// The stored record keeps its payload untouched.
	assert.Contains(t, repo.records["d1"].Payload, domain.RetryMetaKey)

	// Pollers of the original id see the job running again.
	assert.Equal(t, domain.StatusProcessing, results.records["req-1"].Status)
}

func TestDLQRetry_ClearsStaleErrorRecord(t *testing.T) {
	repo := newFakeDLQ()
	repo.records["d1"] = pendingDLQRecord("d1", "req-1")
	results := newFakeResults()
	// The failed run left a terminal error that a plain write cannot
	// overwrite in the real store.
	_ = results.Write(context.Background(), domain.ErrorProgress("req-1", "Max retries (5) exceeded. boom"))
	s := NewDLQService(repo, &fakePublisher{}, results)

	_, err := s.Retry(context.Background(), "d1")
	require.NoError(t, err)

	assert.Contains(t, results.deleted, "req-1")
	assert.Equal(t, domain.StatusProcessing, results.records["req-1"].Status)
	assert.Zero(t, results.records["req-1"].Finished)
}

func TestDLQRetry_ResolvedRecordConflicts(t *testing.T) {
	repo := newFakeDLQ()
	rec := pendingDLQRecord("d1", "req-1")
	rec.Status = domain.DLQResolved
	repo.records["d1"] = rec
	s := NewDLQService(repo, &fakePublisher{}, newFakeResults())

	_, err := s.Retry(context.Background(), "d1")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestDLQRetry_MissingRecord(t *testing.T) {
	s := NewDLQService(newFakeDLQ(), &fakePublisher{}, newFakeResults())
	_, err := s.Retry(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDLQRetryAll(t *testing.T) {
	repo := newFakeDLQ()
	repo.records["d1"] = pendingDLQRecord("d1", "req-1")
	repo.records["d2"] = pendingDLQRecord("d2", "req-2")
	resolved := pendingDLQRecord("d3", "req-3")
	resolved.Status = domain.DLQResolved
	repo.records["d3"] = resolved
	pub := &fakePublisher{}
	s := NewDLQService(repo, pub, newFakeResults())

	out, err := s.RetryAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Retried)
	assert.Empty(t, out.Failed)
	assert.Len(t, pub.jobs, 2)
	assert.Equal(t, domain.DLQRetried, repo.records["d1"].Status)
	assert.Equal(t, domain.DLQRetried, repo.records["d2"].Status)
	assert.Equal(t, domain.DLQResolved, repo.records["d3"].Status)
}

func TestDLQResolveAndDelete(t *testing.T) {
	repo := newFakeDLQ()
	repo.records["d1"] = pendingDLQRecord("d1", "req-1")
	s := NewDLQService(repo, &fakePublisher{}, newFakeResults())
	ctx := context.Background()

	require.NoError(t, s.Resolve(ctx, "d1"))
	assert.Equal(t, domain.DLQResolved, repo.records["d1"].Status)

	require.NoError(t, s.Delete(ctx, "d1"))
	assert.NotContains(t, repo.records, "d1")
}
