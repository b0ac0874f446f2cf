package usecase

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

type fakeConversations struct {
	convs    map[string]domain.Conversation
	appended map[string][]domain.ChatMessage
	titles   map[string]string
	created  []domain.Conversation
	attached map[string][]string
	deleted  []string
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		convs:    map[string]domain.Conversation{},
		appended: map[string][]domain.ChatMessage{},
		titles:   map[string]string{},
		attached: map[string][]string{},
	}
}

func (f *fakeConversations) Get(_ domain.Context, id, userID string) (domain.Conversation, error) {
	c, ok := f.convs[id]
	if !ok || c.UserID != userID {
		return domain.Conversation{}, fmt.Errorf("op=fake: %w", domain.ErrNotFound)
	}
	return c, nil
}

func (f *fakeConversations) Create(_ domain.Context, c domain.Conversation) error {
	f.convs[c.ID] = c
	f.created = append(f.created, c)
	return nil
}

func (f *fakeConversations) AppendMessages(_ domain.Context, id string, msgs []domain.ChatMessage) error {
	c, ok := f.convs[id]
	if !ok {
		return fmt.Errorf("op=fake: %w", domain.ErrNotFound)
	}
	c.Messages = append(c.Messages, msgs...)
	f.convs[id] = c
	f.appended[id] = append(f.appended[id], msgs...)
	return nil
}

func (f *fakeConversations) SetTitle(_ domain.Context, id, title string) error {
	f.titles[id] = title
	return nil
}

func (f *fakeConversations) AttachFile(_ domain.Context, id, fileID string) error {
	if _, ok := f.convs[id]; !ok {
		return fmt.Errorf("op=fake: %w", domain.ErrNotFound)
	}
	f.attached[id] = append(f.attached[id], fileID)
	return nil
}

func (f *fakeConversations) List(_ domain.Context, userID string, _ int) ([]domain.ConversationSummary, error) {
	var out []domain.ConversationSummary
	for _, c := range f.convs {
		if c.UserID == userID {
			out = append(out, domain.ConversationSummary{ID: c.ID, Title: c.Title, MessageCount: len(c.Messages)})
		}
	}
	return out, nil
}

func (f *fakeConversations) Delete(_ domain.Context, id, userID string) error {
	c, ok := f.convs[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("op=fake: %w", domain.ErrNotFound)
	}
	delete(f.convs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakePrompts struct{ set domain.PromptSet }

func (f *fakePrompts) Get(domain.Context) (domain.PromptSet, error) { return f.set, nil }
func (f *fakePrompts) Seed(domain.Context, domain.PromptSet) error  { return nil }

type fakeAI struct {
	streamChunks []string
	streamErr    error
	usage        domain.TokenUsage
	completion   string
	streamedMsgs []domain.ChatMessage
	embedded     [][]string
	embedDim     int
}

func (f *fakeAI) ChatStream(_ domain.Context, msgs []domain.ChatMessage, _ int, fn func(string) error) (domain.TokenUsage, error) {
	f.streamedMsgs = msgs
	if f.streamErr != nil {
		return domain.TokenUsage{}, f.streamErr
	}
	for _, c := range f.streamChunks {
		if err := fn(c); err != nil {
			return domain.TokenUsage{}, err
		}
	}
	return f.usage, nil
}

func (f *fakeAI) ChatCompletion(_ domain.Context, _ []domain.ChatMessage, _ int, _ float64) (string, domain.TokenUsage, error) {
	return f.completion, domain.TokenUsage{}, nil
}

func (f *fakeAI) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	f.embedded = append(f.embedded, texts)
	dim := f.embedDim
	if dim == 0 {
		dim = 3
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, dim)
	}
	return out, nil
}

type vectorCall struct {
	op         string
	collection string
	fileID     string
	chunks     []domain.DocumentChunk
}

type fakeVectors struct {
	hits  []domain.VectorHit
	calls []vectorCall
}

func (f *fakeVectors) EnsureCollection(_ domain.Context, name string, _ int) error {
	f.calls = append(f.calls, vectorCall{op: "ensure", collection: name})
	return nil
}

func (f *fakeVectors) RecreateCollection(_ domain.Context, name string, _ int) error {
	f.calls = append(f.calls, vectorCall{op: "recreate", collection: name})
	return nil
}

func (f *fakeVectors) UpsertChunks(_ domain.Context, collection string, chunks []domain.DocumentChunk, _ [][]float32) error {
	f.calls = append(f.calls, vectorCall{op: "upsert", collection: collection, chunks: chunks})
	return nil
}

func (f *fakeVectors) Search(_ domain.Context, _ string, _ []float32, _ int) ([]domain.VectorHit, error) {
	return f.hits, nil
}

func (f *fakeVectors) DeleteByFileID(_ domain.Context, collection, fileID string) error {
	f.calls = append(f.calls, vectorCall{op: "delete", collection: collection, fileID: fileID})
	return nil
}

type fakeResults struct {
	records map[string]domain.ProgressRecord
	writes  []domain.ProgressRecord
	deleted []string
}

func newFakeResults() *fakeResults {
	return &fakeResults{records: map[string]domain.ProgressRecord{}}
}

func (f *fakeResults) Write(_ domain.Context, rec domain.ProgressRecord) error {
	f.records[rec.CorrelationID] = rec
	f.writes = append(f.writes, rec)
	return nil
}

func (f *fakeResults) Read(_ domain.Context, id string) (domain.ProgressRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return domain.ProgressRecord{}, fmt.Errorf("op=fake: %w", domain.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeResults) Delete(_ domain.Context, id string) error {
	delete(f.records, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type emittedEvent struct {
	topic string
	event map[string]any
}

type fakeEmitter struct{ events []emittedEvent }

func (f *fakeEmitter) Emit(topic string, event map[string]any) {
	f.events = append(f.events, emittedEvent{topic: topic, event: event})
}

type publishedJob struct {
	topic         string
	correlationID string
	payload       map[string]any
}

type fakePublisher struct {
	jobs []publishedJob
	err  error
}

func (f *fakePublisher) Publish(_ domain.Context, topic, correlationID string, payload map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, publishedJob{topic: topic, correlationID: correlationID, payload: payload})
	return nil
}

type fakeFiles struct {
	saved    []domain.FileRecord
	statuses map[string]string
	counts   map[string]int
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{statuses: map[string]string{}, counts: map[string]int{}}
}

func (f *fakeFiles) Save(_ domain.Context, rec domain.FileRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeFiles) Get(_ domain.Context, id string) (domain.FileRecord, error) {
	for _, r := range f.saved {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.FileRecord{}, fmt.Errorf("op=fake: %w", domain.ErrNotFound)
}

func (f *fakeFiles) SetStatus(_ domain.Context, id, status string, chunkCount int) error {
	f.statuses[id] = status
	f.counts[id] = chunkCount
	return nil
}

type fakeKB struct {
	saved    []domain.KBDocument
	statuses map[string]string
	deleted  []string
}

func newFakeKB() *fakeKB { return &fakeKB{statuses: map[string]string{}} }

func (f *fakeKB) Save(_ domain.Context, doc domain.KBDocument) error {
	f.saved = append(f.saved, doc)
	return nil
}

func (f *fakeKB) SetStatus(_ domain.Context, id, status string, _ int) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeKB) Delete(_ domain.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeDLQ struct {
	records  map[string]domain.DLQRecord
	statuses map[string]domain.DLQStatus
}

func newFakeDLQ() *fakeDLQ {
	return &fakeDLQ{records: map[string]domain.DLQRecord{}, statuses: map[string]domain.DLQStatus{}}
}

func (f *fakeDLQ) Save(_ domain.Context, rec domain.DLQRecord) error {
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeDLQ) Get(_ domain.Context, id string) (domain.DLQRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return domain.DLQRecord{}, fmt.Errorf("op=fake: %w", domain.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeDLQ) List(_ domain.Context, _ string, _, _ int) ([]domain.DLQRecord, error) {
	var out []domain.DLQRecord
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeDLQ) SetStatus(_ domain.Context, id string, status domain.DLQStatus, _ time.Time) error {
	rec, ok := f.records[id]
	if !ok {
		return fmt.Errorf("op=fake: %w", domain.ErrNotFound)
	}
	rec.Status = status
	f.records[id] = rec
	f.statuses[id] = status
	return nil
}

func (f *fakeDLQ) Stats(domain.Context) (domain.DLQStats, error) {
	stats := domain.DLQStats{ByStatus: map[string]int{}, PendingByTopic: map[string]int{}}
	for _, r := range f.records {
		stats.Total++
		stats.ByStatus[string(r.Status)]++
	}
	return stats, nil
}

func (f *fakeDLQ) PendingIDs(domain.Context) ([]string, error) {
	var out []string
	for id, r := range f.records {
		if r.Status == domain.DLQPending {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeDLQ) Remove(_ domain.Context, id string) error {
	delete(f.records, id)
	return nil
}

type fakeAuditor struct{ previews []string }

func (f *fakeAuditor) RecordMessage(_ domain.Context, _, _, _, preview string) error {
	f.previews = append(f.previews, preview)
	return nil
}

type fakeExtractor struct {
	out domain.ExtractedText
	err error
}

func (f *fakeExtractor) Extract(domain.Context, string, []byte) (domain.ExtractedText, error) {
	return f.out, f.err
}
