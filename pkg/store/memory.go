package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/interp/pkg/core/types"
)

// MemoryStore keeps conversations in process memory. It backs tests and
// deployments without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]types.ConversationRecord
	now     func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]types.ConversationRecord),
		now:     time.Now,
	}
}

func (m *MemoryStore) CreateConversation(ctx context.Context, rec types.ConversationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}
	cloned, err := cloneRecord(rec)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.ID]; exists {
		return "", fmt.Errorf("conversation %q already exists", rec.ID)
	}
	m.records[rec.ID] = cloned
	return rec.ID, nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (types.ConversationRecord, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return types.ConversationRecord{}, ErrNotFound
	}
	return cloneRecord(rec)
}

func (m *MemoryStore) ListConversations(ctx context.Context) ([]types.ConversationSummary, error) {
	m.mu.RLock()
	summaries := make([]types.ConversationSummary, 0, len(m.records))
	for _, rec := range m.records {
		summaries = append(summaries, summarizeRecord(rec))
	}
	m.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// cloneRecord deep-copies through JSON so callers can never alias stored
// state.
func cloneRecord(rec types.ConversationRecord) (types.ConversationRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return types.ConversationRecord{}, fmt.Errorf("clone conversation record: %w", err)
	}
	var out types.ConversationRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return types.ConversationRecord{}, fmt.Errorf("clone conversation record: %w", err)
	}
	return out, nil
}
