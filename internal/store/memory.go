package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps assessment records in process memory. It is the default
// backend for local development and the backend every other implementation
// is tested against.
type MemoryStore struct {
	mu      sync.RWMutex
	byTask  map[string]*AssessmentRecord
	byUser  map[string][]string // user id -> task ids, insertion order
	maxSize int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byTask:  make(map[string]*AssessmentRecord),
		byUser:  make(map[string][]string),
		maxSize: 10000,
	}
}

// Save upserts a record by task id.
func (m *MemoryStore) Save(ctx context.Context, rec *AssessmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *rec
	if _, exists := m.byTask[rec.TaskID]; !exists {
		userID := rec.Identity.UserID
		m.byUser[userID] = append(m.byUser[userID], rec.TaskID)
	}
	m.byTask[rec.TaskID] = &stored

	// Oldest-first eviction once the cap is reached
	if len(m.byTask) > m.maxSize {
		m.evictOldestLocked()
	}
	return nil
}

// GetByTaskID returns the record for a task id, or ErrTaskNotFound.
func (m *MemoryStore) GetByTaskID(ctx context.Context, taskID string) (*AssessmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byTask[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	copied := *rec
	return &copied, nil
}

// ListByUser returns up to limit records for a user, newest first.
func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*AssessmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	taskIDs := m.byUser[userID]
	records := make([]*AssessmentRecord, 0, len(taskIDs))
	for _, id := range taskIDs {
		if rec, ok := m.byTask[id]; ok {
			copied := *rec
			records = append(records, &copied)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Count returns the number of stored records.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTask)
}

// Close is a no-op for the in-memory backend.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) evictOldestLocked() {
	var oldestID string
	var oldest *AssessmentRecord
	for id, rec := range m.byTask {
		if oldest == nil || rec.CreatedAt.Before(oldest.CreatedAt) {
			oldestID = id
			oldest = rec
		}
	}
	if oldest == nil {
		return
	}

	delete(m.byTask, oldestID)
	userID := oldest.Identity.UserID
	ids := m.byUser[userID]
	for i, id := range ids {
		if id == oldestID {
			m.byUser[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byUser[userID]) == 0 {
		delete(m.byUser, userID)
	}
}
