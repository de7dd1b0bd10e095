package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Expired records are dropped on read
// and swept on every Save.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !m.now().Before(rec.ExpiresAt) {
		m.mu.Lock()
		delete(m.records, key)
		m.mu.Unlock()
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Save(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.records[record.Key]; ok && now.Before(existing.ExpiresAt) {
		return nil
	}
	// Keys that are never read again would otherwise stay forever.
	for key, rec := range m.records {
		if !now.Before(rec.ExpiresAt) {
			delete(m.records, key)
		}
	}
	cp := *record
	m.records[record.Key] = &cp
	return nil
}
