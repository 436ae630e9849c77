package tokenstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps the token record in process memory. Used in tests and
// for development runs where persistence across restarts does not matter.
type MemoryStore struct {
	mu     sync.RWMutex
	record *TokenRecord
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Get(ctx context.Context) (*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return nil, nil
	}
	copied := *s.record
	return &copied, nil
}

func (s *MemoryStore) Replace(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := *rec
	stored.ID = s.nextID
	s.nextID++
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.record = &stored

	copied := stored
	return &copied, nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil || s.record.ID != rec.ID {
		return fmt.Errorf("token record %d not found", rec.ID)
	}

	updated := *rec
	updated.CreatedAt = s.record.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	s.record = &updated
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
