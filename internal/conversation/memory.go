package conversation

import (
	"context"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
)

// MemoryStore keeps histories in a map. Contents are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]models.Turn
	order []string // conversation ids by creation
	max   int
}

// NewMemoryStore returns an empty store. When maxConversations is positive, creating
// a conversation beyond that number evicts the oldest-created one.
func NewMemoryStore(maxConversations int) *MemoryStore {
	return &MemoryStore{turns: make(map[string][]models.Turn), max: maxConversations}
}

// Read returns a copy of the history for id.
func (s *MemoryStore) Read(ctx context.Context, id string) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTurns(s.turns[id]), nil
}

// Append records one exchange for id.
func (s *MemoryStore) Append(ctx context.Context, id, userText, assistantText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, ok := s.turns[id]
	if !ok {
		s.order = append(s.order, id)
		s.evict()
	}
	s.turns[id] = appendExchange(turns, userText, assistantText)
	return nil
}

// Len returns the number of conversations held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// evict drops the oldest conversations until a slot is free for the newest id in order.
func (s *MemoryStore) evict() {
	if s.max <= 0 {
		return
	}
	for len(s.order) > s.max {
		delete(s.turns, s.order[0])
		s.order = s.order[1:]
	}
}
