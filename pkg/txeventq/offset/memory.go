package offset

import (
	"context"
	"sync"

	"github.com/edgeflare/txeventq/pkg/metrics"
)

// MemoryStore keeps offsets in process memory. Positions do not survive a
// restart; use it for tests and dry runs.
type MemoryStore struct {
	mu        sync.Mutex
	positions map[Key]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[Key]int64)}
}

func (s *MemoryStore) Ensure(context.Context) error { return nil }

func (s *MemoryStore) Get(_ context.Context, key Key) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[key]
	return pos, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.positions[key]; ok && cur >= position {
		metrics.StaleOffsetsIgnored.Inc()
		return nil
	}
	s.positions[key] = position
	return nil
}

func (s *MemoryStore) Close() error { return nil }
