package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same single-use semantics as
// the redis implementation. Used in tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord // hashed id -> record
	byUser  map[string]string       // user id -> hashed id
	now     func() time.Time
}

type memoryRecord struct {
	rec       Record
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		byUser:  make(map[string]string),
		now:     time.Now,
	}
}

// SetClock replaces the store's time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Create(_ context.Context, id string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashed := hashID(id)
	s.records[hashed] = memoryRecord{rec: rec, expiresAt: s.now().Add(ttl)}
	s.byUser[rec.UserID] = hashed
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashed := hashID(id)
	mr, ok := s.records[hashed]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.records, hashed)
	if s.byUser[mr.rec.UserID] == hashed {
		delete(s.byUser, mr.rec.UserID)
	}

	// Expired entries are indistinguishable from absent ones.
	if !s.now().Before(mr.expiresAt) {
		return nil, ErrNotFound
	}

	rec := mr.rec
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashed := hashID(id)
	if mr, ok := s.records[hashed]; ok {
		delete(s.records, hashed)
		if s.byUser[mr.rec.UserID] == hashed {
			delete(s.byUser, mr.rec.UserID)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hashed, ok := s.byUser[userID]; ok {
		delete(s.records, hashed)
		delete(s.byUser, userID)
	}
	return nil
}
