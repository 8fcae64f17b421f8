package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory with TTL-based expiry and a
// background sweep. Suitable for development and single-instance setups.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Record
	nowFunc func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a MemoryStore that sweeps expired entries every
// sweepEvery. A non-positive interval selects one hour.
func NewMemoryStore(sweepEvery time.Duration) *MemoryStore {
	if sweepEvery <= 0 {
		sweepEvery = time.Hour
	}
	s := &MemoryStore{
		entries: make(map[string]*Record),
		nowFunc: time.Now,
		stop:    make(chan struct{}),
	}
	go s.cleanupLoop(sweepEvery)
	return s
}

func memoryKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

func (s *MemoryStore) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the background sweep.
func (s *MemoryStore) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	for k, rec := range s.entries {
		if now.After(rec.ExpiresAt) {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, tenantID, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entries[memoryKey(tenantID, key)]
	if !ok || s.nowFunc().After(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey(rec.TenantID, rec.Key)
	if existing, ok := s.entries[k]; ok && !s.nowFunc().After(existing.ExpiresAt) {
		return ErrKeyExists
	}
	s.entries[k] = copyRecord(rec)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func copyRecord(rec *Record) *Record {
	cp := *rec
	cp.Response = make([]byte, len(rec.Response))
	copy(cp.Response, rec.Response)
	return &cp
}
