package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// IdempotencyKey derives a deterministic key for one (capability,
// entity, payload) triple. Payload maps marshal with sorted keys, so
// equal payloads always hash identically.
func IdempotencyKey(capability, entityID string, data map[string]any) string {
	h := sha256.New()
	h.Write([]byte(capability))
	h.Write([]byte{0})
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	if len(data) > 0 {
		if b, err := json.Marshal(data); err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyStore is a TTL-bounded dedup guard. Lookups are O(1).
// Scoped to one engine instance; not safe to share across engines
// without external locking beyond what the internal mutex provides.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]time.Time
	now     func() time.Time
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:     ttl,
		records: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen reports whether an unexpired record exists for the key.
func (s *IdempotencyStore) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.records[key]
	if !ok {
		return false
	}
	if s.now().Sub(at) > s.ttl {
		delete(s.records, key)
		return false
	}
	return true
}

// Record marks the key as executed. Written only after a call attempt.
func (s *IdempotencyStore) Record(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = s.now()
}

// Prune drops expired records. Called opportunistically by the engine.
func (s *IdempotencyStore) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, at := range s.records {
		if now.Sub(at) > s.ttl {
			delete(s.records, k)
		}
	}
}

// Len returns the number of records, expired or not.
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
