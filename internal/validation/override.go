package validation

import (
	"sync"
	"time"
)

// Override scopes.
const (
	ScopeAll  = "all"
	ScopeArea = "area"
)

type override struct {
	scope     string
	areaID    string
	expiresAt time.Time
}

// OverrideStore tracks per-entity manual overrides. While an override
// is unexpired, the entity vetoes actions in its scope. Area scope is
// currently conservative: it vetoes like ScopeAll rather than checking
// true area membership.
type OverrideStore struct {
	mu        sync.Mutex
	overrides map[string]override
	now       func() time.Time
}

func NewOverrideStore() *OverrideStore {
	return &OverrideStore{
		overrides: make(map[string]override),
		now:       time.Now,
	}
}

// Set records a manual override for an entity with the given scope and TTL.
func (s *OverrideStore) Set(entityID, scope, areaID string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[entityID] = override{
		scope:     scope,
		areaID:    areaID,
		expiresAt: s.now().Add(ttl),
	}
}

// Clear removes an override before its TTL expires.
func (s *OverrideStore) Clear(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, entityID)
}

// Blocking returns the ids of unexpired overrides that veto the given
// entities. Expired entries are pruned on the way through.
func (s *OverrideStore) Blocking(entityIDs []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, o := range s.overrides {
		if now.After(o.expiresAt) {
			delete(s.overrides, id)
		}
	}
	if len(s.overrides) == 0 {
		return nil
	}

	var blocked []string
	for _, id := range entityIDs {
		if _, ok := s.overrides[id]; ok {
			blocked = append(blocked, id)
		}
	}
	return blocked
}

// Active reports whether any unexpired override exists.
func (s *OverrideStore) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, o := range s.overrides {
		if now.After(o.expiresAt) {
			delete(s.overrides, id)
			continue
		}
		return true
	}
	return false
}
