package control

import (
	"sync"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
)

// clearSentinel is the magic string a POST body uses to reset a single
// override field back to the snapshot's own default.
const clearSentinel = "clear"

// OverrideStore holds per-session routing overrides set via
// POST /__codex_helper/override/session. Overrides apply from the next
// request of that session; they never interrupt an in-flight stream
// and are never persisted across restarts.
type OverrideStore struct {
	mu        sync.RWMutex
	overrides map[string]*domain.SessionOverride
}

func NewOverrideStore() *OverrideStore {
	return &OverrideStore{overrides: make(map[string]*domain.SessionOverride)}
}

// Get returns the stored override for a session, or nil if none is set.
func (s *OverrideStore) Get(sessionID string) *domain.SessionOverride {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[sessionID]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

// Snapshot returns all currently stored overrides.
func (s *OverrideStore) Snapshot() []*domain.SessionOverride {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.SessionOverride, 0, len(s.overrides))
	for _, o := range s.overrides {
		cp := *o
		out = append(out, &cp)
	}
	return out
}

// Apply merges a requested change into the session's override, honoring
// the "clear" sentinel independently per field, and returns the
// resulting override. A session left with no fields set is removed
// entirely rather than kept around as an empty entry.
func (s *OverrideStore) Apply(sessionID string, reasoningEffort, cfgName *string) *domain.SessionOverride {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overrides[sessionID]
	if !ok {
		o = &domain.SessionOverride{SessionID: sessionID}
	}

	if reasoningEffort != nil {
		if *reasoningEffort == clearSentinel {
			o.ReasoningEffort = nil
		} else {
			v := *reasoningEffort
			o.ReasoningEffort = &v
		}
	}
	if cfgName != nil {
		if *cfgName == clearSentinel {
			o.ConfigName = nil
		} else {
			v := *cfgName
			o.ConfigName = &v
		}
	}

	if o.ReasoningEffort == nil && o.ConfigName == nil {
		delete(s.overrides, sessionID)
		cp := domain.SessionOverride{SessionID: sessionID}
		return &cp
	}

	s.overrides[sessionID] = o
	cp := *o
	return &cp
}
