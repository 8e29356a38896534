// Package balancer selects an upstream for a request: level-ordered
// candidate listing, model and avoid-set filtering, then a fallback
// ladder that progressively relaxes usage-exhaustion and cooldown.
package balancer

import (
	"time"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/core/ports"
)

// Matcher reports whether a model name matches a supported_models
// pattern. Injected so the balancer never imports the modelrouter
// package directly.
type Matcher func(model, pattern string) bool

// Mapper computes an upstream's model_mapping applied to a request
// model, so eligibility is checked against the model the upstream will
// actually receive rather than the raw client model.
type Mapper func(model string, mapping []domain.ModelMapping) string

// Selector is the ports.LoadBalancer implementation.
type Selector struct {
	store   ports.UpstreamStateStore
	matches Matcher
	mapper  Mapper
	now     func() time.Time
}

func New(store ports.UpstreamStateStore, matches Matcher) *Selector {
	return &Selector{store: store, matches: matches, now: time.Now}
}

// WithMapper attaches a Mapper used to compute each candidate's
// effective model before the supported_models check, so a mapping
// target can admit an upstream the raw model name would not. Returns
// the same *Selector for chaining at construction.
func (s *Selector) WithMapper(m Mapper) *Selector {
	s.mapper = m
	return s
}

var _ ports.LoadBalancer = (*Selector)(nil)

func inAvoidSet(id domain.UpstreamID, avoid []domain.UpstreamID) bool {
	for _, a := range avoid {
		if a == id {
			return true
		}
	}
	return false
}

// Select walks the candidate list in order and returns the first
// upstream the current state admits, relaxing eligibility in stages
// when nothing qualifies.
func (s *Selector) Select(snapshot *domain.Snapshot, service string, avoid []domain.UpstreamID, model string) (*domain.Upstream, bool) {
	svc := snapshot.Service(service)
	if svc == nil {
		return nil, false
	}

	candidates := svc.Candidates()

	// model filter, then avoid-set; a request with no model field is
	// admitted by every upstream
	filtered := make([]*domain.Upstream, 0, len(candidates))
	for _, u := range candidates {
		if model != "" {
			effective := model
			if s.mapper != nil {
				effective = s.mapper(model, u.ModelMapping)
			}
			if !u.MatchesModel(effective, s.matches) {
				continue
			}
		}
		if inAvoidSet(u.ID(), avoid) {
			continue
		}
		filtered = append(filtered, u)
	}

	now := s.now()

	// normal eligibility: past cooldown and not exhausted
	for _, u := range filtered {
		snap := s.store.Snapshot(u.ID())
		if !snap.IsInCooldown(now) && !snap.UsageExhausted {
			return u, true
		}
	}

	// fallback: ignore usage_exhausted, still respect cooldown
	for _, u := range filtered {
		snap := s.store.Snapshot(u.ID())
		if !snap.IsInCooldown(now) {
			return u, true
		}
	}

	// last resort: ignore cooldown too
	if len(filtered) > 0 {
		return filtered[0], true
	}

	return nil, false
}
