// Package state is the upstream state store: per-upstream failure
// counts, cooldown deadlines and usage_exhausted flags, kept in a
// lock-free concurrent map so readers and writers never block each
// other or hold a lock across a network suspension point.
package state

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/atomic"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/core/ports"
)

// row holds one upstream's mutable state as independent atomics so no
// lock is ever held across a suspension point.
type row struct {
	cooldownUntil       atomic.Int64 // unix nanos, 0 = no cooldown
	consecutiveFailures atomic.Uint32
	usageExhausted      atomic.Bool
	lastOutcome         atomic.String
}

// Store is the xsync.Map-backed ports.UpstreamStateStore implementation.
type Store struct {
	rows *xsync.Map[domain.UpstreamID, *row]
}

func New() *Store {
	return &Store{rows: xsync.NewMap[domain.UpstreamID, *row]()}
}

var _ ports.UpstreamStateStore = (*Store)(nil)

func (s *Store) rowFor(id domain.UpstreamID) *row {
	r, _ := s.rows.LoadOrStore(id, &row{})
	return r
}

func (s *Store) RecordSuccess(id domain.UpstreamID) {
	r := s.rowFor(id)
	r.consecutiveFailures.Store(0)
	r.cooldownUntil.Store(0)
	r.lastOutcome.Store(string(domain.ClassSuccess2xx))
}

func (s *Store) RecordFailure(id domain.UpstreamID, class domain.Classification, statusCode int, policy domain.RetryPolicy) {
	r := s.rowFor(id)
	r.lastOutcome.Store(string(class))
	failures := r.consecutiveFailures.Inc()

	threshold := policy.FailureThreshold
	if threshold == 0 {
		threshold = domain.DefaultRetryPolicy().FailureThreshold
	}

	// A retry-worthy failure is one the retry engine would retry:
	// matched by on_class, or an HTTP status matched by on_status.
	// Stream disconnects count as transport errors here.
	effective := class
	if class == domain.ClassStreamDisconnect {
		effective = domain.ClassUpstreamTransportError
	}
	retryWorthy := policy.MatchesClass(effective) ||
		(class == domain.ClassHTTPStatus && policy.MatchesStatus(statusCode))

	if failures >= threshold || retryWorthy {
		penalty := policy.CooldownFor(class)
		if penalty <= 0 {
			penalty = domain.DefaultRetryPolicy().CooldownFor(class)
		}
		r.cooldownUntil.Store(time.Now().Add(penalty).UnixNano())
	}
}

func (s *Store) SetUsageExhausted(id domain.UpstreamID, exhausted bool) {
	s.rowFor(id).usageExhausted.Store(exhausted)
}

func (s *Store) Snapshot(id domain.UpstreamID) domain.UpstreamSnapshot {
	r, ok := s.rows.Load(id)
	if !ok {
		return domain.UpstreamSnapshot{}
	}
	var cooldown time.Time
	if ns := r.cooldownUntil.Load(); ns != 0 {
		cooldown = time.Unix(0, ns)
	}
	return domain.UpstreamSnapshot{
		ConsecutiveFailures: r.consecutiveFailures.Load(),
		CooldownUntil:       cooldown,
		UsageExhausted:      r.usageExhausted.Load(),
		LastOutcome:         domain.Classification(r.lastOutcome.Load()),
	}
}

// CleanupConfig drops all rows belonging to a config that disappeared
// on hot reload, so the map doesn't grow unbounded across restarts of
// a dynamically-edited config file.
func (s *Store) CleanupConfig(configName string) {
	s.rows.Range(func(id domain.UpstreamID, _ *row) bool {
		if id.ConfigName == configName {
			s.rows.Delete(id)
		}
		return true
	})
}
