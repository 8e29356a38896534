// Package control holds the state behind the dashboard-facing
// endpoints under /__codex_helper/*: a concurrent map of in-flight
// requests, a fixed-capacity ring of finished ones, and per-session
// overrides.
package control

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
)

// ActiveTracker is the live view into in-flight requests, written by
// the proxy pipeline at the start and end of every request.
type ActiveTracker struct {
	requests *xsync.Map[string, *domain.ActiveRequest]
}

func NewActiveTracker() *ActiveTracker {
	return &ActiveTracker{requests: xsync.NewMap[string, *domain.ActiveRequest]()}
}

func (t *ActiveTracker) Start(req *domain.ActiveRequest) {
	t.requests.Store(req.RequestID, req)
}

func (t *ActiveTracker) Finish(requestID string) {
	t.requests.Delete(requestID)
}

// SetUpstream records which config/upstream the request is currently
// being attempted against. The entry is replaced with a copy so
// concurrent Snapshot readers never observe a half-written value.
func (t *ActiveTracker) SetUpstream(requestID, configName, baseURL string) {
	cur, ok := t.requests.Load(requestID)
	if !ok {
		return
	}
	cp := *cur
	cp.ConfigName = configName
	cp.UpstreamBaseURL = baseURL
	t.requests.Store(requestID, &cp)
}

// Snapshot returns a stable copy of all currently active requests.
func (t *ActiveTracker) Snapshot() []*domain.ActiveRequest {
	out := make([]*domain.ActiveRequest, 0, t.requests.Size())
	t.requests.Range(func(_ string, v *domain.ActiveRequest) bool {
		out = append(out, v)
		return true
	})
	return out
}

// RecentRing is a fixed-capacity, overwrite-oldest ring of finished
// request records, read by GET /__codex_helper/status/recent.
type RecentRing struct {
	mu       sync.Mutex
	data     []domain.RequestRecord
	capacity int
	next     int
	size     int
}

func NewRecentRing(capacity int) *RecentRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &RecentRing{
		data:     make([]domain.RequestRecord, capacity),
		capacity: capacity,
	}
}

// Add records a finished request, overwriting the oldest entry once
// the ring is full.
func (r *RecentRing) Add(rec domain.RequestRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[r.next] = rec
	r.next = (r.next + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Snapshot returns the buffered records ordered oldest-first.
func (r *RecentRing) Snapshot() []domain.RequestRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.RequestRecord, 0, r.size)
	start := (r.next - r.size + r.capacity) % r.capacity
	for i := 0; i < r.size; i++ {
		out = append(out, r.data[(start+i)%r.capacity])
	}
	return out
}
