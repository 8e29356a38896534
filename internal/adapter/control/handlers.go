// HTTP surface for the dashboard-facing control endpoints under
// /__codex_helper/*: active requests, the recent-request ring and
// per-session overrides.
package control

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
)

const contentTypeJSON = "application/json"

// Handlers wires the three control endpoints to an ActiveTracker,
// RecentRing and OverrideStore. It has no dependency on the proxy
// pipeline: the pipeline writes into Active/Recent and reads Overrides;
// these handlers read Active/Recent and write Overrides.
type Handlers struct {
	Active    *ActiveTracker
	Recent    *RecentRing
	Overrides *OverrideStore

	// Dropped reports how many request records the log writer has shed
	// under backpressure; nil when no writer is wired.
	Dropped func() int64
}

func NewHandlers(active *ActiveTracker, recent *RecentRing, overrides *OverrideStore) *Handlers {
	return &Handlers{Active: active, Recent: recent, Overrides: overrides}
}

type activeResponse struct {
	Timestamp time.Time               `json:"timestamp"`
	Requests  []*domain.ActiveRequest `json:"requests"`
	Count     int                     `json:"count"`
}

// StatusActive handles GET /__codex_helper/status/active.
func (h *Handlers) StatusActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reqs := h.Active.Snapshot()
	writeJSON(w, http.StatusOK, activeResponse{
		Timestamp: time.Now(),
		Requests:  reqs,
		Count:     len(reqs),
	})
}

type recentResponse struct {
	Timestamp      time.Time              `json:"timestamp"`
	Requests       []domain.RequestRecord `json:"requests"`
	Count          int                    `json:"count"`
	DroppedRecords int64                  `json:"dropped_records"`
}

// StatusRecent handles GET /__codex_helper/status/recent.
func (h *Handlers) StatusRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	recs := h.Recent.Snapshot()
	resp := recentResponse{
		Timestamp: time.Now(),
		Requests:  recs,
		Count:     len(recs),
	}
	if h.Dropped != nil {
		resp.DroppedRecords = h.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}

// overrideRequest is POST /__codex_helper/override/session's body:
// either field may be a value, the literal "clear", or absent (left
// untouched).
type overrideRequest struct {
	SessionID       string  `json:"session_id"`
	ReasoningEffort *string `json:"reasoning_effort"`
	ConfigName      *string `json:"config"`
}

// OverrideSession handles both GET (list current overrides) and POST
// (apply a change) for /__codex_helper/override/session.
func (h *Handlers) OverrideSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Overrides.Snapshot())
	case http.MethodPost:
		h.applyOverride(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) applyOverride(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body_read_failed"})
		return
	}
	var req overrideRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id_required"})
		return
	}
	if req.ReasoningEffort != nil && *req.ReasoningEffort != "clear" && !domain.ReasoningEffort(*req.ReasoningEffort).Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_reasoning_effort"})
		return
	}

	result := h.Overrides.Apply(req.SessionID, req.ReasoningEffort, req.ConfigName)
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
