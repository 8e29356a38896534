package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
)

func newTestHandlers() *Handlers {
	return NewHandlers(NewActiveTracker(), NewRecentRing(10), NewOverrideStore())
}

func TestStatusActive_ReturnsSnapshot(t *testing.T) {
	h := newTestHandlers()
	h.Active.Start(&domain.ActiveRequest{RequestID: "r1", Service: "codex"})

	req := httptest.NewRequest(http.MethodGet, "/__codex_helper/status/active", nil)
	rec := httptest.NewRecorder()
	h.StatusActive(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body activeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body.Count != 1 || len(body.Requests) != 1 {
		t.Fatalf("expected 1 active request, got %+v", body)
	}
}

func TestStatusActive_RejectsNonGet(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodPost, "/__codex_helper/status/active", nil)
	rec := httptest.NewRecorder()
	h.StatusActive(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStatusRecent_ReturnsBufferedRecords(t *testing.T) {
	h := newTestHandlers()
	h.Recent.Add(domain.RequestRecord{RequestID: "r1", StatusCode: 200})

	req := httptest.NewRequest(http.MethodGet, "/__codex_helper/status/recent", nil)
	rec := httptest.NewRecorder()
	h.StatusRecent(rec, req)

	var body recentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body.Count != 1 || body.Requests[0].StatusCode != 200 {
		t.Fatalf("expected one 200 record, got %+v", body)
	}
}

func TestOverrideSession_GetReturnsSnapshot(t *testing.T) {
	h := newTestHandlers()
	h.Overrides.Apply("sess-1", strp("high"), nil)

	req := httptest.NewRequest(http.MethodGet, "/__codex_helper/override/session", nil)
	rec := httptest.NewRecorder()
	h.OverrideSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOverrideSession_PostAppliesOverride(t *testing.T) {
	h := newTestHandlers()

	body, _ := json.Marshal(map[string]string{"session_id": "sess-1", "reasoning_effort": "xhigh"})
	req := httptest.NewRequest(http.MethodPost, "/__codex_helper/override/session", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.OverrideSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got := h.Overrides.Get("sess-1")
	if got == nil || got.ReasoningEffort == nil || *got.ReasoningEffort != "xhigh" {
		t.Fatalf("expected stored override with reasoning_effort=xhigh, got %+v", got)
	}
}

func TestOverrideSession_PostRejectsMissingSessionID(t *testing.T) {
	h := newTestHandlers()

	body, _ := json.Marshal(map[string]string{"reasoning_effort": "high"})
	req := httptest.NewRequest(http.MethodPost, "/__codex_helper/override/session", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.OverrideSession(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOverrideSession_PostRejectsInvalidReasoningEffort(t *testing.T) {
	h := newTestHandlers()

	body, _ := json.Marshal(map[string]string{"session_id": "sess-1", "reasoning_effort": "extreme"})
	req := httptest.NewRequest(http.MethodPost, "/__codex_helper/override/session", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.OverrideSession(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid reasoning effort, got %d", rec.Code)
	}
}
