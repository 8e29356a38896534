package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thushan/codex-helper-proxy/internal/adapter/balancer"
	"github.com/thushan/codex-helper-proxy/internal/adapter/control"
	"github.com/thushan/codex-helper-proxy/internal/adapter/modelrouter"
	"github.com/thushan/codex-helper-proxy/internal/adapter/retry"
	"github.com/thushan/codex-helper-proxy/internal/adapter/state"
	"github.com/thushan/codex-helper-proxy/internal/config"
	"github.com/thushan/codex-helper-proxy/internal/logger"
)

// newTestPipeline wires a real balancer/retry/streaming stack (no test
// doubles for the components under test) against the given RawConfig,
// mirroring how app.New assembles a Pipeline for one service.
func newTestPipeline(t *testing.T, raw *config.RawConfig) (*Pipeline, *control.RecentRing) {
	t.Helper()

	store := config.NewStore()
	if err := store.Reload(raw); err != nil {
		t.Fatalf("reload config: %v", err)
	}

	stateStore := state.New()
	modelR := modelrouter.New()
	lb := balancer.New(stateStore, modelrouter.Matches).WithMapper(modelrouter.MapModel)
	retryEng := retry.New(lb, stateStore)

	active := control.NewActiveTracker()
	recent := control.NewRecentRing(50)
	overrides := control.NewOverrideStore()

	_, log, cleanup, err := logger.NewWithTheme(&logger.Config{Level: "error", FileOutput: false})
	if err != nil {
		t.Fatalf("building test logger: %v", err)
	}
	t.Cleanup(cleanup)

	p := New("codex", store, lb, modelR, retryEng, nil, active, recent, overrides, nil, log)
	return p, recent
}

func singleUpstreamConfig(t *testing.T, upstreamURL string) *config.RawConfig {
	t.Helper()
	raw := config.DefaultRawConfig()
	raw.Services = map[string]config.ServiceConfig{
		"codex": {
			Port: 3211,
			Configs: []config.ConfigConfig{
				{
					Name:   "a",
					Active: true,
					Upstreams: []config.UpstreamConfig{
						{BaseURL: upstreamURL, AuthToken: "sk-t"},
					},
				},
			},
		},
	}
	return raw
}

// TestPipeline_HappyPath proxies a single request to a healthy
// upstream and checks the status, auth header, record fields and usage
// extraction.
func TestPipeline_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-t" {
			t.Errorf("expected upstream auth header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"usage":{"total_tokens":50}}`))
	}))
	defer upstream.Close()

	p, recent := newTestPipeline(t, singleUpstreamConfig(t, upstream.URL+"/v1"))

	body := strings.NewReader(`{"model":"gpt-x","input":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", body)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	records := recent.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected exactly one request record, got %d", len(records))
	}
	rec0 := records[0]
	if rec0.StatusCode != 200 || rec0.ConfigName != "a" {
		t.Fatalf("unexpected record: %+v", rec0)
	}
	if rec0.Usage == nil || rec0.Usage.TotalTokens == nil || *rec0.Usage.TotalTokens != 50 {
		t.Fatalf("expected usage.total_tokens=50, got %+v", rec0.Usage)
	}
	if rec0.Retry != nil {
		t.Fatalf("expected no retry info on a single successful attempt, got %+v", rec0.Retry)
	}
}

// TestPipeline_RetryThenSuccess drives a 502 from the first upstream,
// expects failover to the second, and checks the retry attempt count
// and the final upstream.
func TestPipeline_RetryThenSuccess(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer healthy.Close()

	raw := config.DefaultRawConfig()
	raw.Services = map[string]config.ServiceConfig{
		"codex": {
			Port: 3211,
			Configs: []config.ConfigConfig{{
				Name:   "a",
				Active: true,
				Upstreams: []config.UpstreamConfig{
					{BaseURL: failing.URL},
					{BaseURL: healthy.URL},
				},
			}},
		},
	}

	p, recent := newTestPipeline(t, raw)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytes.NewReader([]byte(`{"input":"hi"}`)))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected client to see the second upstream's 200, got %d", rec.Code)
	}

	records := recent.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one request record, got %d", len(records))
	}
	if records[0].Retry == nil || records[0].Retry.Attempts != 2 {
		t.Fatalf("expected retry.attempts=2, got %+v", records[0].Retry)
	}
	if records[0].UpstreamBaseURL != healthy.URL {
		t.Fatalf("expected final record to reference the healthy upstream, got %s", records[0].UpstreamBaseURL)
	}
}

// An upstream whose supported_models only admits its own mapped model
// still serves a request whose raw model would otherwise be filtered
// out.
func TestPipeline_ModelMappingAdmitsOtherwiseFilteredUpstream(t *testing.T) {
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	raw := config.DefaultRawConfig()
	raw.Services = map[string]config.ServiceConfig{
		"codex": {
			Port: 3211,
			Configs: []config.ConfigConfig{{
				Name:   "a",
				Active: true,
				Upstreams: []config.UpstreamConfig{{
					BaseURL:         upstream.URL,
					SupportedModels: []string{"claude-*"},
					ModelMapping: []config.ModelMappingEntry{
						{Glob: "gpt-x", Replacement: "claude-3.5"},
					},
				}},
			}},
		},
	}

	p, recent := newTestPipeline(t, raw)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytes.NewReader([]byte(`{"model":"gpt-x"}`)))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected upstream to be selected via mapped-model eligibility, got %d", rec.Code)
	}
	if !strings.Contains(string(gotBody), `"claude-3.5"`) {
		t.Fatalf("expected forwarded body to carry the rewritten model, got %s", gotBody)
	}

	records := recent.Snapshot()
	if len(records) != 1 || records[0].StatusCode != 200 {
		t.Fatalf("expected single successful record, got %+v", records)
	}
}

// TestPipeline_NoEligibleUpstreamReturns503 covers the error path
// where no upstream is eligible even after fallback.
func TestPipeline_NoEligibleUpstreamReturns503(t *testing.T) {
	raw := config.DefaultRawConfig()
	raw.Services = map[string]config.ServiceConfig{
		"codex": {Port: 3211, Configs: []config.ConfigConfig{{Name: "a", Active: true}}},
	}

	p, recent := newTestPipeline(t, raw)

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the active config has no upstreams, got %d", rec.Code)
	}

	records := recent.Snapshot()
	if len(records) != 1 {
		t.Fatalf("expected exactly one request record even on a config error, got %d", len(records))
	}
}
