package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/thushan/codex-helper-proxy/internal/config"
	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/logger"
	"github.com/thushan/codex-helper-proxy/theme"
)

func testLogger() *logger.StyledLogger {
	sl, _, _ := logger.New(&logger.Config{Level: "error"})
	return logger.NewStyledLogger(sl, theme.GetTheme("default"))
}

func hostOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parsing %s: %v", rawURL, err)
	}
	return u.Hostname()
}

func storeWithUpstream(baseURL string) *config.Store {
	store := config.NewStore()
	_ = store.Reload(&config.RawConfig{
		Services: map[string]config.ServiceConfig{
			"codex": {
				Configs: []config.ConfigConfig{
					{
						Name:   "primary",
						Active: true,
						Upstreams: []config.UpstreamConfig{
							{BaseURL: baseURL, AuthToken: "inline-token"},
						},
					},
				},
			},
		},
	})
	return store
}

func TestPollerMarksExhaustedOverBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer inline-token" {
			t.Errorf("expected bearer token from upstream auth, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(budgetResponse{MonthlyBudgetUSD: 100, MonthlySpentUSD: 150})
	}))
	defer server.Close()

	host := hostOf(t, server.URL)
	store := storeWithUpstream(server.URL)

	cfg := config.UsageProviderConfig{
		ID:               "test-provider",
		Kind:             "budget_http_json",
		Domains:          []string{host},
		Endpoint:         server.URL,
		PollIntervalSecs: 60,
	}

	state := &fakeStateStore{}
	p := New(cfg, store, state, testLogger())

	p.poll(context.Background())

	if !state.exhausted {
		t.Fatal("expected upstream to be marked usage exhausted")
	}
}

func TestPollerLeavesStateOnFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	host := hostOf(t, server.URL)
	store := storeWithUpstream(server.URL)

	cfg := config.UsageProviderConfig{
		ID:               "test-provider",
		Domains:          []string{host},
		Endpoint:         server.URL,
		PollIntervalSecs: 60,
	}

	state := &fakeStateStore{called: false}
	p := New(cfg, store, state, testLogger())

	p.poll(context.Background())

	if state.called {
		t.Fatal("expected SetUsageExhausted not to be called on a poll error")
	}
}

func TestHostMatches(t *testing.T) {
	tests := []struct {
		baseURL  string
		domains  []string
		expected bool
	}{
		{"https://api.openai.com/v1", []string{"api.openai.com"}, true},
		{"https://sub.api.openai.com/v1", []string{"api.openai.com"}, true},
		{"https://example.com/v1", []string{"api.openai.com"}, false},
	}
	for _, tt := range tests {
		if got := hostMatches(tt.baseURL, tt.domains); got != tt.expected {
			t.Errorf("hostMatches(%q, %v) = %v, want %v", tt.baseURL, tt.domains, got, tt.expected)
		}
	}
}

func TestJitterNeverShrinksInterval(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 20; i++ {
		if got := jitter(d); got < d {
			t.Fatalf("jitter(%v) = %v, want >= %v", d, got, d)
		}
	}
}

type fakeStateStore struct {
	exhausted bool
	called    bool
}

func (f *fakeStateStore) RecordSuccess(domain.UpstreamID) {}
func (f *fakeStateStore) RecordFailure(domain.UpstreamID, domain.Classification, int, domain.RetryPolicy) {
}
func (f *fakeStateStore) SetUsageExhausted(id domain.UpstreamID, exhausted bool) {
	f.called = true
	f.exhausted = exhausted
}
func (f *fakeStateStore) Snapshot(domain.UpstreamID) domain.UpstreamSnapshot {
	return domain.UpstreamSnapshot{}
}
func (f *fakeStateStore) CleanupConfig(string) {}
