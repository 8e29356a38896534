package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStatusRange_Contains(t *testing.T) {
	r := StatusRange{Low: 500, High: 599}
	if !r.Contains(500) || !r.Contains(599) || !r.Contains(550) {
		t.Fatal("expected the inclusive bounds and midpoint to match")
	}
	if r.Contains(499) || r.Contains(600) {
		t.Fatal("expected values outside the range to not match")
	}
}

func TestRetryPolicy_MatchesStatusAndClass(t *testing.T) {
	p := DefaultRetryPolicy()

	if !p.MatchesStatus(502) {
		t.Fatal("expected 502 to match the default on_status range")
	}
	if p.MatchesStatus(404) {
		t.Fatal("expected 404 to not match the default on_status range")
	}
	if !p.MatchesClass(ClassUpstreamTransportError) {
		t.Fatal("expected upstream_transport_error to match the default on_class list")
	}
	if p.MatchesClass(ClassStreamDisconnect) {
		t.Fatal("expected stream_disconnect to not match the default on_class list")
	}
}

func TestRetryPolicy_CooldownFor(t *testing.T) {
	p := DefaultRetryPolicy()

	if got := p.CooldownFor(ClassCloudflareChallenge); got != 300*time.Second {
		t.Fatalf("expected 300s cloudflare_challenge cooldown, got %v", got)
	}
	if got := p.CooldownFor(ClassCloudflareTimeout); got != 60*time.Second {
		t.Fatalf("expected 60s cloudflare_timeout cooldown, got %v", got)
	}
	if got := p.CooldownFor(ClassUpstreamTransportError); got != 30*time.Second {
		t.Fatalf("expected 30s transport cooldown, got %v", got)
	}
}

func TestClassification_IsFailure(t *testing.T) {
	if ClassSuccess2xx.IsFailure() {
		t.Fatal("expected success_2xx to not be a failure")
	}
	if !ClassHTTPStatus.IsFailure() {
		t.Fatal("expected http_status to be a failure")
	}
}

func TestUpstreamSnapshot_IsInCooldown(t *testing.T) {
	now := time.Now()
	inCooldown := UpstreamSnapshot{CooldownUntil: now.Add(time.Minute)}
	if !inCooldown.IsInCooldown(now) {
		t.Fatal("expected a future CooldownUntil to report in-cooldown")
	}

	expired := UpstreamSnapshot{CooldownUntil: now.Add(-time.Minute)}
	if expired.IsInCooldown(now) {
		t.Fatal("expected a past CooldownUntil to report not in-cooldown")
	}

	zero := UpstreamSnapshot{}
	if zero.IsInCooldown(now) {
		t.Fatal("expected a zero-value CooldownUntil to report not in-cooldown")
	}
}

func TestUpstreamSnapshot_Status(t *testing.T) {
	now := time.Now()

	if got := (UpstreamSnapshot{}).Status(now, false); got != UpstreamDisabled {
		t.Fatalf("expected disabled when enabled=false, got %s", got)
	}
	if got := (UpstreamSnapshot{CooldownUntil: now.Add(time.Minute)}).Status(now, true); got != UpstreamCooldown {
		t.Fatalf("expected cooldown to take priority, got %s", got)
	}
	if got := (UpstreamSnapshot{UsageExhausted: true}).Status(now, true); got != UpstreamExhausted {
		t.Fatalf("expected exhausted, got %s", got)
	}
	if got := (UpstreamSnapshot{}).Status(now, true); got != UpstreamEligible {
		t.Fatalf("expected eligible, got %s", got)
	}
}

func TestUpstream_MatchesModel(t *testing.T) {
	exact := func(s, pattern string) bool { return s == pattern }

	unrestricted := &Upstream{}
	if !unrestricted.MatchesModel("anything", exact) {
		t.Fatal("expected an empty supported_models list to admit any model")
	}

	restricted := &Upstream{SupportedModels: []string{"gpt-4"}}
	if !restricted.MatchesModel("gpt-4", exact) {
		t.Fatal("expected a listed model to match")
	}
	if restricted.MatchesModel("gpt-5", exact) {
		t.Fatal("expected an unlisted model to not match")
	}
}

func TestUpstream_IDAndProviderID(t *testing.T) {
	u := &Upstream{ConfigName: "a", Index: 2, Tags: map[string]string{"provider_id": "p1"}}
	if got := u.ID(); got != (UpstreamID{ConfigName: "a", Index: 2}) {
		t.Fatalf("unexpected ID: %+v", got)
	}
	if got := u.ProviderID(); got != "p1" {
		t.Fatalf("expected provider_id=p1, got %q", got)
	}

	noTags := &Upstream{}
	if got := noTags.ProviderID(); got != "" {
		t.Fatalf("expected empty provider_id when no tags set, got %q", got)
	}
}

func TestUpstreamID_String(t *testing.T) {
	id := UpstreamID{ConfigName: "a", Index: 3}
	if got := id.String(); got != "a#3" {
		t.Fatalf("expected a#3, got %q", got)
	}
}

func TestReasoningEffort_Valid(t *testing.T) {
	for _, v := range []ReasoningEffort{ReasoningLow, ReasoningMedium, ReasoningHigh, ReasoningXHigh} {
		if !v.Valid() {
			t.Errorf("expected %q to be valid", v)
		}
	}
	if ReasoningEffort("extreme").Valid() {
		t.Fatal("expected an unrecognised value to be invalid")
	}
}

func TestRetryInfo_AddAttemptAndAddSentinel(t *testing.T) {
	r := &RetryInfo{}
	u := &Upstream{ConfigName: "a", BaseURL: "http://a"}

	r.AddAttempt(u, ClassUpstreamTransportError, 0)
	r.AddSentinel(SentinelAllUpstreamsAvoided)

	if r.Attempts != 1 {
		t.Fatalf("expected AddSentinel to not increment Attempts, got %d", r.Attempts)
	}
	if len(r.UpstreamChain) != 2 {
		t.Fatalf("expected both entries recorded, got %d", len(r.UpstreamChain))
	}
	if r.UpstreamChain[1].Sentinel != SentinelAllUpstreamsAvoided {
		t.Fatalf("expected the sentinel entry preserved, got %+v", r.UpstreamChain[1])
	}
}

func TestServiceSnapshot_Candidates_ActiveConfigFirst(t *testing.T) {
	active := &Config{Name: "a", Enabled: true, Level: 0, Upstreams: []*Upstream{{ConfigName: "a", Index: 0}}}
	fallback := &Config{Name: "b", Enabled: true, Level: 1, Upstreams: []*Upstream{{ConfigName: "b", Index: 0}}}

	s := &ServiceSnapshot{Service: "codex", ActiveConfig: "a", Configs: []*Config{fallback, active}}

	got := s.Candidates()
	if len(got) != 2 {
		t.Fatalf("expected both configs' upstreams, got %d", len(got))
	}
	if got[0].ConfigName != "a" || got[1].ConfigName != "b" {
		t.Fatalf("expected active config first and fallback second by ascending level, got %s then %s", got[0].ConfigName, got[1].ConfigName)
	}
}

func TestServiceSnapshot_Candidates_DisabledNonActiveConfigSkipped(t *testing.T) {
	active := &Config{Name: "a", Enabled: true, Level: 0, Upstreams: []*Upstream{{ConfigName: "a", Index: 0}}}
	disabled := &Config{Name: "b", Enabled: false, Level: 1, Upstreams: []*Upstream{{ConfigName: "b", Index: 0}}}

	s := &ServiceSnapshot{Service: "codex", ActiveConfig: "a", Configs: []*Config{active, disabled}}

	got := s.Candidates()
	if len(got) != 1 || got[0].ConfigName != "a" {
		t.Fatalf("expected the disabled non-active config excluded, got %+v", got)
	}
}

func TestServiceSnapshot_Candidates_SingleLevelNoFallback(t *testing.T) {
	active := &Config{Name: "a", Enabled: true, Level: 0, Upstreams: []*Upstream{{ConfigName: "a", Index: 0}}}
	other := &Config{Name: "b", Enabled: true, Level: 0, Upstreams: []*Upstream{{ConfigName: "b", Index: 0}}}

	s := &ServiceSnapshot{Service: "codex", ActiveConfig: "a", Configs: []*Config{active, other}}

	got := s.Candidates()
	if len(got) != 1 || got[0].ConfigName != "a" {
		t.Fatalf("expected only the active config when all enabled configs share one level, got %+v", got)
	}
}

func TestServiceSnapshot_Candidates_NilSnapshotReturnsNil(t *testing.T) {
	var s *ServiceSnapshot
	if got := s.Candidates(); got != nil {
		t.Fatalf("expected nil for a nil snapshot, got %+v", got)
	}
}

func TestSnapshot_Service(t *testing.T) {
	s := &Snapshot{Services: map[string]*ServiceSnapshot{"codex": {Service: "codex"}}}
	if got := s.Service("codex"); got == nil || got.Service != "codex" {
		t.Fatalf("expected the codex service snapshot, got %+v", got)
	}
	if got := s.Service("missing"); got != nil {
		t.Fatalf("expected nil for an unknown service, got %+v", got)
	}

	var nilSnap *Snapshot
	if got := nilSnap.Service("codex"); got != nil {
		t.Fatal("expected nil Service lookup on a nil Snapshot")
	}
}

func TestErrors_MessagesAndUnwrap(t *testing.T) {
	inner := errors.New("boom")

	ue := NewUpstreamError("req1", "http://a", "cfg", inner)
	if !errors.Is(ue, inner) {
		t.Fatal("expected UpstreamError to unwrap to the inner error")
	}
	if ue.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}

	ne := &NoEligibleUpstreamError{Service: "codex"}
	if ne.Error() != `no eligible upstream for service "codex"` {
		t.Fatalf("unexpected message: %q", ne.Error())
	}

	ce := NewConfigValidationError("port", 0, "must be positive")
	if ce.Error() == "" {
		t.Fatal("expected a non-empty config validation message")
	}

	cle := NewClientError(400, "bad request", inner)
	if !errors.Is(cle, inner) {
		t.Fatal("expected ClientError to unwrap to the inner error")
	}
}
