// Package usage runs one background task per configured usage
// provider, polling its budget endpoint and feeding usage_exhausted
// back into the upstream state store. Each poller is a
// ports.ManagedService so the service manager owns its lifecycle.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thushan/codex-helper-proxy/internal/config"
	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/core/ports"
	"github.com/thushan/codex-helper-proxy/internal/logger"
	"github.com/thushan/codex-helper-proxy/internal/version"
)

const (
	requestTimeout = 10 * time.Second
	// jitterFraction caps the jitter added to the wait before a
	// provider's first poll at 10% of the configured interval, so
	// providers with the same poll_interval_secs don't all hit their
	// endpoints in lockstep; later polls follow a fixed ticker.
	jitterFraction = 0.10
)

// Poller is one provider's periodic poll task.
type Poller struct {
	cfg    config.UsageProviderConfig
	store  *config.Store
	state  ports.UpstreamStateStore
	client *http.Client
	log    *logger.StyledLogger
	limiter *rate.Limiter

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New builds a Poller for one provider config. store supplies the
// live config.Store so each poll resolves auth and domain membership
// against the snapshot current at poll time, not the one current at
// startup.
func New(cfg config.UsageProviderConfig, store *config.Store, state ports.UpstreamStateStore, log *logger.StyledLogger) *Poller {
	interval := time.Duration(cfg.PollIntervalSecs) * time.Second
	return &Poller{
		cfg:   cfg,
		store: store,
		state: state,
		client: &http.Client{
			Timeout: requestTimeout,
		},
		log: log,
		// one poll per interval, burst of 1: a provider never polls
		// faster than its configured cadence even if Start/Stop races.
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

var _ ports.UsagePoller = (*Poller)(nil)

func (p *Poller) Name() string { return "usage-poller:" + p.cfg.ID }

func (p *Poller) Dependencies() []string { return nil }

func (p *Poller) Start(ctx context.Context) error {
	go p.run(ctx)
	return nil
}

func (p *Poller) Stop(ctx context.Context) error {
	p.once.Do(func() { close(p.stopCh) })
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)

	interval := time.Duration(p.cfg.PollIntervalSecs) * time.Second

	select {
	case <-time.After(jitter(interval)):
	case <-ctx.Done():
		return
	case <-p.stopCh:
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// jitter returns d plus up to 10% extra, so same-cadence providers
// spread their first poll across the interval instead of bursting.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	extra := time.Duration(rand.Int63n(int64(float64(d) * jitterFraction)))
	return d + extra
}

func (p *Poller) poll(ctx context.Context) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	snap := p.store.Current()
	matched := matchingUpstreams(snap, p.cfg.Domains)

	token := p.resolveToken(matched)
	if token == "" {
		p.log.Warn("usage provider has no resolvable token, skipping poll", "provider", p.cfg.ID)
		return
	}

	exhausted, err := p.fetch(ctx, token)
	if err != nil {
		// Polling errors are logged but never change flags: stale state
		// is preferred to falsely marking upstreams exhausted.
		p.log.Warn("usage provider poll failed", "provider", p.cfg.ID, "error", err)
		return
	}

	healthy, unhealthy, unknown := 0, 0, 0
	for _, u := range matched {
		p.state.SetUsageExhausted(u.ID(), exhausted)
		status := p.state.Snapshot(u.ID()).Status(time.Now(), true)
		p.log.InfoHealthStatus("usage poll updated", u.BaseURL, status, "provider", p.cfg.ID)
		switch status {
		case domain.UpstreamEligible:
			healthy++
		case domain.UpstreamCooldown, domain.UpstreamExhausted:
			unhealthy++
		default:
			unknown++
		}
	}
	p.log.InfoWithHealthStats("usage provider polled", healthy, unhealthy, unknown, "provider", p.cfg.ID, "exhausted", exhausted)
}

type budgetResponse struct {
	MonthlyBudgetUSD float64 `json:"monthly_budget_usd"`
	MonthlySpentUSD  float64 `json:"monthly_spent_usd"`
}

func (p *Poller) fetch(ctx context.Context, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint, http.NoBody)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s-UsagePoller/%s", version.Name, version.Version))

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("usage endpoint %s returned %d", p.cfg.Endpoint, resp.StatusCode)
	}

	var body budgetResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decoding usage response: %w", err)
	}

	exhausted := body.MonthlyBudgetUSD > 0 && body.MonthlySpentUSD >= body.MonthlyBudgetUSD
	return exhausted, nil
}

// resolveToken prefers the provider's own token_env, else falls back
// to the first matching upstream's own auth.
func (p *Poller) resolveToken(matched []*domain.Upstream) string {
	if p.cfg.TokenEnv != "" {
		if v := os.Getenv(p.cfg.TokenEnv); v != "" {
			return v
		}
	}
	for _, u := range matched {
		if token, _ := config.ResolveAuth(u); token != "" {
			return token
		}
	}
	return ""
}

// matchingUpstreams walks every service/config in the snapshot and
// returns upstreams whose base_url host matches one of domains.
func matchingUpstreams(snap *domain.Snapshot, domains []string) []*domain.Upstream {
	if snap == nil {
		return nil
	}
	var out []*domain.Upstream
	for _, ss := range snap.Services {
		for _, cfg := range ss.Configs {
			for _, u := range cfg.Upstreams {
				if hostMatches(u.BaseURL, domains) {
					out = append(out, u)
				}
			}
		}
	}
	return out
}

func hostMatches(baseURL string, domains []string) bool {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
