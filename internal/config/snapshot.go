package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
)

// Compile turns a validated RawConfig into an immutable domain.Snapshot:
// each upstream's auth source is classified here (the token itself is
// read by ResolveAuth on every attempt), model globs and mappings are
// carried through verbatim (the balancer matches them per request
// with modelrouter.Matches), and
// retry policy's string ranges/classes become typed values.
func Compile(raw *RawConfig, version int64) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{
		Services: make(map[string]*domain.ServiceSnapshot, len(raw.Services)),
		Version:  version,
	}

	policy, err := compileRetryPolicy(raw.Retry)
	if err != nil {
		return nil, err
	}
	snap.Retry = policy

	for service, sc := range raw.Services {
		ss := &domain.ServiceSnapshot{Service: service}
		for _, cc := range sc.Configs {
			level := cc.Level
			if level == 0 {
				level = 1
			}
			cfg := &domain.Config{
				Name:    cc.Name,
				Alias:   cc.Alias,
				Service: service,
				Level:   level,
				Enabled: cc.Enabled == nil || *cc.Enabled,
				Active:  cc.Active,
			}
			if cfg.Active {
				ss.ActiveConfig = cfg.Name
			}
			for i, uc := range cc.Upstreams {
				u := &domain.Upstream{
					ConfigName:         cfg.Name,
					Index:              i,
					BaseURL:            uc.BaseURL,
					AuthToken:          uc.AuthToken,
					AuthTokenEnv:       uc.AuthTokenEnv,
					Tags:               uc.Tags,
					SupportedModels:    uc.SupportedModels,
					RequiresOpenAIAuth: uc.RequiresOpenAIAuth,
				}
				switch {
				case uc.AuthToken != "":
					u.AuthKind = domain.AuthInline
				case uc.AuthTokenEnv != "":
					u.AuthKind = domain.AuthEnvVar
				default:
					u.AuthKind = domain.AuthNone
				}
				for _, m := range uc.ModelMapping {
					u.ModelMapping = append(u.ModelMapping, domain.ModelMapping{
						Source:      m.Glob,
						Replacement: m.Replacement,
					})
				}
				cfg.Upstreams = append(cfg.Upstreams, u)
			}
			ss.Configs = append(ss.Configs, cfg)
		}
		snap.Services[service] = ss
	}

	return snap, nil
}

// ResolveAuth returns the bearer token to send to an upstream: inline
// auth_token first, then auth_token_env. The second return value is
// the resolution site recorded under http_debug.auth_resolution (never
// the secret itself).
func ResolveAuth(u *domain.Upstream) (token string, site string) {
	if u.AuthToken != "" {
		return u.AuthToken, "inline"
	}
	if u.AuthTokenEnv != "" {
		return os.Getenv(u.AuthTokenEnv), "env:" + u.AuthTokenEnv
	}
	return "", ""
}

func compileRetryPolicy(rc RetryConfig) (domain.RetryPolicy, error) {
	p := domain.RetryPolicy{
		MaxAttempts:                 rc.MaxAttempts,
		BackoffMs:                   rc.BackoffMs,
		BackoffMaxMs:                rc.BackoffMaxMs,
		JitterMs:                    rc.JitterMs,
		FailureThreshold:            uint32(rc.FailureThreshold),
		CloudflareChallengeCooldown: secs(rc.CloudflareChallengeCooldownSecs),
		CloudflareTimeoutCooldown:   secs(rc.CloudflareTimeoutCooldownSecs),
		TransportCooldown:           secs(rc.TransportCooldownSecs),
	}

	for _, s := range rc.OnStatus {
		r, err := parseStatusRange(s)
		if err != nil {
			return p, err
		}
		p.OnStatus = append(p.OnStatus, r)
	}
	for _, c := range rc.OnClass {
		p.OnClass = append(p.OnClass, domain.Classification(c))
	}
	return p, nil
}

func parseStatusRange(s string) (domain.StatusRange, error) {
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		low, err1 := strconv.Atoi(lo)
		high, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil {
			return domain.StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
		return domain.StatusRange{Low: low, High: high}, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return domain.StatusRange{}, fmt.Errorf("invalid status code %q", s)
	}
	return domain.StatusRange{Low: code, High: code}, nil
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
