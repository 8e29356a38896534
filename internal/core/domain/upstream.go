package domain

import (
	"fmt"
)

// AuthKind identifies how an upstream's bearer token is resolved.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthInline AuthKind = "inline"
	AuthEnvVar AuthKind = "env"
)

// ModelMapping is one (source glob, replacement) rewrite entry. The
// first entry whose Source matches the request's model wins.
type ModelMapping struct {
	Source      string
	Replacement string
}

// Upstream is one concrete (base URL, auth) endpoint that can serve a
// proxied request. Identity is (ConfigName, Index) and is stable across
// hot reloads as long as that pair is preserved in the new config.
type Upstream struct {
	ConfigName         string
	BaseURL            string
	AuthToken          string
	AuthTokenEnv       string
	AuthKind           AuthKind
	Tags               map[string]string
	SupportedModels    []string
	ModelMapping       []ModelMapping
	Index              int
	RequiresOpenAIAuth bool
}

// ID is the stable identity used as the key in the upstream state store.
func (u *Upstream) ID() UpstreamID {
	return UpstreamID{ConfigName: u.ConfigName, Index: u.Index}
}

// ProviderID returns the "provider_id" tag, if any, used on request
// records.
func (u *Upstream) ProviderID() string {
	return u.Tags["provider_id"]
}

// MatchesModel reports whether m is admitted by this upstream's
// supported_models allowlist. An absent list admits anything.
func (u *Upstream) MatchesModel(m string, matcher func(s, pattern string) bool) bool {
	if len(u.SupportedModels) == 0 {
		return true
	}
	for _, pattern := range u.SupportedModels {
		if matcher(m, pattern) {
			return true
		}
	}
	return false
}

// UpstreamID is the stable identity of an Upstream: (config_name, index).
type UpstreamID struct {
	ConfigName string
	Index      int
}

func (id UpstreamID) String() string {
	return fmt.Sprintf("%s#%d", id.ConfigName, id.Index)
}

// Config is a named group of ordered upstreams belonging to one logical
// service selection (e.g. "codex" or "claude").
type Config struct {
	Name      string
	Alias     string
	Service   string
	Level     int
	Enabled   bool
	Active    bool
	Upstreams []*Upstream
}
