// Package modelrouter filters upstreams by supported_models and
// rewrites a request body's top-level "model" field via model_mapping.
// The rewrite is a targeted single-field replacement that preserves
// the surrounding body byte-for-byte.
package modelrouter

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sync"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/core/ports"
)

// Matches reports whether model m matches glob pattern. "*" matches any
// run of characters, "?" matches exactly one character. Matching is
// case-sensitive.
func Matches(m, pattern string) bool {
	return matchGlob(pattern, m)
}

func matchGlob(pattern, s string) bool {
	// classic two-pointer glob match with backtracking on '*'
	pi, si := 0, 0
	starIdx, match := -1, 0
	for si < len(s) {
		if pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]) {
			pi++
			si++
		} else if pi < len(pattern) && pattern[pi] == '*' {
			starIdx = pi
			match = si
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			match++
			si = match
		} else {
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// Router caches glob match results since supported_models/model_mapping
// patterns repeat across many requests for the same upstream.
type Router struct {
	cache sync.Map // cacheKey -> bool
}

func New() *Router { return &Router{} }

type cacheKey struct {
	model   string
	pattern string
}

// MatchesCached is Matches with a process-lifetime memoisation cache,
// used on the request hot path.
func (r *Router) MatchesCached(model, pattern string) bool {
	key := cacheKey{model: model, pattern: pattern}
	if v, ok := r.cache.Load(key); ok {
		return v.(bool)
	}
	result := matchGlob(pattern, model)
	r.cache.Store(key, result)
	return result
}

// Matches implements ports.ModelRouter.
func (r *Router) Matches(model string, supportedModels []string) bool {
	if len(supportedModels) == 0 {
		return true
	}
	for _, pattern := range supportedModels {
		if r.MatchesCached(model, pattern) {
			return true
		}
	}
	return false
}

// Rewrite implements ports.ModelRouter.
func (r *Router) Rewrite(body []byte, mapping []domain.ModelMapping) []byte {
	return Rewrite(body, mapping)
}

var _ ports.ModelRouter = (*Router)(nil)

var modelFieldPattern = regexp.MustCompile(`("model"\s*:\s*)"((?:[^"\\]|\\.)*)"`)

// Rewrite scans body for a top-level "model" field and, if present,
// replaces its value with the target of the first mapping entry whose
// Source glob matches. Non-JSON bodies and bodies without a "model"
// field are returned unchanged; applying Rewrite to its own
// output is a no-op once the value already matches no mapping source,
// or maps to itself.
func Rewrite(body []byte, mapping []domain.ModelMapping) []byte {
	if len(mapping) == 0 {
		return body
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body
	}
	raw, hasModel := parsed["model"]
	if !hasModel {
		return body
	}

	var current string
	if err := json.Unmarshal(raw, &current); err != nil {
		return body
	}

	target := ""
	matched := false
	for _, m := range mapping {
		if matchGlob(m.Source, current) {
			target = m.Replacement
			matched = true
			break
		}
	}
	if !matched || target == current {
		return body
	}

	escaped := jsonEscapeString(target)
	// the raw token's contents distinguish the top-level field from a
	// same-named field nested deeper in the body
	rawContents := bytes.TrimSpace([]byte(raw))
	rawContents = rawContents[1 : len(rawContents)-1]
	replaced := false
	return modelFieldPattern.ReplaceAllFunc(body, func(match []byte) []byte {
		if replaced {
			return match
		}
		sub := modelFieldPattern.FindSubmatch(match)
		if len(sub) < 3 || !bytes.Equal(sub[2], rawContents) {
			return match
		}
		replaced = true
		var buf bytes.Buffer
		buf.Write(sub[1])
		buf.WriteByte('"')
		buf.WriteString(escaped)
		buf.WriteByte('"')
		return buf.Bytes()
	})
}

// MapModel applies the same first-match-wins glob rule as Rewrite but
// operates on a bare model string rather than a JSON body. The balancer
// uses it to compute an upstream's effective model (its own
// model_mapping applied to the request model) before checking
// supported_models, so an upstream that maps gpt-x -> claude-3.5 and
// allows only claude-* still admits a request for "gpt-x".
func MapModel(model string, mapping []domain.ModelMapping) string {
	for _, m := range mapping {
		if matchGlob(m.Source, model) {
			return m.Replacement
		}
	}
	return model
}

func jsonEscapeString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}
