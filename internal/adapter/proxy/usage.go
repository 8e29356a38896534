package proxy

import (
	"encoding/json"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/util"
)

// extractUsage parses a non-streaming JSON response body for a
// top-level "usage" object or a nested "response.usage" object,
// returning nil if neither is present or the body isn't JSON.
func extractUsage(body []byte) *domain.Usage {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}

	if u, ok := parsed["usage"].(map[string]interface{}); ok {
		return usageFromMap(u)
	}
	if resp, ok := parsed["response"].(map[string]interface{}); ok {
		if u, ok := resp["usage"].(map[string]interface{}); ok {
			return usageFromMap(u)
		}
	}
	return nil
}

// extractUsageFromSSEPayload parses one SSE "data:" JSON payload for a
// "usage" field, used by the streaming tee to keep an in-flight
// request record's usage fields current without a full body parse.
func extractUsageFromSSEPayload(payload []byte) *domain.Usage {
	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil
	}
	if u, ok := parsed["usage"].(map[string]interface{}); ok {
		return usageFromMap(u)
	}
	if resp, ok := parsed["response"].(map[string]interface{}); ok {
		if u, ok := resp["usage"].(map[string]interface{}); ok {
			return usageFromMap(u)
		}
	}
	return nil
}

func usageFromMap(m map[string]interface{}) *domain.Usage {
	u := &domain.Usage{}
	found := false
	if v, ok := util.GetInt64(m, "input_tokens"); ok {
		u.InputTokens = &v
		found = true
	}
	if v, ok := util.GetInt64(m, "output_tokens"); ok {
		u.OutputTokens = &v
		found = true
	}
	if v, ok := util.GetInt64(m, "reasoning_tokens"); ok {
		u.ReasoningTokens = &v
		found = true
	}
	if v, ok := util.GetInt64(m, "total_tokens"); ok {
		u.TotalTokens = &v
		found = true
	}
	if !found {
		return nil
	}
	return u
}

// mergeUsage overwrites dst's set fields with any non-nil fields from
// src, used to fold successive SSE usage payloads into one record.
func mergeUsage(dst, src *domain.Usage) *domain.Usage {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = &domain.Usage{}
	}
	if src.InputTokens != nil {
		dst.InputTokens = src.InputTokens
	}
	if src.OutputTokens != nil {
		dst.OutputTokens = src.OutputTokens
	}
	if src.ReasoningTokens != nil {
		dst.ReasoningTokens = src.ReasoningTokens
	}
	if src.TotalTokens != nil {
		dst.TotalTokens = src.TotalTokens
	}
	return dst
}
