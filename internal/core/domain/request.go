package domain

// Usage is token accounting extracted from either a non-streaming JSON
// response body or an SSE stream's out-of-band `usage` payloads.
type Usage struct {
	InputTokens     *int64 `json:"input_tokens,omitempty"`
	OutputTokens    *int64 `json:"output_tokens,omitempty"`
	ReasoningTokens *int64 `json:"reasoning_tokens,omitempty"`
	TotalTokens     *int64 `json:"total_tokens,omitempty"`
}

// ChainEntry is one attempt in retry.upstream_chain: either a real
// attempt against an upstream, or the "all_upstreams_avoided" sentinel
// (Sentinel != "") which is never counted in RetryInfo.Attempts.
type ChainEntry struct {
	ConfigName string         `json:"config_name,omitempty"`
	BaseURL    string         `json:"base_url,omitempty"`
	Outcome    Classification `json:"outcome,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Sentinel   string         `json:"sentinel,omitempty"`
}

// SentinelAllUpstreamsAvoided is appended to upstream_chain when the
// balancer has nothing left to pick mid-retry. It is included in the
// chain for debuggability but excluded from RetryInfo.Attempts.
const SentinelAllUpstreamsAvoided = "all_upstreams_avoided"

// RetryInfo is the "retry" object of a request record; it is entirely
// absent from the JSONL record when no retry occurred.
type RetryInfo struct {
	Attempts      int          `json:"attempts"`
	UpstreamChain []ChainEntry `json:"upstream_chain"`
}

// AddAttempt records a real attempt against an upstream.
func (r *RetryInfo) AddAttempt(u *Upstream, outcome Classification, statusCode int) {
	r.UpstreamChain = append(r.UpstreamChain, ChainEntry{
		ConfigName: u.ConfigName,
		BaseURL:    u.BaseURL,
		Outcome:    outcome,
		StatusCode: statusCode,
	})
	r.Attempts++
}

// AddSentinel records that no eligible upstream was left to try; this
// does not increment Attempts.
func (r *RetryInfo) AddSentinel(name string) {
	r.UpstreamChain = append(r.UpstreamChain, ChainEntry{Sentinel: name})
}

// RequestRecord is the stable JSONL telemetry contract, emitted
// exactly once per accepted request.
type RequestRecord struct {
	RequestID        string     `json:"-"`
	Service          string     `json:"service"`
	Method           string     `json:"method"`
	Path             string     `json:"path"`
	ConfigName       string     `json:"config_name"`
	UpstreamBaseURL  string     `json:"upstream_base_url"`
	ProviderID       *string    `json:"provider_id"`
	SessionID        *string    `json:"session_id"`
	Cwd              *string    `json:"cwd"`
	ReasoningEffort  *string    `json:"reasoning_effort"`
	Usage            *Usage     `json:"usage"`
	Retry            *RetryInfo `json:"retry,omitempty"`
	HTTPDebug        *HTTPDebug `json:"http_debug,omitempty"`
	TimestampMs      int64      `json:"timestamp_ms"`
	DurationMs       int64      `json:"duration_ms"`
	StatusCode       int        `json:"status_code"`
	StreamDisconnect bool       `json:"stream_disconnect,omitempty"`
}

// HTTPDebug carries non-secret diagnostic detail about how a request
// was resolved. AuthResolution records only the resolution site (e.g.
// "env:OPENAI_API_KEY"), never a secret value.
type HTTPDebug struct {
	AuthResolution string `json:"auth_resolution,omitempty"`
	DebugRef       string `json:"debug_ref,omitempty"`
}

// ActiveRequest is a snapshot of an in-flight request, surfaced by
// GET /__codex_helper/status/active.
type ActiveRequest struct {
	RequestID       string
	Service         string
	ConfigName      string
	UpstreamBaseURL string
	SessionID       string
	Model           string
	StartMs         int64
}
