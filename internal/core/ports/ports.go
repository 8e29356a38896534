package ports

import (
	"context"
	"time"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
)

// UpstreamStateStore is the concurrent-safe store of per-upstream
// failure counts, cooldown deadlines and usage_exhausted flags.
type UpstreamStateStore interface {
	RecordSuccess(id domain.UpstreamID)
	RecordFailure(id domain.UpstreamID, class domain.Classification, statusCode int, policy domain.RetryPolicy)
	SetUsageExhausted(id domain.UpstreamID, exhausted bool)
	Snapshot(id domain.UpstreamID) domain.UpstreamSnapshot
	CleanupConfig(configName string)
}

// LoadBalancer picks an upstream from the active config given an
// avoid-set and the request's model, consulting upstream state for
// eligibility.
type LoadBalancer interface {
	// Select returns the chosen upstream, or ok=false when no
	// candidate is eligible even after fallback.
	Select(snapshot *domain.Snapshot, service string, avoid []domain.UpstreamID, model string) (u *domain.Upstream, ok bool)
}

// ModelRouter filters upstreams by supported_models and rewrites
// the request body's "model" field via model_mapping.
type ModelRouter interface {
	Matches(model string, supportedModels []string) bool
	Rewrite(body []byte, mapping []domain.ModelMapping) []byte
}

// RetryEngine drives the attempt loop across upstreams chosen by
// the LoadBalancer, classifying each outcome and applying backoff.
type RetryEngine interface {
	Execute(ctx context.Context, req *AttemptRequest) (*AttemptResult, error)
}

// AttemptRequest is everything the retry engine needs to run one
// request's attempt loop without reaching back into the pipeline's
// HTTP plumbing.
type AttemptRequest struct {
	Snapshot *domain.Snapshot
	Service  string
	Model    string
	Do       func(ctx context.Context, u *domain.Upstream) (*AttemptOutcome, error)
}

// AttemptOutcome is what a single upstream attempt produced, as
// classified by the pipeline and handed back to the retry engine for
// the retry decision.
type AttemptOutcome struct {
	Class      domain.Classification
	StatusCode int
	RetryAfter time.Duration
	// Committed is true once any response byte has reached the client;
	// a committed attempt can never be retried.
	Committed bool
}

// AttemptResult is the retry engine's final verdict for a request.
type AttemptResult struct {
	Retry domain.RetryInfo
	Final *AttemptOutcome
}

// UsagePoller is one provider's periodic budget-endpoint poll task,
// implementing ManagedService for orchestrated startup/shutdown.
type UsagePoller interface {
	ManagedService
}

// RequestLogWriter is the append-only JSONL request log writer.
type RequestLogWriter interface {
	ManagedService
	Write(record domain.RequestRecord)
	DroppedCount() int64
}

// BodyFilter is the redaction hook supplied by the front-end: the
// proxy applies whatever filter function it is given and leaves the
// rule language to the caller.
type BodyFilter func(body []byte) []byte

// ManagedService is the lifecycle contract for long-lived background
// tasks (usage pollers, the log writer) orchestrated by the service
// manager: topologically started, stopped in reverse order.
type ManagedService interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Dependencies() []string
}
