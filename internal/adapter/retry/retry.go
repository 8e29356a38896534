// Package retry drives the per-request attempt loop: classify each
// outcome, decide whether to retry, pick the next upstream with the
// failed ones avoided, and apply backoff between attempts.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/internal/core/ports"
)

// Engine is the ports.RetryEngine implementation.
type Engine struct {
	lb    ports.LoadBalancer
	state ports.UpstreamStateStore
	sleep func(time.Duration)
}

func New(lb ports.LoadBalancer, state ports.UpstreamStateStore) *Engine {
	return &Engine{lb: lb, state: state, sleep: time.Sleep}
}

var _ ports.RetryEngine = (*Engine)(nil)

// Execute runs attempts until one succeeds, the policy says stop, or
// no further upstream is selectable.
func (e *Engine) Execute(ctx context.Context, req *ports.AttemptRequest) (*ports.AttemptResult, error) {
	policy := req.Snapshot.Retry
	result := &ports.AttemptResult{}
	var avoid []domain.UpstreamID

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		u, ok := e.lb.Select(req.Snapshot, req.Service, avoid, req.Model)
		if !ok {
			result.Retry.AddSentinel(domain.SentinelAllUpstreamsAvoided)
			return result, nil
		}

		outcome, err := req.Do(ctx, u)
		if err != nil && outcome == nil {
			outcome = &ports.AttemptOutcome{Class: domain.ClassUpstreamTransportError}
		}

		result.Retry.AddAttempt(u, outcome.Class, outcome.StatusCode)
		result.Final = outcome

		if outcome.Class == domain.ClassSuccess2xx {
			e.state.RecordSuccess(u.ID())
			return result, nil
		}

		e.state.RecordFailure(u.ID(), outcome.Class, outcome.StatusCode, policy)

		// once bytes are committed to the client, no further retry
		if outcome.Committed {
			return result, nil
		}

		if !e.isRetryable(policy, outcome) {
			return result, nil
		}

		avoid = append(avoid, u.ID())

		if attempt < policy.MaxAttempts {
			e.backoff(outcome.RetryAfter, policy, attempt)
		}
	}

	return result, nil
}

func (e *Engine) isRetryable(policy domain.RetryPolicy, outcome *ports.AttemptOutcome) bool {
	if policy.MatchesClass(outcome.Class) {
		return true
	}
	if outcome.Class == domain.ClassHTTPStatus && policy.MatchesStatus(outcome.StatusCode) {
		return true
	}
	return false
}

// backoff sleeps before the next attempt: Retry-After wins if the
// upstream provided one, else an exponential curve capped at
// backoff_max_ms plus uniform jitter.
func (e *Engine) backoff(retryAfter time.Duration, policy domain.RetryPolicy, attempt int) {
	if retryAfter > 0 {
		e.sleep(retryAfter)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(policy.BackoffMs) * time.Millisecond
	b.MaxInterval = time.Duration(policy.BackoffMaxMs) * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0
	// the constructor snapshots its default InitialInterval; Reset makes
	// the first NextBackOff start from the configured one
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > time.Duration(policy.BackoffMaxMs)*time.Millisecond {
		d = time.Duration(policy.BackoffMaxMs) * time.Millisecond
	}

	if policy.JitterMs > 0 {
		d += time.Duration(rand.Intn(policy.JitterMs)) * time.Millisecond
	}

	e.sleep(d)
}

// Classify maps a transport-level error to a Classification.
func Classify(err error) domain.Classification {
	if err == nil {
		return domain.ClassSuccess2xx
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ClassUpstreamTransportError
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED:
			return domain.ClassUpstreamTransportError
		}
	}

	if hasConnectionErrorText(err.Error()) {
		return domain.ClassUpstreamTransportError
	}

	return domain.ClassUpstreamTransportError
}

var connectionErrorStrings = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"no route to host",
	"connection timed out",
	"i/o timeout",
	"dial tcp",
}

func hasConnectionErrorText(s string) bool {
	s = strings.ToLower(s)
	for _, pattern := range connectionErrorStrings {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

// cloudflareChallengeMarkers are substrings found in Cloudflare's
// interstitial HTML challenge/block pages.
var cloudflareChallengeMarkers = []string{
	"cf-browser-verification",
	"cf-challenge",
	"checking your browser before accessing",
	"attention required! | cloudflare",
	"cloudflare ray id",
}

// IsCloudflareChallenge inspects a buffered non-2xx body for Cloudflare
// challenge/block markers.
func IsCloudflareChallenge(status int, body []byte) bool {
	if status < 400 {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, marker := range cloudflareChallengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsCloudflareTimeout reports the 524 gateway-timeout signature.
func IsCloudflareTimeout(status int) bool {
	return status == 524
}
