package domain

import "time"

// RetryPolicy governs the attempt loop: how many attempts to make,
// which outcomes are retryable, and the backoff/cooldown applied
// between attempts.
type RetryPolicy struct {
	OnStatus                    []StatusRange
	OnClass                     []Classification
	CloudflareChallengeCooldown time.Duration
	CloudflareTimeoutCooldown   time.Duration
	TransportCooldown           time.Duration
	MaxAttempts                 int
	BackoffMs                   int
	BackoffMaxMs                int
	JitterMs                    int
	FailureThreshold            uint32
}

// StatusRange is an inclusive [Low, High] HTTP status range; Low==High
// represents a single status code.
type StatusRange struct {
	Low  int
	High int
}

func (r StatusRange) Contains(code int) bool {
	return code >= r.Low && code <= r.High
}

// MatchesStatus reports whether code falls in any configured on_status range.
func (p RetryPolicy) MatchesStatus(code int) bool {
	for _, r := range p.OnStatus {
		if r.Contains(code) {
			return true
		}
	}
	return false
}

// MatchesClass reports whether c is one of the configured on_class values.
func (p RetryPolicy) MatchesClass(c Classification) bool {
	for _, oc := range p.OnClass {
		if oc == c {
			return true
		}
	}
	return false
}

// CooldownFor returns the cooldown penalty to apply for a given
// classification.
func (p RetryPolicy) CooldownFor(c Classification) time.Duration {
	switch c {
	case ClassCloudflareChallenge:
		return p.CloudflareChallengeCooldown
	case ClassCloudflareTimeout:
		return p.CloudflareTimeoutCooldown
	default:
		return p.TransportCooldown
	}
}

// DefaultRetryPolicy returns the documented defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:                 2,
		BackoffMs:                   250,
		BackoffMaxMs:                5000,
		JitterMs:                    100,
		FailureThreshold:            3,
		OnStatus:                    []StatusRange{{Low: 500, High: 599}},
		OnClass: []Classification{
			ClassUpstreamTransportError,
			ClassCloudflareChallenge,
			ClassCloudflareTimeout,
		},
		TransportCooldown:           30 * time.Second,
		CloudflareTimeoutCooldown:   60 * time.Second,
		CloudflareChallengeCooldown: 300 * time.Second,
	}
}
