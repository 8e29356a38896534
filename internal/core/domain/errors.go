package domain

import "fmt"

// UpstreamError wraps a transport-level failure talking to one upstream.
type UpstreamError struct {
	Err        error
	RequestID  string
	BaseURL    string
	ConfigName string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed [%s] %s (%s): %v", e.RequestID, e.BaseURL, e.ConfigName, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func NewUpstreamError(requestID, baseURL, configName string, err error) *UpstreamError {
	return &UpstreamError{RequestID: requestID, BaseURL: baseURL, ConfigName: configName, Err: err}
}

// NoEligibleUpstreamError describes a service whose every candidate was
// excluded even after fallback. LoadBalancer.Select reports that case
// with ok=false, not with this error.
type NoEligibleUpstreamError struct {
	Service string
}

func (e *NoEligibleUpstreamError) Error() string {
	return fmt.Sprintf("no eligible upstream for service %q", e.Service)
}

// ConfigValidationError reports a single invalid config field.
type ConfigValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s=%v: %s", e.Field, e.Value, e.Reason)
}

func NewConfigValidationError(field string, value interface{}, reason string) *ConfigValidationError {
	return &ConfigValidationError{Field: field, Value: value, Reason: reason}
}

// ClientError covers malformed or oversized client requests and
// carries the HTTP status the pipeline should respond with.
type ClientError struct {
	Err    error
	Reason string
	Status int
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error (%d): %s: %v", e.Status, e.Reason, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

func NewClientError(status int, reason string, err error) *ClientError {
	return &ClientError{Status: status, Reason: reason, Err: err}
}
