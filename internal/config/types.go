package config

import "time"

// RawConfig is the on-disk/env-overridden configuration shape, decoded
// by viper. Store.Reload compiles it into an immutable *domain.Snapshot (see
// snapshot.go) before it reaches any request-handling code.
type RawConfig struct {
	Services       map[string]ServiceConfig `yaml:"services"`
	Retry          RetryConfig              `yaml:"retry"`
	UsageProviders []UsageProviderConfig    `yaml:"usage_providers"`
	RequestLog     RequestLogConfig         `yaml:"request_log"`
	Logging        LoggingConfig            `yaml:"logging"`
	Control        ControlConfig            `yaml:"control"`
	Server         ServerConfig             `yaml:"server"`
}

// ServerConfig is the per-process HTTP listen/limits configuration. It
// intentionally sits outside domain.Snapshot: bind host and body-size
// limits take effect on the next restart, not on the next hot reload.
type ServerConfig struct {
	Host                  string              `yaml:"host"`
	RequestLimits         ServerRequestLimits `yaml:"request_limits"`
	ReadTimeoutSecs       int                 `yaml:"read_timeout_secs"`
	WriteTimeoutSecs      int                 `yaml:"write_timeout_secs"`
	ShutdownTimeoutSecs   int                 `yaml:"shutdown_timeout_secs"`
	StreamIdleTimeoutSecs int                 `yaml:"stream_idle_timeout_secs"`
}

// ServerRequestLimits bounds a single incoming request, enforced by
// RequestSizeLimiter before it reaches the pipeline. TrustProxyHeaders/
// TrustedCIDRs govern how the client IP recorded in request logs is
// resolved when this process sits behind a trusted reverse proxy.
type ServerRequestLimits struct {
	MaxBodySize       int64    `yaml:"max_body_size"`
	MaxHeaderSize     int64    `yaml:"max_header_size"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	TrustedCIDRs      []string `yaml:"trusted_cidrs"`
}

// ServiceConfig is one listen surface (e.g. "codex" on 3211, "claude"
// on 3210) and the set of configs available for its load balancer.
type ServiceConfig struct {
	Port    int            `yaml:"port"`
	Configs []ConfigConfig `yaml:"configs" validate:"dive"`
}

// ConfigConfig is one named group of ordered upstreams.
type ConfigConfig struct {
	Name      string           `yaml:"name" validate:"required"`
	Alias     string           `yaml:"alias"`
	Enabled   *bool            `yaml:"enabled"`
	Active    bool             `yaml:"active"`
	Level     int              `yaml:"level" validate:"omitempty,gte=1,lte=10"`
	Upstreams []UpstreamConfig `yaml:"upstreams" validate:"dive"`
}

// UpstreamConfig is one upstream's static configuration.
type UpstreamConfig struct {
	BaseURL            string              `yaml:"base_url" validate:"required,url"`
	AuthToken          string              `yaml:"auth_token"`
	AuthTokenEnv       string              `yaml:"auth_token_env"`
	Tags               map[string]string   `yaml:"tags"`
	SupportedModels    []string            `yaml:"supported_models"`
	ModelMapping       []ModelMappingEntry `yaml:"model_mapping"`
	RequiresOpenAIAuth bool                `yaml:"requires_openai_auth"`
}

type ModelMappingEntry struct {
	Glob        string `yaml:"glob"`
	Replacement string `yaml:"replacement"`
}

// RetryConfig mirrors domain.RetryPolicy's raw, string-friendly form so
// it decodes cleanly from YAML/env (e.g. on_status as ["500-599"]).
type RetryConfig struct {
	MaxAttempts                     int      `yaml:"max_attempts" validate:"gte=1,lte=8"`
	OnStatus                        []string `yaml:"on_status"`
	OnClass                         []string `yaml:"on_class"`
	BackoffMs                       int      `yaml:"backoff_ms"`
	BackoffMaxMs                    int      `yaml:"backoff_max_ms"`
	JitterMs                        int      `yaml:"jitter_ms"`
	CloudflareChallengeCooldownSecs int      `yaml:"cloudflare_challenge_cooldown_secs"`
	CloudflareTimeoutCooldownSecs   int      `yaml:"cloudflare_timeout_cooldown_secs"`
	TransportCooldownSecs           int      `yaml:"transport_cooldown_secs"`
	FailureThreshold                int      `yaml:"failure_threshold"`
}

// UsageProviderConfig is one usage-provider definition.
type UsageProviderConfig struct {
	ID               string   `yaml:"id" validate:"required"`
	Kind             string   `yaml:"kind" validate:"required,eq=budget_http_json"`
	Domains          []string `yaml:"domains" validate:"required,min=1"`
	Endpoint         string   `yaml:"endpoint" validate:"required,url"`
	TokenEnv         string   `yaml:"token_env"`
	PollIntervalSecs int      `yaml:"poll_interval_secs" validate:"gte=1"`
}

// RequestLogConfig is the request log writer's configuration.
type RequestLogConfig struct {
	Path           string `yaml:"path"`
	DebugPath      string `yaml:"debug_path"`
	MaxBytes       int64  `yaml:"max_bytes"`
	MaxFiles       int    `yaml:"max_files"`
	OnlyErrors     bool   `yaml:"only_errors"`
	SplitHTTPDebug bool   `yaml:"split_http_debug"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogDir     string `yaml:"log_dir"`
	Theme      string `yaml:"theme"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	FileOutput bool   `yaml:"file_output"`
	PrettyLogs bool   `yaml:"pretty_logs"`
}

// ControlConfig is the control endpoints' tunables.
type ControlConfig struct {
	RecentBufferSize int `yaml:"recent_buffer_size" validate:"gte=1"`
}

// DefaultRawConfig returns the documented defaults.
func DefaultRawConfig() *RawConfig {
	return &RawConfig{
		Services: map[string]ServiceConfig{
			"codex":  {Port: 3211},
			"claude": {Port: 3210},
		},
		Retry: RetryConfig{
			MaxAttempts:                     2,
			OnStatus:                        []string{"500-599"},
			OnClass:                         []string{"upstream_transport_error", "cloudflare_challenge", "cloudflare_timeout"},
			BackoffMs:                       250,
			BackoffMaxMs:                    5000,
			JitterMs:                        100,
			CloudflareChallengeCooldownSecs: 300,
			CloudflareTimeoutCooldownSecs:   60,
			TransportCooldownSecs:           30,
			FailureThreshold:                3,
		},
		RequestLog: RequestLogConfig{
			Path:       "requests.jsonl",
			DebugPath:  "requests_debug.jsonl",
			MaxBytes:   50 * 1024 * 1024,
			MaxFiles:   10,
			OnlyErrors: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			LogDir:     "./logs",
			Theme:      "default",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			PrettyLogs: true,
		},
		Control: ControlConfig{
			RecentBufferSize: 200,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			RequestLimits: ServerRequestLimits{
				MaxBodySize:       10 * 1024 * 1024,
				MaxHeaderSize:     64 * 1024,
				TrustProxyHeaders: false,
				TrustedCIDRs:      nil,
			},
			ReadTimeoutSecs:       30,
			WriteTimeoutSecs:      0,
			ShutdownTimeoutSecs:   10,
			StreamIdleTimeoutSecs: 120,
		},
	}
}

const DefaultFileWriteDelay = 150 * time.Millisecond
