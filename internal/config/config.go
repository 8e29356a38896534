// Package config loads the YAML+env configuration, hot-reloads it via
// fsnotify, and compiles it into an immutable *domain.Snapshot behind
// an atomic pointer.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/thushan/codex-helper-proxy/internal/core/domain"
)

const EnvPrefix = "CODEX_HELPER"

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// Load reads RawConfig from ./config.yaml (or $CODEX_HELPER_CONFIG_FILE),
// and validates it. Hot reload is set up separately by Watch.
func Load() (*RawConfig, error) {
	v := newViper()
	if err := readConfig(v); err != nil {
		return nil, err
	}

	raw := DefaultRawConfig()
	if err := v.Unmarshal(raw, decodeByYAMLTag); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// decodeByYAMLTag makes Unmarshal honour the same snake_case keys the
// YAML file uses, so file, env and struct stay one vocabulary.
func decodeByYAMLTag(dc *mapstructure.DecoderConfig) {
	dc.TagName = "yaml"
}

// envKeys are the config keys overridable purely from the environment;
// AutomaticEnv only surfaces keys viper has seen, so each documented
// CODEX_HELPER_* variable is bound explicitly.
var envKeys = []string{
	"retry.max_attempts",
	"retry.on_status",
	"retry.on_class",
	"retry.backoff_ms",
	"retry.backoff_max_ms",
	"retry.jitter_ms",
	"retry.cloudflare_challenge_cooldown_secs",
	"retry.cloudflare_timeout_cooldown_secs",
	"retry.transport_cooldown_secs",
	"request_log.max_bytes",
	"request_log.max_files",
	"request_log.only_errors",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv(EnvPrefix + "_CONFIG_FILE"); configFile != "" {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}
	return nil
}

var validate = validator.New()

// Validate runs struct-tag validation plus the handful of cross-field
// checks validator/v10 tags can't express (exactly one active config
// per service, valid on_status ranges).
func Validate(raw *RawConfig) error {
	if err := validate.Struct(raw); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	for service, sc := range raw.Services {
		activeCount := 0
		for _, c := range sc.Configs {
			if c.Active {
				activeCount++
			}
		}
		if len(sc.Configs) > 0 && activeCount != 1 {
			return domain.NewConfigValidationError(
				fmt.Sprintf("services.%s.configs", service), activeCount,
				"exactly one config per service must be active")
		}
	}

	for _, r := range raw.Retry.OnStatus {
		if _, err := parseStatusRange(r); err != nil {
			return domain.NewConfigValidationError("retry.on_status", r, err.Error())
		}
	}

	return nil
}

// Watch sets up hot-reload: on every fsnotify change to the config
// file, re-read, re-validate and invoke onChange with the new raw
// config. Invalid reloads are logged by the caller and the previous
// snapshot is kept in place (stale-but-valid beats a half-applied
// reload).
func Watch(onChange func(*RawConfig, error)) {
	v := newViper()
	_ = readConfig(v)
	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		reloadMutex.Lock()
		defer reloadMutex.Unlock()

		now := time.Now()
		if now.Sub(lastReload) < 500*time.Millisecond {
			return
		}
		lastReload = now

		time.Sleep(DefaultFileWriteDelay)

		raw := DefaultRawConfig()
		if err := v.Unmarshal(raw, decodeByYAMLTag); err != nil {
			onChange(nil, fmt.Errorf("unable to decode config: %w", err))
			return
		}
		if err := Validate(raw); err != nil {
			onChange(nil, err)
			return
		}
		onChange(raw, nil)
	})
}
