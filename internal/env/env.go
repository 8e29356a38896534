// Package env reads process environment variables with typed
// defaults, used by main.go to build the logger config before the
// viper-based configuration is loaded (the log directory and level
// need to exist before the first log line is written).
package env

import (
	"os"
	"strconv"
)

// GetEnvOrDefault returns the named environment variable, or def if
// unset or empty.
func GetEnvOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// GetEnvBoolOrDefault parses the named environment variable as a bool,
// or returns def if unset or unparsable.
func GetEnvBoolOrDefault(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetEnvIntOrDefault parses the named environment variable as an int,
// or returns def if unset or unparsable.
func GetEnvIntOrDefault(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
