// Package util holds small helpers for reading assistd's environment
// configuration.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean from the environment, falling back to
// defaultValue when the variable is unset or unparseable. Recognized forms
// (case-insensitive): true/1/yes/on, false/0/no/off.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: unparseable boolean, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
}
