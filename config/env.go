package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override understood by ApplyEnv.
const EnvPrefix = "ESCROWD_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides file values with ESCROWD_* variables. Empty values are
// ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil || lookup == nil {
		return nil
	}
	get := func(name string) (string, bool) {
		value, ok := lookup(EnvPrefix + name)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	strs := map[string]*string{
		"DATA_DIR":       &cfg.DataDir,
		"STATE_BACKEND":  &cfg.StateBackend,
		"ENV":            &cfg.Environment,
		"OWNER_KEYSTORE": &cfg.OwnerKeystorePath,
		"POLICY_FILE":    &cfg.PolicyFile,
		"GATEWAY_CONFIG": &cfg.GatewayConfigFile,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FILE":       &cfg.Log.File,
		"AUDIT_DRIVER":   &cfg.Audit.Driver,
		"AUDIT_DSN":      &cfg.Audit.DSN,
		"OTEL_ENDPOINT":  &cfg.Telemetry.Endpoint,
		"OTEL_HEADERS":   &cfg.Telemetry.Headers,
	}
	for name, dst := range strs {
		if value, ok := get(name); ok {
			*dst = value
		}
	}
	cfg.StateBackend = strings.ToLower(cfg.StateBackend)

	bools := map[string]*bool{
		"OTEL_TRACES":   &cfg.Telemetry.Traces,
		"OTEL_METRICS":  &cfg.Telemetry.Metrics,
		"OTEL_INSECURE": &cfg.Telemetry.Insecure,
	}
	for name, dst := range bools {
		value, ok := get(name)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
		}
		*dst = parsed
	}
	return nil
}
