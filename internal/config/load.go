package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath is read when LCC_CONFIG is unset and the file exists.
const DefaultPath = "lcc.yaml"

// Path returns the configuration file path from LCC_CONFIG or DefaultPath.
func Path() string {
	return GetEnvVar("LCC_CONFIG", DefaultPath)
}

// Load merges defaults + optional YAML file at path + LCC_* env overrides,
// then validates. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFromFile(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile decodes YAML over cfg so absent keys keep their defaults.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// applyEnvOverrides applies LCC_* environment variables. Malformed values
// are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	instruments := []struct {
		prefix string
		cfg    *InstrumentConfig
	}{
		{"LCC_PSU", &cfg.PowerSupply},
		{"LCC_SIGGEN", &cfg.SignalGenerator},
	}
	for _, inst := range instruments {
		if val := os.Getenv(inst.prefix + "_HOST"); val != "" {
			inst.cfg.Host = val
		}
		if err := envInt(inst.prefix+"_PORT", &inst.cfg.Port); err != nil {
			return err
		}
		if err := envBool(inst.prefix+"_ENABLED", &inst.cfg.Enabled); err != nil {
			return err
		}
		if err := envDuration(inst.prefix+"_POLL_INTERVAL", &inst.cfg.PollInterval); err != nil {
			return err
		}
		if err := envDuration(inst.prefix+"_REQUEST_TIMEOUT", &inst.cfg.RequestTimeout); err != nil {
			return err
		}
	}

	durations := map[string]*time.Duration{
		"LCC_TIMING_HEARTBEAT_INTERVAL":    &cfg.Timing.HeartbeatInterval,
		"LCC_TIMING_HEARTBEAT_JITTER":      &cfg.Timing.HeartbeatJitter,
		"LCC_TIMING_COMMAND_TIMEOUT_SET":   &cfg.Timing.CommandTimeoutSet,
		"LCC_TIMING_COMMAND_TIMEOUT_QUERY": &cfg.Timing.CommandTimeoutQuery,
		"LCC_TIMING_COMMAND_TIMEOUT_RESET": &cfg.Timing.CommandTimeoutReset,
		"LCC_TIMING_CONNECT_TIMEOUT":       &cfg.Timing.ConnectTimeout,
		"LCC_TIMING_SHUTDOWN_TIMEOUT":      &cfg.Timing.ShutdownTimeout,
	}
	for key, dst := range durations {
		if err := envDuration(key, dst); err != nil {
			return err
		}
	}
	if err := envInt("LCC_TIMING_EVENT_BUFFER_SIZE", &cfg.Timing.EventBufferSize); err != nil {
		return err
	}

	if val := os.Getenv("LCC_API_LISTEN"); val != "" {
		cfg.API.Listen = val
	}
	if err := envBool("LCC_AUTH_ENABLED", &cfg.API.Auth.Enabled); err != nil {
		return err
	}
	if val := os.Getenv("LCC_AUTH_HMAC_SECRET"); val != "" {
		cfg.API.Auth.HMACSecret = val
	}
	if val := os.Getenv("LCC_AUTH_RSA_PUBLIC_KEY_FILE"); val != "" {
		cfg.API.Auth.RSAPublicKeyFile = val
	}
	if val := os.Getenv("LCC_AUDIT_DIR"); val != "" {
		cfg.Audit.Dir = val
	}
	if val := os.Getenv("LCC_LOG_FILE"); val != "" {
		cfg.Log.File = val
	}

	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns a duration from an environment variable with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
