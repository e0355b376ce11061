package config

import (
	"fmt"
	"time"

	"github.com/lab-control/lcc/internal/units"
)

// Validate checks the complete configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateInstrument(cfg.PowerSupply); err != nil {
		return fmt.Errorf("powerSupply: %w", err)
	}
	if err := validateInstrument(cfg.SignalGenerator); err != nil {
		return fmt.Errorf("signalGenerator: %w", err)
	}
	if err := ValidateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}
	if err := validateAPI(cfg.API); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := validateLimits(cfg.Limits); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	return nil
}

// validateInstrument checks one instrument block. Host and port are only
// required when the instrument connects at startup.
func validateInstrument(ic InstrumentConfig) error {
	if ic.Enabled && ic.Host == "" {
		return fmt.Errorf("host is required when enabled")
	}
	if ic.Port < 0 || ic.Port > 65535 {
		return fmt.Errorf("port %d out of range", ic.Port)
	}
	if ic.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", ic.PollInterval)
	}
	if ic.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", ic.RequestTimeout)
	}
	return nil
}

// ValidateTiming enforces timing rules.
func ValidateTiming(t *TimingConfig) error {
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", t.HeartbeatInterval)
	}
	if t.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", t.HeartbeatJitter)
	}
	if t.HeartbeatJitter > t.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", t.HeartbeatJitter, t.HeartbeatInterval)
	}

	timeouts := []struct {
		name string
		v    time.Duration
	}{
		{"command timeout set", t.CommandTimeoutSet},
		{"command timeout query", t.CommandTimeoutQuery},
		{"command timeout reset", t.CommandTimeoutReset},
		{"connect timeout", t.ConnectTimeout},
		{"shutdown timeout", t.ShutdownTimeout},
	}
	for _, to := range timeouts {
		if to.v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", to.name, to.v)
		}
	}

	if t.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", t.EventBufferSize)
	}
	return nil
}

func validateAPI(api APIConfig) error {
	if api.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if api.Auth.Enabled && api.Auth.HMACSecret == "" && api.Auth.RSAPublicKeyFile == "" {
		return fmt.Errorf("auth enabled without hmacSecret or rsaPublicKeyFile")
	}
	return nil
}

func validateLimits(limits map[string]units.Range) error {
	for field, r := range limits {
		if _, ok := units.FieldFamily(field); !ok {
			return fmt.Errorf("unknown field %q", field)
		}
		if r.Min > r.Max {
			return fmt.Errorf("%s: min %v exceeds max %v", field, r.Min, r.Max)
		}
	}
	return nil
}
