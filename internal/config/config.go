package config

import (
	"time"

	"github.com/lab-control/lcc/internal/units"
)

// Config represents the complete container configuration.
type Config struct {
	PowerSupply     InstrumentConfig       `yaml:"powerSupply"`
	SignalGenerator InstrumentConfig       `yaml:"signalGenerator"`
	Timing          TimingConfig           `yaml:"timing"`
	API             APIConfig              `yaml:"api"`
	Audit           AuditConfig            `yaml:"audit"`
	Log             LogConfig              `yaml:"log"`
	Limits          map[string]units.Range `yaml:"limits"`
}

// InstrumentConfig describes how to reach and poll one instrument.
type InstrumentConfig struct {
	// Connect at startup
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	PollInterval   time.Duration `yaml:"pollInterval"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	Auth         AuthConfig    `yaml:"auth"`
}

// AuthConfig enables bearer token verification.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`

	// HMACSecret verifies HS256 tokens
	HMACSecret string `yaml:"hmacSecret"`

	// RSAPublicKeyFile verifies RS256 tokens (PEM)
	RSAPublicKeyFile string `yaml:"rsaPublicKeyFile"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// LogConfig holds service log settings. An empty File logs to stderr only.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Default returns the built-in configuration. Port 5025 is the SCPI raw
// socket port both instrument families listen on.
func Default() *Config {
	return &Config{
		PowerSupply: InstrumentConfig{
			Host:           "127.0.0.1",
			Port:           5025,
			PollInterval:   500 * time.Millisecond,
			RequestTimeout: 2 * time.Second,
		},
		SignalGenerator: InstrumentConfig{
			Host:           "127.0.0.1",
			Port:           5026,
			PollInterval:   time.Second,
			RequestTimeout: 2 * time.Second,
		},
		Timing: *LoadTimingBaseline(),
		API: APIConfig{
			Listen:      ":8080",
			ReadTimeout: 10 * time.Second,
			// SSE streams stay open, so no write timeout by default
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Limits: units.DefaultRanges(),
	}
}
