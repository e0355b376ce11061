package config

import "time"

// TimingConfig holds hub and command timing.
type TimingConfig struct {
	// Heartbeat on the telemetry stream
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter"`

	// Command timeout classes
	CommandTimeoutSet   time.Duration `yaml:"commandTimeoutSet"`
	CommandTimeoutQuery time.Duration `yaml:"commandTimeoutQuery"`
	CommandTimeoutReset time.Duration `yaml:"commandTimeoutReset"`

	// Connect covers dial plus identification
	ConnectTimeout time.Duration `yaml:"connectTimeout"`

	// Shutdown bounds API drain on exit
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Per-instrument replay buffer for SSE clients
	EventBufferSize int `yaml:"eventBufferSize"`
}

// LoadTimingBaseline returns the default timing values.
func LoadTimingBaseline() *TimingConfig {
	return &TimingConfig{
		HeartbeatInterval:   15 * time.Second,
		HeartbeatJitter:     2 * time.Second,
		CommandTimeoutSet:   3 * time.Second,
		CommandTimeoutQuery: 3 * time.Second,
		CommandTimeoutReset: 10 * time.Second,
		ConnectTimeout:      5 * time.Second,
		ShutdownTimeout:     10 * time.Second,
		EventBufferSize:     50,
	}
}
