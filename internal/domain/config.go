package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	Server ServerConfig `json:"server"`
	Engine EngineConfig `json:"engine"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// Validation policies for batch loading.
const (
	// ValidationReject fails the whole batch on the first invalid row.
	ValidationReject = "reject"

	// ValidationSkip excludes invalid rows and records them on the run.
	ValidationSkip = "skip"
)

// EngineConfig is the enumerated detection configuration surface.
// There are no implicit defaults outside this struct; every threshold the
// engine applies is listed here.
type EngineConfig struct {
	// Structuring: a sender's transactions inside a sliding window are
	// flagged when each is below AmountLimit, the window holds strictly
	// more than CountThreshold of them, and their sum reaches
	// AmountThreshold.
	StructuringWindow          time.Duration `json:"structuringWindow"`
	StructuringCountThreshold  int           `json:"structuringCountThreshold"`
	StructuringAmountThreshold float64       `json:"structuringAmountThreshold"`
	StructuringAmountLimit     float64       `json:"structuringAmountLimit"`

	// HighRiskLocations is the geographic risk set.
	HighRiskLocations []string `json:"highRiskLocations"`

	// Spike: flag amounts above mean + SpikeMultiplier*stddev of the
	// sender's other transactions. Senders with fewer than SpikeMinHistory
	// prior transactions are never flagged by this rule.
	SpikeMultiplier float64 `json:"spikeMultiplier"`
	SpikeMinHistory int     `json:"spikeMinHistory"`

	// AnomalyContamination is the assumed outlier fraction of the batch,
	// in (0,1).
	AnomalyContamination float64 `json:"anomalyContamination"`

	// RandomSeed drives the anomaly model. Required for reproducible runs.
	RandomSeed int64 `json:"randomSeed"`

	// ValidationMode is "reject" or "skip".
	ValidationMode string `json:"validationMode"`

	// RulesOnly skips the anomaly model entirely.
	RulesOnly bool `json:"rulesOnly"`
}

// DefaultEngineConfig returns the documented detection defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StructuringWindow:          24 * time.Hour,
		StructuringCountThreshold:  3,
		StructuringAmountThreshold: 3000,
		StructuringAmountLimit:     1000,
		HighRiskLocations:          []string{"Offshore", "Garissa"},
		SpikeMultiplier:            3,
		SpikeMinHistory:            5,
		AnomalyContamination:       0.02,
		RandomSeed:                 42,
		ValidationMode:             ValidationReject,
	}
}

// Validate fails fast on parameters outside their valid domain.
func (c EngineConfig) Validate() error {
	if c.StructuringWindow <= 0 {
		return fmt.Errorf("%w: structuring window must be positive, got %s", ErrConfiguration, c.StructuringWindow)
	}
	if c.StructuringCountThreshold < 1 {
		return fmt.Errorf("%w: structuring count threshold must be >= 1, got %d", ErrConfiguration, c.StructuringCountThreshold)
	}
	if c.StructuringAmountThreshold < 0 || c.StructuringAmountLimit <= 0 {
		return fmt.Errorf("%w: structuring amount thresholds must be positive", ErrConfiguration)
	}
	if c.SpikeMultiplier <= 0 {
		return fmt.Errorf("%w: spike multiplier must be positive, got %g", ErrConfiguration, c.SpikeMultiplier)
	}
	if c.SpikeMinHistory < 1 {
		return fmt.Errorf("%w: spike min history must be >= 1, got %d", ErrConfiguration, c.SpikeMinHistory)
	}
	if c.AnomalyContamination <= 0 || c.AnomalyContamination >= 1 {
		return fmt.Errorf("%w: anomaly contamination must be in (0,1), got %g", ErrConfiguration, c.AnomalyContamination)
	}
	if c.ValidationMode != ValidationReject && c.ValidationMode != ValidationSkip {
		return fmt.Errorf("%w: validation mode must be %q or %q, got %q", ErrConfiguration, ValidationReject, ValidationSkip, c.ValidationMode)
	}
	return nil
}

// HighRiskSet returns the high-risk locations as a lookup set.
func (c EngineConfig) HighRiskSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.HighRiskLocations))
	for _, loc := range c.HighRiskLocations {
		set[loc] = struct{}{}
	}
	return set
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns the default single-node configuration:
// SQLite repository, in-process cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}
