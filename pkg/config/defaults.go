package config

import (
	"strings"
	"time"

	"github.com/marmos91/fleetflow/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values with sensible
// defaults.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTracingDefaults(&cfg.Tracing)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
	applyStoreDefaults(&cfg.Store)
	applyQueuesDefaults(cfg.Queues)
	applyHuntDefaults(&cfg.Hunt)
	applyRetransmitDefaults(&cfg.Retransmit)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTracingDefaults sets OpenTelemetry defaults.
func applyTracingDefaults(cfg *TracingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyMetricsDefaults sets Prometheus metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyAPIDefaults sets status API server defaults.
func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyStoreDefaults sets FlowStore backend defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Type == "badger" {
		if cfg.Badger.Path == "" {
			cfg.Badger.Path = "/var/lib/fleetflow/flows"
		}
		if cfg.Badger.ValueLogFileSize == 0 {
			cfg.Badger.ValueLogFileSize = 256 * bytesize.MiB
		}
	}

	if cfg.Type == "sql" {
		if cfg.SQL.MaxOpenConns == 0 {
			cfg.SQL.MaxOpenConns = 10
		}
		if cfg.SQL.MaxIdleConns == 0 {
			cfg.SQL.MaxIdleConns = 5
		}
	}
}

// applyQueuesDefaults sets per-queue worker pool defaults.
func applyQueuesDefaults(queues map[string]QueueConfig) {
	for name, q := range queues {
		if q.Workers == 0 {
			q.Workers = 1
		}
		if q.LeasePollInterval == 0 {
			q.LeasePollInterval = time.Second
		}
		queues[name] = q
	}
}

// applyHuntDefaults sets HuntContext worker pool defaults.
func applyHuntDefaults(cfg *HuntConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
}

// applyRetransmitDefaults sets the default retransmit ceiling.
// Resolves spec.md's open question about retransmit limit configurability
// in favor of a config knob, defaulting to the source's observed limit.
func applyRetransmitDefaults(cfg *RetransmitConfig) {
	if cfg.MaxTransmissions == 0 {
		cfg.MaxTransmissions = 5
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for generating sample configuration files, testing, and
// for running fleetflowd with no config file at all.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Tracing: TracingConfig{},
		Metrics: MetricsConfig{},
		API:     APIConfig{Enabled: true},
		Store: StoreConfig{
			Type: "badger",
		},
		Queues: map[string]QueueConfig{
			"default": {},
		},
		Hunt:       HuntConfig{},
		Retransmit: RetransmitConfig{},
	}

	ApplyDefaults(cfg)
	return cfg
}
