// Package config provides configuration loading for memsync.
//
// Values come from, lowest to highest precedence: built-in defaults, the
// YAML config file, MEMSYNC_* environment variables, and finally command
// line flags applied by the CLI.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds the complete memsync configuration.
type Config struct {
	Metadata  MetadataConfig  `koanf:"metadata"`
	Index     IndexConfig     `koanf:"index"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
	Backup    BackupConfig    `koanf:"backup"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// MetadataConfig locates the metadata record store.
type MetadataConfig struct {
	// Path is the JSON array file or SQLite database holding the records.
	Path string `koanf:"path"`

	// Format is "json", "sqlite", or empty to infer from the file extension.
	Format string `koanf:"format"`
}

// IndexConfig selects and configures the vector index adapter.
type IndexConfig struct {
	// Provider is "chromem" (default) or "qdrant".
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig points at a chromem-go persistent database.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host       string   `koanf:"host"`
	Port       int      `koanf:"port"`
	Collection string   `koanf:"collection"`
	APIKey     Secret   `koanf:"api_key"`
	UseTLS     bool     `koanf:"use_tls"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
}

// ReconcileConfig holds the engine's retention and filtering options.
type ReconcileConfig struct {
	// SubjectCap is the maximum number of records kept per subject. 0 disables the cap.
	SubjectCap int `koanf:"subject_cap"`

	// MinConfidence drops records scoring below it.
	MinConfidence float64 `koanf:"min_confidence"`

	// DropExact lists boilerplate texts to remove, matched after normalization.
	DropExact []string `koanf:"drop_exact"`
}

// BackupConfig controls the snapshots taken before destructive writes.
type BackupConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Dir      string `koanf:"dir"`
	Compress bool   `koanf:"compress"`
}

// LoggingConfig is the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile, when set, receives the run report in Prometheus text format.
	Textfile string `koanf:"textfile"`
}

// TelemetryConfig controls OTLP trace export. Disabled by default.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Metadata: MetadataConfig{
			Path: "./memory/longterm.json",
		},
		Index: IndexConfig{
			Provider: "chromem",
			Chromem: ChromemConfig{
				Path:       "./memory/vectorstore",
				Collection: "memories",
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "memories",
				Timeout:    Duration(30 * time.Second),
				MaxRetries: 3,
			},
		},
		Reconcile: ReconcileConfig{
			SubjectCap:    3,
			MinConfidence: 0,
		},
		Backup: BackupConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			Protocol:   "grpc",
			Insecure:   true,
			SampleRate: 1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Metadata.Path == "" {
		errs = append(errs, errors.New("metadata.path is required"))
	}
	switch c.Metadata.Format {
	case "", "json", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("metadata.format must be json or sqlite, got %q", c.Metadata.Format))
	}

	switch c.Index.Provider {
	case "chromem":
		if c.Index.Chromem.Path == "" {
			errs = append(errs, errors.New("index.chromem.path is required"))
		}
		if c.Index.Chromem.Collection == "" {
			errs = append(errs, errors.New("index.chromem.collection is required"))
		}
	case "qdrant":
		if c.Index.Qdrant.Host == "" {
			errs = append(errs, errors.New("index.qdrant.host is required"))
		}
		if c.Index.Qdrant.Port < 1 || c.Index.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("invalid index.qdrant.port: %d (must be 1-65535)", c.Index.Qdrant.Port))
		}
		if c.Index.Qdrant.Collection == "" {
			errs = append(errs, errors.New("index.qdrant.collection is required"))
		}
		if c.Index.Qdrant.MaxRetries < 0 {
			errs = append(errs, errors.New("index.qdrant.max_retries must be >= 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported index.provider %q (supported: chromem, qdrant)", c.Index.Provider))
	}

	if c.Reconcile.SubjectCap < 0 {
		errs = append(errs, fmt.Errorf("reconcile.subject_cap must be >= 0, got %d", c.Reconcile.SubjectCap))
	}
	if math.IsNaN(c.Reconcile.MinConfidence) || math.IsInf(c.Reconcile.MinConfidence, 0) {
		errs = append(errs, errors.New("reconcile.min_confidence must be finite"))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "", "grpc", "http/protobuf":
		default:
			errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate))
		}
	}

	return errors.Join(errs...)
}
