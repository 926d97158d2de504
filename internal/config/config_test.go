package config

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing metadata path", func(c *Config) { c.Metadata.Path = "" }, "metadata.path"},
		{"bad metadata format", func(c *Config) { c.Metadata.Format = "csv" }, "metadata.format"},
		{"unknown provider", func(c *Config) { c.Index.Provider = "faiss" }, "unsupported index.provider"},
		{"chromem without collection", func(c *Config) { c.Index.Chromem.Collection = "" }, "index.chromem.collection"},
		{"qdrant bad port", func(c *Config) {
			c.Index.Provider = "qdrant"
			c.Index.Qdrant.Port = 70000
		}, "index.qdrant.port"},
		{"negative cap", func(c *Config) { c.Reconcile.SubjectCap = -2 }, "subject_cap"},
		{"nan confidence", func(c *Config) { c.Reconcile.MinConfidence = math.NaN() }, "min_confidence"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad telemetry protocol", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Protocol = "udp"
		}, "telemetry.protocol"},
		{"telemetry sample rate", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.SampleRate = 1.5
		}, "telemetry.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_QdrantIgnoresChromem(t *testing.T) {
	cfg := Default()
	cfg.Index.Provider = "qdrant"
	cfg.Index.Chromem.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	if got := s.String(); got != "[REDACTED]" {
		t.Errorf("String() = %q", got)
	}
	if got := fmt.Sprintf("%#v", s); strings.Contains(got, "sk-live") {
		t.Errorf("GoString leaked secret: %q", got)
	}
	data, err := json.Marshal(struct{ Key Secret }{s})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-live") {
		t.Errorf("json leaked secret: %s", data)
	}
	if s.Value() != "sk-live-123" || !s.IsSet() {
		t.Error("Value()/IsSet() wrong")
	}
	if Secret("").IsSet() || Secret("").String() != "" {
		t.Error("empty secret should be unset and print empty")
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration().Seconds() != 90 {
		t.Errorf("Duration = %v, want 90s", d.Duration())
	}
	if err := d.UnmarshalText([]byte("-1s")); err == nil {
		t.Error("negative duration accepted")
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("garbage duration accepted")
	}
}
