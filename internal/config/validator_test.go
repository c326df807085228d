package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "negative queue capacity", mutate: func(c *Config) { c.Bridge.QueueCapacity = -1 }, wantField: "bridge.queue_capacity"},
		{name: "huge queue capacity", mutate: func(c *Config) { c.Bridge.QueueCapacity = 1 << 20 }, wantField: "bridge.queue_capacity"},
		{name: "zero poll interval", mutate: func(c *Config) { c.Bridge.TerminatePollInterval = 0 }, wantField: "bridge.terminate_poll_interval"},
		{name: "slow poll interval", mutate: func(c *Config) { c.Bridge.TerminatePollInterval = time.Minute }, wantField: "bridge.terminate_poll_interval"},
		{name: "negative terminate timeout", mutate: func(c *Config) { c.Bridge.TerminateTimeout = -time.Second }, wantField: "bridge.terminate_timeout"},
		{name: "bad log threshold", mutate: func(c *Config) { c.Bridge.LogThreshold = "trace" }, wantField: "bridge.log_threshold"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantField: "logging.level"},
		{name: "zero max size", mutate: func(c *Config) { c.Logging.MaxSizeMB = 0 }, wantField: "logging.max_size_mb"},
		{name: "huge max size", mutate: func(c *Config) { c.Logging.MaxSizeMB = 5000 }, wantField: "logging.max_size_mb"},
		{name: "negative backups", mutate: func(c *Config) { c.Logging.MaxBackups = -2 }, wantField: "logging.max_backups"},
		{name: "narrow progress", mutate: func(c *Config) { c.Progress.Width = 2 }, wantField: "progress.width"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidateAcceptsUppercaseLevels(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "DEBUG"
	cfg.Bridge.LogThreshold = "Warn"

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	tests := []struct {
		name string
		errs ValidationErrors
		want string
	}{
		{name: "empty", errs: nil, want: ""},
		{
			name: "single",
			errs: ValidationErrors{{Field: "bridge.queue_capacity", Value: 0, Message: "must be between 1 and 65536"}},
			want: "bridge.queue_capacity: must be between 1 and 65536 (got: 0)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.errs.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "x"},
		{Field: "b", Value: 2, Message: "y"},
	}
	got := multi.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "  2. b: y (got: 2)") {
		t.Errorf("multi Error() = %q", got)
	}
}
