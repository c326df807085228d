package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "bridge.queue_capacity")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

const (
	maxQueueCapacity = 1 << 16
	minPollInterval  = time.Millisecond
	maxPollInterval  = 10 * time.Second
	maxLogSizeMB     = 1000
	maxProgressWidth = 200
	minProgressWidth = 10
)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBridge()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateProgress()...)

	return errors
}

func (c *Config) validateBridge() []ValidationError {
	var errors []ValidationError
	b := c.Bridge

	if b.QueueCapacity <= 0 || b.QueueCapacity > maxQueueCapacity {
		errors = append(errors, ValidationError{
			Field:   "bridge.queue_capacity",
			Value:   b.QueueCapacity,
			Message: fmt.Sprintf("must be between 1 and %d", maxQueueCapacity),
		})
	}

	if b.TerminatePollInterval < minPollInterval || b.TerminatePollInterval > maxPollInterval {
		errors = append(errors, ValidationError{
			Field:   "bridge.terminate_poll_interval",
			Value:   b.TerminatePollInterval,
			Message: fmt.Sprintf("must be between %s and %s", minPollInterval, maxPollInterval),
		})
	}

	if b.TerminateTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "bridge.terminate_timeout",
			Value:   b.TerminateTimeout,
			Message: "must be non-negative",
		})
	}

	if b.LogThreshold != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(b.LogThreshold)) {
		errors = append(errors, ValidationError{
			Field:   "bridge.log_threshold",
			Value:   b.LogThreshold,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	} else if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateProgress() []ValidationError {
	var errors []ValidationError

	if c.Progress.Width < minProgressWidth || c.Progress.Width > maxProgressWidth {
		errors = append(errors, ValidationError{
			Field:   "progress.width",
			Value:   c.Progress.Width,
			Message: fmt.Sprintf("must be between %d and %d", minProgressWidth, maxProgressWidth),
		})
	}

	return errors
}
