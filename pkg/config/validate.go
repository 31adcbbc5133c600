package config

import (
	"fmt"
	"net"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "gateway.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	if _, _, err := net.SplitHostPort(cfg.Gateway.ListenAddress); err != nil {
		errs = append(errs, FieldError{"gateway.listen_address", fmt.Sprintf("invalid address %q", cfg.Gateway.ListenAddress)})
	}
	if cfg.Gateway.HealthListenAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.Gateway.HealthListenAddress); err != nil {
			errs = append(errs, FieldError{"gateway.health_listen_address", fmt.Sprintf("invalid address %q", cfg.Gateway.HealthListenAddress)})
		}
	}
	if cfg.Gateway.MaxRequestLineSize < 256 {
		errs = append(errs, FieldError{"gateway.max_request_line_size", "must be at least 256 bytes"})
	}
	if cfg.Gateway.MaxHeaders < 1 {
		errs = append(errs, FieldError{"gateway.max_headers", "must be at least 1"})
	}
	if cfg.Gateway.MaxHeaderLineSize < 256 {
		errs = append(errs, FieldError{"gateway.max_header_line_size", "must be at least 256 bytes"})
	}
	if cfg.Gateway.MaxRequestBodySize < 0 {
		errs = append(errs, FieldError{"gateway.max_request_body_size", "must not be negative"})
	}

	if cfg.Backend.Host == "" {
		errs = append(errs, FieldError{"backend.host", "must not be empty"})
	}
	if cfg.Backend.Port < 1 || cfg.Backend.Port > 65535 {
		errs = append(errs, FieldError{"backend.port", fmt.Sprintf("invalid port %d", cfg.Backend.Port)})
	}
	if cfg.Backend.ConnectTimeout <= 0 {
		errs = append(errs, FieldError{"backend.connect_timeout", "must be positive"})
	}
	if cfg.Backend.ResponseTimeout <= 0 {
		errs = append(errs, FieldError{"backend.response_timeout", "must be positive"})
	}

	if cfg.Auth.Enabled && cfg.Auth.KeysFile == "" {
		errs = append(errs, FieldError{"auth.keys_file", "must be set when auth is enabled"})
	}
	if cfg.Auth.DefaultRateLimit < 1 {
		errs = append(errs, FieldError{"auth.default_rate_limit", "must be at least 1"})
	}

	if cfg.Limits.MaxConcurrentRequests < 1 {
		errs = append(errs, FieldError{"limits.max_concurrent_requests", "must be at least 1"})
	}
	if cfg.Limits.MaxQueueSize < 0 {
		errs = append(errs, FieldError{"limits.max_queue_size", "must not be negative"})
	}

	switch cfg.Telemetry.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, FieldError{"telemetry.log_format", fmt.Sprintf("must be \"text\" or \"json\", got %q", cfg.Telemetry.LogFormat)})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
