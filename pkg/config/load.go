package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// Fields absent from the file keep their default values, so a minimal or
// empty file is valid. The returned configuration has been validated.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	// Unmarshal over the defaults so absent fields keep them.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. If path is empty the file step is skipped
// and configuration comes from defaults plus the environment alone.
// Environment variables always take precedence over file-based configuration.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config

	if path == "" {
		cfg = NewConfig()
	} else {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. The variable names match the ones the deployment tooling
// has always used (GATEWAY_PORT, BACKEND_HOST, AUTH_KEYS_FILE, ...).
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GATEWAY_PORT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			host, _, splitErr := net.SplitHostPort(cfg.Gateway.ListenAddress)
			if splitErr != nil || host == "" {
				host = "0.0.0.0"
			}
			cfg.Gateway.ListenAddress = net.JoinHostPort(host, strconv.Itoa(p))
		}
	}
	if val := os.Getenv("PORT_HEALTH"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Gateway.HealthListenAddress = net.JoinHostPort("0.0.0.0", strconv.Itoa(p))
		}
	}
	if val := os.Getenv("BACKEND_HOST"); val != "" {
		cfg.Backend.Host = val
	}
	if val := os.Getenv("PORT_BACKEND"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Backend.Port = p
		}
	}
	if val := os.Getenv("REQUEST_TIMEOUT"); val != "" {
		if d := parseSeconds(val); d > 0 {
			cfg.Backend.ResponseTimeout = d
		}
	}
	if val := os.Getenv("HEALTH_TIMEOUT"); val != "" {
		if d := parseSeconds(val); d > 0 {
			cfg.Backend.HealthTimeout = d
		}
	}
	if val := os.Getenv("BACKEND_API_KEY"); val != "" {
		cfg.Backend.APIKey = val
	}

	if val := os.Getenv("AUTH_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Auth.Enabled = b
		}
	}
	if val := os.Getenv("AUTH_KEYS_FILE"); val != "" {
		cfg.Auth.KeysFile = val
	}
	if val := os.Getenv("MAX_REQUESTS_PER_MINUTE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Auth.DefaultRateLimit = n
		}
	}
	if val := os.Getenv("METRICS_AUTH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Auth.MetricsAuth = b
		}
	}

	if val := os.Getenv("MAX_CONCURRENT_REQUESTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.MaxConcurrentRequests = n
		}
	}
	if val := os.Getenv("MAX_QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.MaxQueueSize = n
		}
	}

	if val := os.Getenv("MAX_REQUEST_LINE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Gateway.MaxRequestLineSize = n
		}
	}
	if val := os.Getenv("MAX_HEADERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Gateway.MaxHeaders = n
		}
	}
	if val := os.Getenv("MAX_HEADER_LINE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Gateway.MaxHeaderLineSize = n
		}
	}
	if val := os.Getenv("MAX_REQUEST_BODY_SIZE"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Gateway.MaxRequestBodySize = n
		}
	}

	if val := os.Getenv("CORS_ALLOWED_ORIGINS"); val != "" {
		cfg.CORS.AllowedOrigins = val
	}

	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Telemetry.LogFormat = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Telemetry.LogLevel = val
	}

	if val := os.Getenv("AUDIT_DB_PATH"); val != "" {
		cfg.Audit.Enabled = true
		cfg.Audit.DBPath = val
	}
}

// parseSeconds parses a timeout value that may be a bare number of seconds
// ("300") or a Go duration string ("300s", "5m").
func parseSeconds(val string) time.Duration {
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return 0
}

// joinHostPort joins a host and numeric port into a dial address.
func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
