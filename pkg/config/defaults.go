package config

import "time"

// Default values for configuration fields.
const (
	// Gateway defaults
	DefaultListenAddress      = "0.0.0.0:8000"
	DefaultHeaderReadTimeout  = 30 * time.Second
	DefaultMaxRequestLineSize = 8192
	DefaultMaxHeaders         = 64
	DefaultMaxHeaderLineSize  = 8192
	DefaultMaxRequestBodySize = int64(10 * 1024 * 1024) // 10 MiB

	// Backend defaults
	DefaultBackendHost     = "127.0.0.1"
	DefaultBackendPort     = 8080
	DefaultConnectTimeout  = 5 * time.Second
	DefaultResponseTimeout = 300 * time.Second
	DefaultHealthTimeout   = 2 * time.Second

	// Auth defaults
	DefaultAuthEnabled = true
	DefaultKeysFile    = "/data/api_keys.txt"
	DefaultRateLimit   = 100

	// Limits defaults
	DefaultMaxConcurrentRequests = 1
	DefaultMaxQueueSize          = 0

	// Telemetry defaults
	DefaultLogFormat = "text"
	DefaultLogLevel  = "info"

	// Audit defaults
	DefaultAuditDBPath        = "data/audit.db"
	DefaultAuditRetentionDays = 90
	DefaultAuditPruneSchedule = "0 3 * * *"
)

// ApplyDefaults fills in default values for any zero-valued configuration
// fields. Booleans whose default is true are handled in NewConfig instead,
// since a zero bool is indistinguishable from an explicit false.
func ApplyDefaults(cfg *Config) {
	if cfg.Gateway.ListenAddress == "" {
		cfg.Gateway.ListenAddress = DefaultListenAddress
	}
	if cfg.Gateway.HeaderReadTimeout == 0 {
		cfg.Gateway.HeaderReadTimeout = DefaultHeaderReadTimeout
	}
	if cfg.Gateway.MaxRequestLineSize == 0 {
		cfg.Gateway.MaxRequestLineSize = DefaultMaxRequestLineSize
	}
	if cfg.Gateway.MaxHeaders == 0 {
		cfg.Gateway.MaxHeaders = DefaultMaxHeaders
	}
	if cfg.Gateway.MaxHeaderLineSize == 0 {
		cfg.Gateway.MaxHeaderLineSize = DefaultMaxHeaderLineSize
	}
	if cfg.Gateway.MaxRequestBodySize == 0 {
		cfg.Gateway.MaxRequestBodySize = DefaultMaxRequestBodySize
	}

	if cfg.Backend.Host == "" {
		cfg.Backend.Host = DefaultBackendHost
	}
	if cfg.Backend.Port == 0 {
		cfg.Backend.Port = DefaultBackendPort
	}
	if cfg.Backend.ConnectTimeout == 0 {
		cfg.Backend.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Backend.ResponseTimeout == 0 {
		cfg.Backend.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.Backend.HealthTimeout == 0 {
		cfg.Backend.HealthTimeout = DefaultHealthTimeout
	}

	if cfg.Auth.KeysFile == "" {
		cfg.Auth.KeysFile = DefaultKeysFile
	}
	if cfg.Auth.DefaultRateLimit == 0 {
		cfg.Auth.DefaultRateLimit = DefaultRateLimit
	}

	if cfg.Limits.MaxConcurrentRequests == 0 {
		cfg.Limits.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}

	if cfg.Telemetry.LogFormat == "" {
		cfg.Telemetry.LogFormat = DefaultLogFormat
	}
	if cfg.Telemetry.LogLevel == "" {
		cfg.Telemetry.LogLevel = DefaultLogLevel
	}

	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = DefaultAuditDBPath
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = DefaultAuditRetentionDays
	}
	if cfg.Audit.PruneSchedule == "" {
		cfg.Audit.PruneSchedule = DefaultAuditPruneSchedule
	}
}

// NewConfig returns a configuration populated entirely with defaults.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.Auth.Enabled = DefaultAuthEnabled
	ApplyDefaults(cfg)
	return cfg
}
