// Package config provides configuration management for LlamaGate.
//
// Configuration is loaded from an optional YAML file with environment
// variable overrides, in increasing precedence:
//
//  1. Built-in defaults (NewConfig)
//  2. YAML file (LoadConfig)
//  3. Environment variables (LoadConfigWithEnvOverrides)
//
// The environment variable names are the ones the deployment tooling has
// always recognized: GATEWAY_PORT, BACKEND_HOST, PORT_BACKEND,
// REQUEST_TIMEOUT, HEALTH_TIMEOUT, AUTH_ENABLED, AUTH_KEYS_FILE,
// MAX_REQUESTS_PER_MINUTE, CORS_ALLOWED_ORIGINS, MAX_CONCURRENT_REQUESTS,
// MAX_QUEUE_SIZE, MAX_REQUEST_LINE_SIZE, MAX_HEADERS, MAX_HEADER_LINE_SIZE,
// MAX_REQUEST_BODY_SIZE, BACKEND_API_KEY, METRICS_AUTH, LOG_FORMAT,
// LOG_LEVEL, PORT_HEALTH, AUDIT_DB_PATH.
//
// The final configuration is validated before use; validation collects all
// field errors rather than stopping at the first.
package config
