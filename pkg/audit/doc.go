// Package audit persists per-request access records to a local SQLite
// database and prunes them on a retention schedule.
//
// The store is optional. When no database path is configured the gateway
// runs with the access log alone; when enabled, every proxied request is
// recorded with its key id, method, path, status, byte count, and timing,
// giving operators a queryable history beyond the rolling log stream.
package audit
