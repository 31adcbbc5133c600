// Package auth implements file-based API key authentication for the
// gateway.
//
// Keys live in a flat file, one key_id:secret[:rate_limit][:expiration]
// entry per line, managed externally by the key management CLI via atomic
// replace-and-rename. The validator loads the file into an immutable
// snapshot that is swapped atomically on reload, so concurrent validations
// never observe a half-updated table.
//
// Secrets are compared only with constant-time equality, and the scan
// always covers the full table so timing reveals nothing about partial
// matches. When authentication is enabled but no keys are loaded the
// validator fails closed and rejects everything.
package auth
