package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"llamagate/llamagate/pkg/limits/ratelimit"
)

// Failure reasons returned by Validate. RateLimited maps to 429 with
// Retry-After; everything else maps to 401.
const (
	ReasonMisconfigured = "authentication misconfigured: no API keys loaded"
	ReasonMissingHeader = "missing Authorization header"
	ReasonEmptyToken    = "empty Authorization header"
	ReasonBadFormat     = "invalid API key format"
	ReasonUnknownKey    = "invalid API key"
	ReasonExpired       = "API key expired"
	ReasonRateLimited   = "rate_limit_exceeded"

	// SentinelIdentity is the key_id reported when authentication is
	// disabled and everything is allowed through.
	SentinelIdentity = "auth-disabled"
)

// Result is the outcome of validating one request.
type Result struct {
	// OK reports whether the request is authenticated and under its
	// rate limit.
	OK bool

	// KeyID identifies the matched key when OK, and is empty otherwise.
	KeyID string

	// Reason is the failure reason when !OK.
	Reason string
}

// RateLimited reports whether the failure was a rate limit rejection
// rather than an authentication failure.
func (r Result) RateLimited() bool {
	return !r.OK && r.Reason == ReasonRateLimited
}

// Validator is the capability interface the connection handler depends on.
// The concrete implementation is KeyValidator; tests substitute doubles.
type Validator interface {
	// Validate authenticates the bearer token in the Authorization
	// header value and applies the key's rate limit.
	Validate(authorization string) Result

	// Reload re-reads the keys file and atomically swaps in the new key
	// table, returning the number of keys loaded.
	Reload() (int, error)
}

// keyTable is an immutable snapshot of the keys file. Lookups iterate
// records so the constant-time scan touches every entry; the table is
// replaced wholesale on reload, never mutated.
type keyTable struct {
	records []Record
	byID    map[string]Record
}

func newKeyTable(records []Record) *keyTable {
	t := &keyTable{
		records: records,
		byID:    make(map[string]Record, len(records)),
	}
	for _, rec := range records {
		t.byID[rec.KeyID] = rec
	}
	return t
}

// KeyValidator authenticates bearer tokens against the keys file and
// enforces per-key rate limits. Safe for concurrent use; the key table is
// an atomically swapped immutable snapshot so no in-flight validation ever
// observes a half-updated table.
type KeyValidator struct {
	enabled          bool
	keysFile         string
	defaultRateLimit int

	table   atomic.Pointer[keyTable]
	limiter *ratelimit.WindowLimiter
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// Options configures a KeyValidator.
type Options struct {
	// Enabled controls whether authentication is enforced at all.
	Enabled bool

	// KeysFile is the path reloads read from.
	KeysFile string

	// DefaultRateLimit applies to keys without a per-key override.
	DefaultRateLimit int

	// Logger receives load/reload diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// NewKeyValidator creates a validator and performs the initial key load.
// A missing or unreadable keys file is not fatal: the validator starts
// with an empty table and fails closed until a reload succeeds.
func NewKeyValidator(opts Options) *KeyValidator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := &KeyValidator{
		enabled:          opts.Enabled,
		keysFile:         opts.KeysFile,
		defaultRateLimit: opts.DefaultRateLimit,
		limiter:          ratelimit.NewWindowLimiter(),
		logger:           logger.With("component", "auth"),
		now:              time.Now,
	}
	v.table.Store(newKeyTable(nil))

	if !v.enabled {
		v.logger.Warn("authentication disabled, all requests will be accepted")
		return v
	}

	if n, err := v.Reload(); err != nil {
		v.logger.Warn("initial key load failed, rejecting all requests until reload",
			"keys_file", v.keysFile, "error", err)
	} else if n == 0 {
		v.logger.Warn("no API keys configured, rejecting all requests",
			"keys_file", v.keysFile)
	} else {
		v.logger.Info("authentication enabled", "keys_loaded", n)
	}

	return v
}

// Enabled reports whether authentication is enforced.
func (v *KeyValidator) Enabled() bool {
	return v.enabled
}

// KeyCount returns the number of keys in the current table.
func (v *KeyValidator) KeyCount() int {
	return len(v.table.Load().records)
}

// Validate authenticates the given Authorization header value.
//
// The token is compared against every stored secret with constant-time
// equality, continuing through the whole table even after a match, so
// response timing reveals nothing about which entry matched or whether any
// did.
func (v *KeyValidator) Validate(authorization string) Result {
	if !v.enabled {
		return Result{OK: true, KeyID: SentinelIdentity}
	}

	table := v.table.Load()

	// Fail closed: enabled auth with no keys rejects everything.
	if len(table.records) == 0 {
		return Result{Reason: ReasonMisconfigured}
	}

	if authorization == "" {
		return Result{Reason: ReasonMissingHeader}
	}

	token := extractBearer(authorization)
	if token == "" {
		return Result{Reason: ReasonEmptyToken}
	}
	if !ValidSecret(token) {
		return Result{Reason: ReasonBadFormat}
	}

	matched := -1
	tokenBytes := []byte(token)
	for i := range table.records {
		// No early exit: every entry is compared regardless of matches.
		if subtle.ConstantTimeCompare([]byte(table.records[i].Secret), tokenBytes) == 1 {
			matched = i
		}
	}
	if matched < 0 {
		return Result{Reason: ReasonUnknownKey}
	}

	rec := table.records[matched]
	if rec.Expired(v.now()) {
		return Result{Reason: ReasonExpired}
	}

	limit := rec.RateLimit
	if limit <= 0 {
		limit = v.defaultRateLimit
	}
	if !v.limiter.Allow(rec.KeyID, limit) {
		return Result{Reason: ReasonRateLimited}
	}

	return Result{OK: true, KeyID: rec.KeyID}
}

// Reload re-reads the keys file, rebuilds the key table, and swaps it in
// atomically. Rate-window history is preserved for key_ids that still
// exist and discarded for removed keys. Returns the number of keys loaded.
func (v *KeyValidator) Reload() (int, error) {
	records, dropped, err := ParseKeysFile(v.keysFile)
	if err != nil {
		return 0, fmt.Errorf("loading keys from %q: %w", v.keysFile, err)
	}
	for _, d := range dropped {
		v.logger.Warn("dropping invalid keys-file line", "keys_file", v.keysFile, "detail", d.Error())
	}

	v.table.Store(newKeyTable(records))

	keep := make(map[string]struct{}, len(records))
	for _, rec := range records {
		keep[rec.KeyID] = struct{}{}
	}
	v.limiter.Retain(keep)

	return len(records), nil
}

// RateWindowCount returns how many requests key_id has made in the current
// window. Exposed for the health endpoint and tests.
func (v *KeyValidator) RateWindowCount(keyID string) int {
	return v.limiter.Count(keyID)
}

// BackdateWindow shifts key_id's recorded request timestamps into the
// past. Test hook for aging rate windows without sleeping.
func (v *KeyValidator) BackdateWindow(keyID string, d time.Duration) {
	v.limiter.Backdate(keyID, d)
}

// extractBearer strips a case-insensitive "Bearer " prefix and surrounding
// whitespace from an Authorization header value. A header without the
// prefix is treated as a bare token.
func extractBearer(authorization string) string {
	s := strings.TrimSpace(authorization)
	if len(s) >= 7 && strings.EqualFold(s[:7], "Bearer ") {
		s = strings.TrimSpace(s[7:])
	}
	return s
}
