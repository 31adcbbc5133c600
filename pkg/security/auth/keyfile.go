package auth

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Keys-file grammar, one entry per line:
//
//	key_id:secret[:rate_limit][:expiration]
//
// rate_limit is a positive integer or empty; expiration is an ISO-8601
// timestamp or empty. Trailing empty fields may be omitted. Lines starting
// with '#' and blank lines are ignored. The positional 4-field form is
// deliberate: the expiration field is split off last so its own colons
// survive.

// Secret format bounds. key_id and secret share the alnum/hyphen/underscore
// alphabet; only the lengths differ.
const (
	MinSecretLength = 16
	MaxSecretLength = 128
	MaxKeyIDLength  = 64

	// SecretPrefix is prepended to generated secrets so they are
	// recognizable in configuration and logs-gone-wrong.
	SecretPrefix = "sk-"
)

// Record is one parsed keys-file entry.
type Record struct {
	// KeyID is the human-readable identifier, never secret.
	KeyID string

	// Secret is the bearer token value.
	Secret string

	// RateLimit is the per-key requests-per-minute override; 0 means the
	// process default applies.
	RateLimit int

	// Expiration is the absolute expiry; zero means the key never expires.
	Expiration time.Time
}

// Line renders the record back into its keys-file form, omitting trailing
// empty fields.
func (r Record) Line() string {
	var sb strings.Builder
	sb.WriteString(r.KeyID)
	sb.WriteByte(':')
	sb.WriteString(r.Secret)

	hasExp := !r.Expiration.IsZero()
	if r.RateLimit > 0 || hasExp {
		sb.WriteByte(':')
		if r.RateLimit > 0 {
			sb.WriteString(strconv.Itoa(r.RateLimit))
		}
	}
	if hasExp {
		sb.WriteByte(':')
		sb.WriteString(r.Expiration.UTC().Format("2006-01-02T15:04:05"))
	}
	return sb.String()
}

// Expired reports whether the record has an expiration in the past.
func (r Record) Expired(now time.Time) bool {
	return !r.Expiration.IsZero() && r.Expiration.Before(now)
}

// ValidKeyID reports whether id is 1-64 characters of alnum/hyphen/underscore.
func ValidKeyID(id string) bool {
	return validToken(id, 1, MaxKeyIDLength)
}

// ValidSecret reports whether s is 16-128 characters of alnum/hyphen/underscore.
func ValidSecret(s string) bool {
	return validToken(s, MinSecretLength, MaxSecretLength)
}

func validToken(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, c := range []byte(s) {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// ParseLine parses a single keys-file entry. Comment and blank lines return
// (zero Record, false, nil); malformed lines return an error.
func ParseLine(line string) (Record, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Record{}, false, nil
	}

	// SplitN with 4 keeps any colons inside the expiration timestamp.
	fields := strings.SplitN(line, ":", 4)
	if len(fields) < 2 {
		return Record{}, false, fmt.Errorf("missing ':' separator")
	}

	rec := Record{
		KeyID:  strings.TrimSpace(fields[0]),
		Secret: strings.TrimSpace(fields[1]),
	}

	if !ValidKeyID(rec.KeyID) {
		return Record{}, false, fmt.Errorf("invalid key_id %q", rec.KeyID)
	}
	if !ValidSecret(rec.Secret) {
		return Record{}, false, fmt.Errorf("invalid secret format for %q", rec.KeyID)
	}

	if len(fields) >= 3 {
		if rl := strings.TrimSpace(fields[2]); rl != "" {
			n, err := strconv.Atoi(rl)
			if err != nil || n < 1 {
				return Record{}, false, fmt.Errorf("invalid rate_limit %q for %q", rl, rec.KeyID)
			}
			rec.RateLimit = n
		}
	}

	if len(fields) == 4 {
		if exp := strings.TrimSpace(fields[3]); exp != "" {
			ts, err := parseExpiration(exp)
			if err != nil {
				return Record{}, false, fmt.Errorf("invalid expiration %q for %q: %w", exp, rec.KeyID, err)
			}
			rec.Expiration = ts
		}
	}

	return rec, true, nil
}

// parseExpiration accepts RFC 3339 or the zone-less second-precision form
// the key management tooling writes ("2006-01-02T15:04:05", read as UTC).
func parseExpiration(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

// ParseError describes a keys-file line that was dropped during parsing.
type ParseError struct {
	LineNum int
	Err     error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.LineNum, e.Err)
}

// ParseKeysFile reads and parses the keys file at path. Invalid lines and
// duplicate secrets are dropped, never partially applied; the dropped lines
// are reported alongside the valid records. A missing file is an error.
func ParseKeysFile(path string) ([]Record, []ParseError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var (
		records []Record
		dropped []ParseError
		seen    = make(map[string]struct{})
	)

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		rec, ok, err := ParseLine(scanner.Text())
		if err != nil {
			dropped = append(dropped, ParseError{lineNum, err})
			continue
		}
		if !ok {
			continue
		}
		if _, dup := seen[rec.Secret]; dup {
			dropped = append(dropped, ParseError{lineNum, fmt.Errorf("duplicate secret for %q", rec.KeyID)})
			continue
		}
		seen[rec.Secret] = struct{}{}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading %q: %w", path, err)
	}

	return records, dropped, nil
}

// WriteKeysFile writes records to path via a temporary file and atomic
// rename, with 0600 permissions. Readers concurrently parsing the old file
// see either the old or the new contents, never a mix.
func WriteKeysFile(path string, records []Record) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".api_keys-*")
	if err != nil {
		return fmt.Errorf("creating temp keys file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting keys file permissions: %w", err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.WriteString(rec.Line() + "\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("writing keys file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing keys file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing keys file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing keys file: %w", err)
	}
	return nil
}

// GenerateSecret returns a new random secret with the standard prefix.
func GenerateSecret() (string, error) {
	// 24 random bytes hex-encoded plus the prefix keeps the secret well
	// inside the 16-128 character format bounds.
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(buf), nil
}
