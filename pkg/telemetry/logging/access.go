package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// AccessEntry is one proxied request's access-log record.
type AccessEntry struct {
	// Timestamp is when the request completed.
	Timestamp time.Time

	// KeyID identifies the authenticated key, or a sentinel like
	// "auth-disabled" / "unknown".
	KeyID string

	// Method and Path are taken from the client's request line.
	Method string
	Path   string

	// Status is the HTTP status returned to the client.
	Status int
}

// AccessLogger writes one line per proxied request, either pipe-delimited
// text or JSON lines. Field values are sanitized so a hostile path or key
// id cannot forge extra log lines or break the delimiter structure.
// Safe for concurrent use.
type AccessLogger struct {
	mu     sync.Mutex
	w      io.Writer
	asJSON bool
}

// NewAccessLogger creates an access logger writing to w.
// format selects "json" lines; anything else produces pipe-delimited text.
func NewAccessLogger(w io.Writer, format string) *AccessLogger {
	return &AccessLogger{w: w, asJSON: format == "json"}
}

// Log writes one access entry. Write failures are returned so the caller
// can count them, but a failed access log never fails the request itself.
func (l *AccessLogger) Log(e AccessEntry) error {
	var line []byte

	if l.asJSON {
		payload := struct {
			TS     string `json:"ts"`
			KeyID  string `json:"key_id"`
			Method string `json:"method"`
			Path   string `json:"path"`
			Status int    `json:"status"`
		}{
			TS:     e.Timestamp.Format(time.RFC3339Nano),
			KeyID:  e.KeyID,
			Method: e.Method,
			Path:   e.Path,
			Status: e.Status,
		}
		var err error
		line, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding access entry: %w", err)
		}
	} else {
		line = []byte(fmt.Sprintf("%s | %s | %s %s | %d",
			e.Timestamp.Format(time.RFC3339Nano),
			Sanitize(e.KeyID),
			Sanitize(e.Method),
			Sanitize(e.Path),
			e.Status,
		))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(append(line, '\n'))
	return err
}

// sanitizeReplacer maps the characters that would break the line- and
// pipe-delimited format to underscores.
var sanitizeReplacer = strings.NewReplacer(
	"\n", "_",
	"\r", "_",
	"\t", "_",
	"|", "_",
)

// Sanitize replaces newline, carriage return, tab, and pipe characters in
// a log field with underscores to prevent log injection.
func Sanitize(field string) string {
	return sanitizeReplacer.Replace(field)
}
