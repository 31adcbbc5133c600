package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// OutputFormat selects how list-style command output is rendered.
type OutputFormat string

const (
	// FormatText is the human-readable default.
	FormatText OutputFormat = "text"
	// FormatJSON is machine-readable output for scripting.
	FormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --format flag value. The empty string
// means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", NewConfigError("format", fmt.Sprintf("unknown output format %q (want text or json)", s))
}

// WriteJSON writes data to w as indented JSON with a trailing newline.
func WriteJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
