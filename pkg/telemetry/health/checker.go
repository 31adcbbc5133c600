// Package health implements the gateway's backend health probe, the
// /health payload, and the trivial liveness side port.
package health

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// BackendStatus is the result of probing the backend's /health endpoint.
type BackendStatus struct {
	// Status is "ok", "timeout", or "error".
	Status string `json:"status"`

	// Code is the HTTP status the backend answered with, when reachable.
	Code int `json:"code,omitempty"`

	// Backend holds the backend's own health JSON when it parses.
	Backend json.RawMessage `json:"backend,omitempty"`

	// BackendRaw holds a truncated raw body when it is not JSON.
	BackendRaw string `json:"backend_raw,omitempty"`

	// Error describes the probe failure, if any.
	Error string `json:"error,omitempty"`
}

// Checker probes the inference backend.
type Checker struct {
	address string
	timeout time.Duration
}

// NewChecker creates a checker for the backend at address ("host:port").
// A timeout of 0 defaults to 2 seconds.
func NewChecker(address string, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{address: address, timeout: timeout}
}

// Ready reports whether the backend is accepting TCP connections.
// Used as a fast readiness signal without issuing a request.
func (c *Checker) Ready() bool {
	conn, err := net.DialTimeout("tcp", c.address, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Probe issues a GET /health to the backend over a fresh connection and
// reports the outcome. Probe never returns an error: failures are encoded
// in the returned status so the /health endpoint can always answer 200.
func (c *Checker) Probe(ctx context.Context) BackendStatus {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		if isTimeout(err) {
			return BackendStatus{Status: "timeout", Error: "backend health check timed out"}
		}
		return BackendStatus{Status: "error", Error: err.Error()}
	}
	defer conn.Close()
	conn.SetDeadline(deadline)

	request := fmt.Sprintf("GET /health HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", c.address)
	if _, err := io.WriteString(conn, request); err != nil {
		return BackendStatus{Status: "error", Error: err.Error()}
	}

	br := bufio.NewReader(conn)

	statusLine, err := br.ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			return BackendStatus{Status: "timeout", Error: "backend health check timed out"}
		}
		return BackendStatus{Status: "error", Error: err.Error()}
	}

	code := parseStatusCode(statusLine)

	// Skip response headers.
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return BackendStatus{Status: "ok", Code: code}
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	// Read a bounded amount of body; the backend's health JSON is small.
	body, _ := io.ReadAll(io.LimitReader(br, 4096))
	body = []byte(strings.TrimSpace(string(body)))

	status := BackendStatus{Status: "ok", Code: code}
	if json.Valid(body) && len(body) > 0 {
		status.Backend = json.RawMessage(body)
	} else if len(body) > 0 {
		raw := string(body)
		if len(raw) > 200 {
			raw = raw[:200]
		}
		status.BackendRaw = raw
	}
	return status
}

// parseStatusCode extracts the status code from an HTTP/1.1 status line.
func parseStatusCode(line string) int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
