package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"llamagate/llamagate/pkg/cors"
)

// streamChunkSize is the body forwarding buffer size. Small enough to keep
// token streams flowing to the client promptly, large enough that bulk
// responses are not syscall-bound.
const streamChunkSize = 8 * 1024

// strippedHeaders are removed from the client's request before forwarding.
// Hop-by-hop fields do not survive the proxy boundary, and the client's
// Authorization header is the gateway's credential, never the backend's.
var strippedHeaders = map[string]struct{}{
	"host":              {},
	"connection":        {},
	"keep-alive":        {},
	"transfer-encoding": {},
	"authorization":     {},
}

// EngineConfig configures the forwarding path.
type EngineConfig struct {
	// BackendAddress is the "host:port" dialed for every request.
	BackendAddress string

	// ConnectTimeout bounds the backend dial. Default: 5s.
	ConnectTimeout time.Duration

	// ResponseTimeout bounds each read from the backend. A timeout while
	// streaming the body ends the stream normally. Default: 300s.
	ResponseTimeout time.Duration

	// BackendAPIKey, when non-empty, is sent to the backend as a bearer
	// credential on every forwarded request.
	BackendAPIKey string
}

// Engine forwards one admitted request to the backend and streams the
// response back. Backend connections are dialed fresh per request; the
// backend is local, so a handshake per request buys isolation cheaply.
type Engine struct {
	cfg    EngineConfig
	cors   *cors.Policy
	logger *slog.Logger
}

// NewEngine creates a forwarding engine.
func NewEngine(cfg EngineConfig, policy *cors.Policy, logger *slog.Logger) *Engine {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 300 * time.Second
	}
	if policy == nil {
		policy = cors.NewPolicy("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, cors: policy, logger: logger.With("component", "engine")}
}

// ForwardResult reports what reached the client.
type ForwardResult struct {
	// Status is the backend's response status, 0 if none was read.
	Status int

	// BytesSent counts response body bytes streamed to the client.
	BytesSent int64

	// HeadersSent reports whether the response head was flushed to the
	// client. Once true, a failure can no longer be turned into a 502.
	HeadersSent bool
}

// Forward proxies req to the backend. The client's unread body is taken
// from clientReader; the response is written to client.
//
// A nil error means the backend's response was delivered, status included,
// even if the body stream ended on a read timeout. A non-nil error with
// HeadersSent false means the caller should answer 502.
func (e *Engine) Forward(ctx context.Context, client net.Conn, clientReader *bufio.Reader, req *Request) (ForwardResult, error) {
	var res ForwardResult

	dialer := net.Dialer{Timeout: e.cfg.ConnectTimeout}
	backend, err := dialer.DialContext(ctx, "tcp", e.cfg.BackendAddress)
	if err != nil {
		return res, fmt.Errorf("connecting to backend %s: %w", e.cfg.BackendAddress, err)
	}
	defer backend.Close()

	if err := e.writeForwardedRequest(backend, clientReader, req); err != nil {
		return res, err
	}

	br := bufio.NewReader(backend)

	head, status, err := e.readResponseHead(backend, br)
	if err != nil {
		return res, err
	}
	res.Status = status

	// Splice CORS lines in before the blank terminator, then flush the
	// whole head at once.
	if corsLines := e.cors.Evaluate(req.Header("Origin")); len(corsLines) > 0 {
		var spliced bytes.Buffer
		spliced.Grow(head.Len() + 256)
		spliced.Write(head.Bytes())
		for _, h := range corsLines {
			fmt.Fprintf(&spliced, "%s: %s\r\n", h.Name, h.Value)
		}
		head = &spliced
	}
	head.WriteString("\r\n")

	if _, err := client.Write(head.Bytes()); err != nil {
		return res, fmt.Errorf("writing response head to client: %w", err)
	}
	res.HeadersSent = true

	sent, err := e.streamBody(backend, br, client)
	res.BytesSent = sent
	if err != nil {
		return res, err
	}
	return res, nil
}

// writeForwardedRequest sends the rewritten request head and relays the
// client's declared body to the backend.
func (e *Engine) writeForwardedRequest(backend net.Conn, clientReader *bufio.Reader, req *Request) error {
	var head bytes.Buffer
	fmt.Fprintf(&head, "%s %s HTTP/1.1\r\n", req.Method, req.Target)
	fmt.Fprintf(&head, "Host: %s\r\n", e.cfg.BackendAddress)
	for _, h := range req.Headers {
		if _, drop := strippedHeaders[strings.ToLower(h.Name)]; drop {
			continue
		}
		fmt.Fprintf(&head, "%s: %s\r\n", h.Name, h.Value)
	}
	head.WriteString("Connection: close\r\n")
	if e.cfg.BackendAPIKey != "" {
		fmt.Fprintf(&head, "Authorization: Bearer %s\r\n", e.cfg.BackendAPIKey)
	}
	head.WriteString("\r\n")

	if _, err := backend.Write(head.Bytes()); err != nil {
		return fmt.Errorf("writing request head to backend: %w", err)
	}

	if req.ContentLength > 0 {
		if _, err := io.CopyN(backend, clientReader, req.ContentLength); err != nil {
			return fmt.Errorf("relaying request body to backend: %w", err)
		}
	}
	return nil
}

// readResponseHead reads the backend's status line and header block
// line-by-line under the response timeout, returning the head without its
// terminating blank line.
func (e *Engine) readResponseHead(backend net.Conn, br *bufio.Reader) (*bytes.Buffer, int, error) {
	head := &bytes.Buffer{}

	backend.SetReadDeadline(time.Now().Add(e.cfg.ResponseTimeout))
	statusLine, err := br.ReadString('\n')
	if err != nil {
		return nil, 0, fmt.Errorf("reading backend status line: %w", err)
	}
	status, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, 0, err
	}
	head.WriteString(statusLine)

	for {
		backend.SetReadDeadline(time.Now().Add(e.cfg.ResponseTimeout))
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, 0, fmt.Errorf("reading backend response headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		head.WriteString(line)
	}
	return head, status, nil
}

// streamBody relays the backend's body to the client in fixed-size chunks.
// Each read gets a fresh deadline; a timeout is a normal end of stream so
// that open-ended token streams drain cleanly instead of erroring.
func (e *Engine) streamBody(backend net.Conn, br *bufio.Reader, client net.Conn) (int64, error) {
	buf := make([]byte, streamChunkSize)
	var sent int64

	for {
		backend.SetReadDeadline(time.Now().Add(e.cfg.ResponseTimeout))
		n, err := br.Read(buf)
		if n > 0 {
			if _, werr := client.Write(buf[:n]); werr != nil {
				return sent, fmt.Errorf("writing response body to client: %w", werr)
			}
			sent += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || isTimeout(err) {
				return sent, nil
			}
			return sent, fmt.Errorf("reading backend response body: %w", err)
		}
	}
}

func parseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, fmt.Errorf("malformed backend status line %q", strings.TrimSpace(line))
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed backend status code %q", fields[1])
	}
	return status, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
