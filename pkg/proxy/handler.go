package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"llamagate/llamagate/pkg/audit"
	"llamagate/llamagate/pkg/cors"
	"llamagate/llamagate/pkg/limits"
	"llamagate/llamagate/pkg/security/auth"
	"llamagate/llamagate/pkg/telemetry/health"
	"llamagate/llamagate/pkg/telemetry/logging"
	"llamagate/llamagate/pkg/telemetry/metrics"
)

// HandlerConfig configures the per-connection orchestrator.
type HandlerConfig struct {
	// Limits bound the request head and declared body size.
	Limits Limits

	// HeaderReadTimeout bounds reads of the request line and headers.
	// Default: 30s.
	HeaderReadTimeout time.Duration

	// RequestTimeout bounds reads of the client's request body while it
	// is relayed to the backend. Default: 300s.
	RequestTimeout time.Duration

	// MetricsAuth requires a valid API key for /metrics.
	MetricsAuth bool
}

// Dependencies are the handler's collaborators. Audit may be nil.
type Dependencies struct {
	Validator auth.Validator
	Gate      *limits.Gate
	Engine    *Engine
	CORS      *cors.Policy
	Metrics   *metrics.Collector
	Health    *health.Reporter
	Access    *logging.AccessLogger
	Audit     *audit.Store
	Logger    *slog.Logger
}

// Handler processes one client connection end to end: parse, route,
// authenticate, admit, proxy, log, close. It is the error boundary for
// the connection; nothing it does can take the accept loop down.
type Handler struct {
	cfg  HandlerConfig
	deps Dependencies
}

// NewHandler creates a connection handler.
func NewHandler(cfg HandlerConfig, deps Dependencies) *Handler {
	if cfg.HeaderReadTimeout <= 0 {
		cfg.HeaderReadTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "handler")
	return &Handler{cfg: cfg, deps: deps}
}

// Handle serves one connection. It never panics outward and always closes
// conn, no matter where processing stopped.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	logger := h.deps.Logger.With("conn_id", connID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("connection handler panicked", "panic", r)
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("closing client connection", "error", err)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(h.cfg.HeaderReadTimeout))
	br := bufio.NewReader(conn)

	req, err := ReadRequest(br, h.cfg.Limits)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			logger.Warn("request rejected at protocol boundary",
				"status", perr.Status, "code", perr.Code)
			// The partial request still carries any Origin header read
			// before the rejection.
			var corsLines []cors.HeaderLine
			if req != nil {
				corsLines = h.deps.CORS.Evaluate(req.Header("Origin"))
			}
			if werr := WriteProtocolError(conn, perr, corsLines); werr != nil {
				logger.Debug("writing protocol error", "error", werr)
			}
		}
		return
	}

	// Body reads from here on are bounded by the request timeout.
	conn.SetReadDeadline(time.Now().Add(h.cfg.RequestTimeout))

	corsLines := h.deps.CORS.Evaluate(req.Header("Origin"))

	// Preflight and operational endpoints bypass auth and the gate.
	switch {
	case req.Method == "OPTIONS":
		h.writeAndLogDebug(logger, "preflight", WriteNoContent(conn, corsLines))
		return
	case req.Target == "/ping":
		h.writeAndLogDebug(logger, "ping", WriteResponse(conn, 200, "", corsLines, nil, nil))
		return
	case req.Target == "/health":
		h.serveHealth(ctx, conn, logger)
		return
	case req.Target == "/metrics":
		h.serveMetrics(conn, req, corsLines, logger)
		return
	}

	h.proxyRequest(ctx, conn, br, req, corsLines, logger)
}

// proxyRequest drives the authenticated, gated forwarding path.
func (h *Handler) proxyRequest(ctx context.Context, conn net.Conn, br *bufio.Reader, req *Request, corsLines []cors.HeaderLine, logger *slog.Logger) {
	start := time.Now()

	result := h.deps.Validator.Validate(req.Header("Authorization"))
	if !result.OK {
		h.deps.Metrics.RequestUnauthorized()
		status := 401
		var werr error
		if result.RateLimited() {
			status = 429
			werr = WriteError(conn, 429, ErrorBody{
				Message: "Rate limit exceeded. Please slow down your requests.",
				Type:    "rate_limit_error",
				Code:    "rate_limit_exceeded",
			}, corsLines, 60)
		} else {
			werr = WriteError(conn, 401, ErrorBody{
				Message: result.Reason,
				Type:    "invalid_request_error",
				Param:   "authorization",
				Code:    "invalid_api_key",
			}, corsLines, 0)
		}
		h.writeAndLogDebug(logger, "auth rejection", werr)
		h.logAccess(ctx, conn, req, "unknown", status, 0, start)
		return
	}
	keyID := result.KeyID
	h.deps.Metrics.RequestAuthenticated()

	release, err := h.deps.Gate.Admit(ctx)
	if err != nil {
		if errors.Is(err, limits.ErrQueueFull) {
			logger.Warn("admission queue full", "key_id", keyID)
			werr := WriteError(conn, 503, ErrorBody{
				Message: "Server is busy. Please retry shortly.",
				Type:    "server_error",
				Code:    "queue_full",
			}, corsLines, 5)
			h.writeAndLogDebug(logger, "queue rejection", werr)
			h.logAccess(ctx, conn, req, keyID, 503, 0, start)
		}
		return
	}
	defer release()

	// Totals count actual proxy attempts; auth and queue rejections have
	// their own counters.
	h.deps.Metrics.RequestStarted()
	defer h.deps.Metrics.RequestFinished()

	res, err := h.deps.Engine.Forward(ctx, conn, br, req)
	status := res.Status
	if err != nil {
		h.deps.Metrics.RequestFailed()
		status = 502
		logger.Warn("proxy request failed",
			"key_id", keyID, "path", req.Target,
			"headers_sent", res.HeadersSent, "error", err)
		if !res.HeadersSent {
			werr := WriteError(conn, 502, ErrorBody{
				Message: "Backend request failed.",
				Type:    "api_error",
				Code:    "bad_gateway",
			}, corsLines, 0)
			h.writeAndLogDebug(logger, "backend failure response", werr)
		}
	} else {
		h.deps.Metrics.RequestSucceeded()
		h.deps.Metrics.AddBytesSent(res.BytesSent)
	}

	h.logAccess(ctx, conn, req, keyID, status, res.BytesSent, start)
}

func (h *Handler) serveHealth(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	payload := h.deps.Health.Report(ctx)
	h.writeAndLogDebug(logger, "health response", WriteJSON(conn, payload))
}

func (h *Handler) serveMetrics(conn net.Conn, req *Request, corsLines []cors.HeaderLine, logger *slog.Logger) {
	if h.cfg.MetricsAuth {
		result := h.deps.Validator.Validate(req.Header("Authorization"))
		if !result.OK {
			h.deps.Metrics.RequestUnauthorized()
			werr := WriteError(conn, 401, ErrorBody{
				Message: result.Reason,
				Type:    "invalid_request_error",
				Param:   "authorization",
				Code:    "invalid_api_key",
			}, corsLines, 0)
			h.writeAndLogDebug(logger, "metrics auth rejection", werr)
			return
		}
	}

	if metrics.WantsTextFormat(req.Header("Accept")) {
		var buf bytes.Buffer
		if err := h.deps.Metrics.WriteText(&buf); err != nil {
			logger.Error("rendering metrics", "error", err)
			return
		}
		werr := WriteResponse(conn, 200, "text/plain; version=0.0.4; charset=utf-8", corsLines, nil, buf.Bytes())
		h.writeAndLogDebug(logger, "metrics response", werr)
		return
	}

	snap, err := h.deps.Metrics.Snapshot()
	if err != nil {
		logger.Error("gathering metrics", "error", err)
		return
	}
	h.writeAndLogDebug(logger, "metrics response", WriteJSON(conn, snap))
}

// logAccess emits the access-log line and, when configured, the audit
// record. Neither failure affects the already-answered request.
func (h *Handler) logAccess(ctx context.Context, conn net.Conn, req *Request, keyID string, status int, bytesSent int64, start time.Time) {
	entry := logging.AccessEntry{
		Timestamp: time.Now(),
		KeyID:     keyID,
		Method:    req.Method,
		Path:      req.Target,
		Status:    status,
	}
	if err := h.deps.Access.Log(entry); err != nil {
		h.deps.Logger.Warn("writing access log", "error", err)
	}

	if h.deps.Audit != nil {
		record := audit.Record{
			Timestamp:  entry.Timestamp.UTC(),
			KeyID:      keyID,
			Method:     req.Method,
			Path:       req.Target,
			Status:     status,
			BytesSent:  bytesSent,
			DurationMS: time.Since(start).Milliseconds(),
			RemoteAddr: conn.RemoteAddr().String(),
		}
		if err := h.deps.Audit.Record(ctx, record); err != nil {
			h.deps.Logger.Warn("writing audit record", "error", err)
		}
	}
}

// writeAndLogDebug reports response write failures at debug level; the
// client is already gone and there is nothing further to do.
func (h *Handler) writeAndLogDebug(logger *slog.Logger, what string, err error) {
	if err != nil {
		logger.Debug("writing "+what, "error", err)
	}
}
