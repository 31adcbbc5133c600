package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"llamagate/llamagate/pkg/cors"
	"llamagate/llamagate/pkg/limits"
	"llamagate/llamagate/pkg/security/auth"
	"llamagate/llamagate/pkg/telemetry/health"
	"llamagate/llamagate/pkg/telemetry/logging"
	"llamagate/llamagate/pkg/telemetry/metrics"
)

const fixtureSecret = "sk-test000011112222"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixtureOpts struct {
	cfg          HandlerConfig
	gateCapacity int
	gateQueue    int
	keysLine     string
	corsOrigins  string
	authDisabled bool
}

type gatewayFixture struct {
	addr   string
	access *syncBuffer
}

// startGateway wires a full handler behind a real listener.
func startGateway(t *testing.T, backendAddr string, opts fixtureOpts) *gatewayFixture {
	t.Helper()

	if opts.gateCapacity == 0 {
		opts.gateCapacity = 4
	}
	if opts.keysLine == "" {
		opts.keysLine = "test:" + fixtureSecret + ":100"
	}

	keysFile := filepath.Join(t.TempDir(), "api_keys.txt")
	if err := os.WriteFile(keysFile, []byte(opts.keysLine+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	validator := auth.NewKeyValidator(auth.Options{
		Enabled:          !opts.authDisabled,
		KeysFile:         keysFile,
		DefaultRateLimit: 100,
		Logger:           discardLogger(),
	})

	gate := limits.NewGate(opts.gateCapacity, opts.gateQueue)
	collector := metrics.NewCollector()
	collector.RegisterQueue(gate)

	policy := cors.NewPolicy(opts.corsOrigins)
	engine := NewEngine(EngineConfig{
		BackendAddress:  backendAddr,
		ConnectTimeout:  time.Second,
		ResponseTimeout: 2 * time.Second,
	}, policy, discardLogger())

	reporter := health.NewReporter(
		health.NewChecker(backendAddr, time.Second),
		gate, collector, !opts.authDisabled)

	access := &syncBuffer{}
	handler := NewHandler(opts.cfg, Dependencies{
		Validator: validator,
		Gate:      gate,
		Engine:    engine,
		CORS:      policy,
		Metrics:   collector,
		Health:    reporter,
		Access:    logging.NewAccessLogger(access, "text"),
		Logger:    discardLogger(),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handler.Handle(context.Background(), conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })

	return &gatewayFixture{addr: ln.Addr().String(), access: access}
}

// rawExchange sends raw bytes and returns everything the gateway answers.
func rawExchange(t *testing.T, addr, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return string(got)
}

func authedRequest(method, path string) string {
	return method + " " + path + " HTTP/1.1\r\n" +
		"Host: gateway.local\r\n" +
		"Authorization: Bearer " + fixtureSecret + "\r\n" +
		"\r\n"
}

func TestHandlerRejectsOversizedBodyWithoutReading(t *testing.T) {
	gw := startGateway(t, "127.0.0.1:1", fixtureOpts{
		cfg: HandlerConfig{Limits: Limits{MaxBodySize: 100}},
	})

	// Declare a large body but never send a byte of it. The 413 must
	// arrive anyway, proving the body is not read.
	raw := "POST /v1/chat/completions HTTP/1.1\r\n" +
		"Authorization: Bearer " + fixtureSecret + "\r\n" +
		"Content-Length: 99999\r\n" +
		"\r\n"
	got := rawExchange(t, gw.addr, raw)

	if !strings.HasPrefix(got, "HTTP/1.1 413 ") {
		t.Fatalf("response = %q, want 413", got)
	}
	if !strings.Contains(got, "payload_too_large") {
		t.Errorf("413 body missing code: %q", got)
	}
}

func TestHandlerAuthRejectionNotCountedAsAttempt(t *testing.T) {
	gw := startGateway(t, "127.0.0.1:1", fixtureOpts{})

	got := rawExchange(t, gw.addr,
		"POST /v1/chat/completions HTTP/1.1\r\n"+
			"Authorization: Bearer sk-wrongwrongwrong1\r\n"+
			"\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 401 ") {
		t.Fatalf("response = %q, want 401", got)
	}

	got = rawExchange(t, gw.addr, "GET /metrics HTTP/1.1\r\n\r\n")
	_, body, ok := strings.Cut(got, "\r\n\r\n")
	if !ok {
		t.Fatalf("no body in metrics response: %q", got)
	}
	var snap map[string]float64
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("decoding metrics: %v", err)
	}
	if snap["requests_unauthorized"] != 1 {
		t.Errorf("requests_unauthorized = %v, want 1", snap["requests_unauthorized"])
	}
	if snap["requests_total"] != 0 {
		t.Errorf("requests_total = %v, want 0 (rejected requests are not proxy attempts)", snap["requests_total"])
	}
	if snap["requests_active"] != 0 {
		t.Errorf("requests_active = %v, want 0", snap["requests_active"])
	}
}

func TestHandlerLimitRejectionCarriesCORS(t *testing.T) {
	gw := startGateway(t, "127.0.0.1:1", fixtureOpts{
		cfg:         HandlerConfig{Limits: Limits{MaxBodySize: 100}},
		corsOrigins: "https://app.example.com",
	})

	raw := "POST /v1/chat/completions HTTP/1.1\r\n" +
		"Origin: https://app.example.com\r\n" +
		"Content-Length: 99999\r\n" +
		"\r\n"
	got := rawExchange(t, gw.addr, raw)

	if !strings.HasPrefix(got, "HTTP/1.1 413 ") {
		t.Fatalf("response = %q, want 413", got)
	}
	if !strings.Contains(got, "Access-Control-Allow-Origin: https://app.example.com\r\n") {
		t.Errorf("413 for an allowed origin missing CORS headers: %q", got)
	}

	// An origin outside the allow list gets the same rejection bare.
	raw = "POST /v1/chat/completions HTTP/1.1\r\n" +
		"Origin: https://evil.example.com\r\n" +
		"Content-Length: 99999\r\n" +
		"\r\n"
	got = rawExchange(t, gw.addr, raw)
	if !strings.HasPrefix(got, "HTTP/1.1 413 ") {
		t.Fatalf("response = %q, want 413", got)
	}
	if strings.Contains(got, "Access-Control-Allow-Origin") {
		t.Errorf("413 for a denied origin leaked CORS headers: %q", got)
	}
}

func TestHandlerHeaderCountLimit(t *testing.T) {
	gw := startGateway(t, "127.0.0.1:1", fixtureOpts{
		cfg: HandlerConfig{Limits: Limits{MaxHeaders: 3}},
	})

	got := rawExchange(t, gw.addr,
		"GET /v1/models HTTP/1.1\r\nA: 1\r\nB: 2\r\nC: 3\r\nD: 4\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 431 ") {
		t.Fatalf("response = %q, want 431", got)
	}
	if !strings.Contains(got, "header_fields_too_large") {
		t.Errorf("431 body missing code: %q", got)
	}
}

func TestHandlerPreflightBypassesAuth(t *testing.T) {
	gw := startGateway(t, "127.0.0.1:1", fixtureOpts{
		corsOrigins: "https://app.example.com",
	})

	got := rawExchange(t, gw.addr,
		"OPTIONS /v1/chat/completions HTTP/1.1\r\nOrigin: https://app.example.com\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 204 ") {
		t.Fatalf("response = %q, want 204", got)
	}
	if !strings.Contains(got, "Access-Control-Allow-Origin: https://app.example.com") {
		t.Errorf("preflight missing CORS grant: %q", got)
	}

	// Unknown origin still gets 204, just without the grant.
	got = rawExchange(t, gw.addr,
		"OPTIONS /v1/chat/completions HTTP/1.1\r\nOrigin: https://evil.example\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 204 ") {
		t.Fatalf("response = %q, want 204", got)
	}
	if strings.Contains(got, "Access-Control") {
		t.Errorf("CORS grant for unknown origin: %q", got)
	}
}

func TestHandlerPing(t *testing.T) {
	gw := startGateway(t, "127.0.0.1:1", fixtureOpts{})

	got := rawExchange(t, gw.addr, "GET /ping HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 200 ") {
		t.Fatalf("response = %q, want 200", got)
	}
	if !strings.Contains(got, "Content-Length: 0") {
		t.Errorf("ping should have an empty body: %q", got)
	}
}

func TestHandlerHealth(t *testing.T) {
	backend := startRecordingBackend(t, func(c net.Conn) {
		io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 15\r\nConnection: close\r\n\r\n{\"status\":\"ok\"}")
	})
	gw := startGateway(t, backend.addr(), fixtureOpts{})

	got := rawExchange(t, gw.addr, "GET /health HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 200 ") {
		t.Fatalf("response = %q, want 200", got)
	}
	for _, want := range []string{`"auth_enabled":true`, `"queue"`, `"backend"`, `"status":"ok"`} {
		if !strings.Contains(got, want) {
			t.Errorf("health payload missing %s: %q", want, got)
		}
	}
}

func TestHandlerMetricsFormats(t *testing.T) {
	gw := startGateway(t, "127.0.0.1:1", fixtureOpts{})

	got := rawExchange(t, gw.addr, "GET /metrics HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 200 ") || !strings.Contains(got, `"requests_total"`) {
		t.Errorf("JSON metrics = %q", got)
	}

	got = rawExchange(t, gw.addr, "GET /metrics HTTP/1.1\r\nAccept: text/plain\r\n\r\n")
	if !strings.Contains(got, "# HELP llamagate_requests_total") {
		t.Errorf("text metrics = %q", got)
	}
}

func TestHandlerMetricsAuthToggle(t *testing.T) {
	gw := startGateway(t, "127.0.0.1:1", fixtureOpts{
		cfg: HandlerConfig{MetricsAuth: true},
	})

	got := rawExchange(t, gw.addr, "GET /metrics HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 401 ") {
		t.Fatalf("unauthenticated /metrics = %q, want 401", got)
	}

	got = rawExchange(t, gw.addr, authedRequest("GET", "/metrics"))
	if !strings.HasPrefix(got, "HTTP/1.1 200 ") {
		t.Errorf("authenticated /metrics = %q, want 200", got)
	}
}

func TestHandlerAuthRejection(t *testing.T) {
	gw := startGateway(t, "127.0.0.1:1", fixtureOpts{})

	got := rawExchange(t, gw.addr, "POST /v1/chat/completions HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 401 ") {
		t.Fatalf("response = %q, want 401", got)
	}
	if !strings.Contains(got, "invalid_api_key") {
		t.Errorf("401 body missing code: %q", got)
	}

	if log := gw.access.String(); !strings.Contains(log, "unknown") || !strings.Contains(log, "401") {
		t.Errorf("access log missing 401 entry: %q", log)
	}
}

func TestHandlerProxiesAuthenticatedRequest(t *testing.T) {
	backend := startRecordingBackend(t, func(c net.Conn) {
		io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
	})
	gw := startGateway(t, backend.addr(), fixtureOpts{})

	got := rawExchange(t, gw.addr, authedRequest("POST", "/v1/chat/completions"))
	if !strings.HasPrefix(got, "HTTP/1.1 200 ") || !strings.HasSuffix(got, "ok") {
		t.Fatalf("response = %q", got)
	}

	// Wait for the access entry; it is written after the response.
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(gw.access.String(), "200") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	log := gw.access.String()
	if !strings.Contains(log, "test | POST /v1/chat/completions | 200") {
		t.Errorf("access log = %q", log)
	}
}

func TestHandlerAuthDisabledSentinel(t *testing.T) {
	backend := startRecordingBackend(t, func(c net.Conn) {
		io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	})
	gw := startGateway(t, backend.addr(), fixtureOpts{authDisabled: true})

	got := rawExchange(t, gw.addr, "POST /v1/chat/completions HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 200 ") {
		t.Fatalf("response = %q, want 200 with auth disabled", got)
	}

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(gw.access.String(), "auth-disabled") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(gw.access.String(), "auth-disabled") {
		t.Errorf("access log = %q", gw.access.String())
	}
}

func TestHandlerRateLimit(t *testing.T) {
	backend := startRecordingBackend(t, func(c net.Conn) {
		io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	})
	gw := startGateway(t, backend.addr(), fixtureOpts{
		keysLine: "test:" + fixtureSecret + ":2",
	})

	for i := 0; i < 2; i++ {
		got := rawExchange(t, gw.addr, authedRequest("POST", "/v1/completions"))
		if !strings.HasPrefix(got, "HTTP/1.1 200 ") {
			t.Fatalf("request %d = %q, want 200", i+1, got)
		}
	}

	got := rawExchange(t, gw.addr, authedRequest("POST", "/v1/completions"))
	if !strings.HasPrefix(got, "HTTP/1.1 429 ") {
		t.Fatalf("third request = %q, want 429", got)
	}
	if !strings.Contains(got, "Retry-After: 60") || !strings.Contains(got, "rate_limit_exceeded") {
		t.Errorf("429 response incomplete: %q", got)
	}
}

func TestHandlerQueueFull(t *testing.T) {
	backend := startRecordingBackend(t, func(c net.Conn) {
		time.Sleep(600 * time.Millisecond)
		io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	})
	gw := startGateway(t, backend.addr(), fixtureOpts{
		gateCapacity: 1,
		gateQueue:    1,
	})

	results := make(chan string, 3)
	for i := 0; i < 3; i++ {
		go func() {
			results <- rawExchange(t, gw.addr, authedRequest("POST", "/v1/completions"))
		}()
		// Stagger so slot, queue, and rejection are deterministic.
		time.Sleep(150 * time.Millisecond)
	}

	var ok, rejected int
	for i := 0; i < 3; i++ {
		got := <-results
		switch {
		case strings.HasPrefix(got, "HTTP/1.1 200 "):
			ok++
		case strings.HasPrefix(got, "HTTP/1.1 503 "):
			rejected++
			if !strings.Contains(got, "queue_full") || !strings.Contains(got, "Retry-After: 5") {
				t.Errorf("503 response incomplete: %q", got)
			}
		default:
			t.Errorf("unexpected response: %q", got)
		}
	}
	if ok != 2 || rejected != 1 {
		t.Errorf("ok=%d rejected=%d, want 2 and 1", ok, rejected)
	}
}

func TestHandlerBackendDown502(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := ln.Addr().String()
	ln.Close()

	gw := startGateway(t, deadAddr, fixtureOpts{})

	got := rawExchange(t, gw.addr, authedRequest("POST", "/v1/chat/completions"))
	if !strings.HasPrefix(got, "HTTP/1.1 502 ") {
		t.Fatalf("response = %q, want 502", got)
	}
	if !strings.Contains(got, "bad_gateway") {
		t.Errorf("502 body missing code: %q", got)
	}

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(gw.access.String(), "502") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(gw.access.String(), "502") {
		t.Errorf("access log missing 502 entry: %q", gw.access.String())
	}
}
