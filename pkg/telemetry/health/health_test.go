package health

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeBackend answers one raw HTTP exchange per accepted connection.
func fakeBackend(t *testing.T, status int, body string) net.Listener {
	t.Helper()
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
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				for {
					line, err := br.ReadString('\n')
					if err != nil || line == "\r\n" || line == "\n" {
						break
					}
				}
				fmt.Fprintf(c, "HTTP/1.1 %d X\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
					status, len(body), body)
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestProbeHealthyBackend(t *testing.T) {
	ln := fakeBackend(t, 200, `{"status":"ok","model":"loaded"}`)

	c := NewChecker(ln.Addr().String(), 2*time.Second)
	got := c.Probe(context.Background())

	if got.Status != "ok" || got.Code != 200 {
		t.Fatalf("Probe = %+v, want ok/200", got)
	}
	var inner map[string]string
	if err := json.Unmarshal(got.Backend, &inner); err != nil {
		t.Fatalf("backend payload not JSON: %v", err)
	}
	if inner["model"] != "loaded" {
		t.Errorf("backend payload = %v", inner)
	}
}

func TestProbeNonJSONBody(t *testing.T) {
	ln := fakeBackend(t, 503, "loading model, try later")

	c := NewChecker(ln.Addr().String(), 2*time.Second)
	got := c.Probe(context.Background())

	if got.Status != "ok" || got.Code != 503 {
		t.Fatalf("Probe = %+v, want ok/503", got)
	}
	if got.Backend != nil {
		t.Errorf("non-JSON body should not populate Backend: %q", got.Backend)
	}
	if !strings.Contains(got.BackendRaw, "loading model") {
		t.Errorf("BackendRaw = %q", got.BackendRaw)
	}
}

func TestProbeUnreachableBackend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewChecker(addr, time.Second)
	got := c.Probe(context.Background())
	if got.Status == "ok" {
		t.Fatalf("probe of closed port reported ok: %+v", got)
	}
	if got.Error == "" {
		t.Error("expected an error description")
	}
}

func TestProbeTimeout(t *testing.T) {
	// Accepts but never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	c := NewChecker(ln.Addr().String(), 100*time.Millisecond)
	got := c.Probe(context.Background())
	if got.Status != "timeout" {
		t.Fatalf("Probe = %+v, want timeout", got)
	}
}

type fakeOccupancy struct{}

func (fakeOccupancy) Capacity() int { return 4 }
func (fakeOccupancy) Active() int   { return 1 }
func (fakeOccupancy) Depth() int64  { return 2 }

type fakeMetrics struct{}

func (fakeMetrics) Snapshot() (map[string]float64, error) {
	return map[string]float64{"requests_total": 9}, nil
}

func TestReporterPayload(t *testing.T) {
	ln := fakeBackend(t, 200, `{"status":"ok"}`)

	r := NewReporter(NewChecker(ln.Addr().String(), time.Second), fakeOccupancy{}, fakeMetrics{}, true)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	p := r.Report(context.Background())
	if p.Status != "ok" || !p.AuthEnabled {
		t.Fatalf("payload = %+v", p)
	}
	if p.Timestamp != "2026-03-01T10:00:00Z" {
		t.Errorf("timestamp = %q", p.Timestamp)
	}
	if p.Queue.Capacity != 4 || p.Queue.Active != 1 || p.Queue.Waiting != 2 {
		t.Errorf("queue = %+v", p.Queue)
	}
	if p.Metrics["requests_total"] != 9 {
		t.Errorf("metrics = %v", p.Metrics)
	}

	// The payload must marshal cleanly for the /health endpoint.
	if _, err := json.Marshal(p); err != nil {
		t.Fatalf("marshal: %v", err)
	}
}
