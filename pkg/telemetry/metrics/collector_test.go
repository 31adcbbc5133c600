package metrics

import (
	"bytes"
	"strings"
	"testing"
)

type fakeQueue struct {
	depth      int64
	rejections int64
	wait       float64
}

func (q *fakeQueue) Depth() int64        { return q.depth }
func (q *fakeQueue) Rejections() int64   { return q.rejections }
func (q *fakeQueue) WaitSeconds() float64 { return q.wait }

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.RegisterQueue(&fakeQueue{depth: 2, rejections: 7, wait: 1.5})

	c.RequestStarted()
	c.RequestStarted()
	c.RequestSucceeded()
	c.RequestFinished()
	c.RequestAuthenticated()
	c.RequestUnauthorized()
	c.RequestFailed()
	c.AddBytesSent(4096)

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	want := map[string]float64{
		"requests_total":           2,
		"requests_success":         1,
		"requests_error":           1,
		"requests_authenticated":   1,
		"requests_unauthorized":    1,
		"requests_active":          1,
		"bytes_sent":               4096,
		"queue_depth":              2,
		"queue_rejections":         7,
		"queue_wait_seconds_total": 1.5,
	}
	for name, val := range want {
		if got, ok := snap[name]; !ok || got != val {
			t.Errorf("snapshot[%q] = %v (present=%v), want %v", name, got, ok, val)
		}
	}
	if _, ok := snap["uptime_seconds"]; !ok {
		t.Error("snapshot missing uptime_seconds")
	}
}

func TestCollectorTextExposition(t *testing.T) {
	c := NewCollector()
	c.RequestStarted()
	c.RequestSucceeded()
	c.AddBytesSent(100)

	var buf bytes.Buffer
	if err := c.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# HELP llamagate_requests_total",
		"# TYPE llamagate_requests_total counter",
		"llamagate_requests_total 1",
		"# TYPE llamagate_requests_active gauge",
		"llamagate_bytes_sent 100",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text exposition missing %q:\n%s", want, out)
		}
	}
}

func TestWantsTextFormat(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"", false},
		{"application/json", false},
		{"text/plain", true},
		{"text/plain; version=0.0.4", true},
		{"application/openmetrics-text; version=1.0.0", true},
		{"*/*", false},
	}
	for _, tt := range tests {
		if got := WantsTextFormat(tt.accept); got != tt.want {
			t.Errorf("WantsTextFormat(%q) = %v, want %v", tt.accept, got, tt.want)
		}
	}
}

func TestAddBytesSentIgnoresNonPositive(t *testing.T) {
	c := NewCollector()
	c.AddBytesSent(0)
	c.AddBytesSent(-5)

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap["bytes_sent"] != 0 {
		t.Errorf("bytes_sent = %v, want 0", snap["bytes_sent"])
	}
}
