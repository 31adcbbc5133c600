package health

import (
	"context"
	"time"
)

// QueueOccupancy supplies the concurrency gate's live readings for the
// health payload.
type QueueOccupancy interface {
	Capacity() int
	Active() int
	Depth() int64
}

// MetricsSource supplies the gateway counters for the health payload.
type MetricsSource interface {
	Snapshot() (map[string]float64, error)
}

// Payload is the /health response body. It reports gateway state and the
// backend probe result but never per-key detail, since the endpoint is
// unauthenticated.
type Payload struct {
	Status      string             `json:"status"`
	Timestamp   string             `json:"timestamp"`
	AuthEnabled bool               `json:"auth_enabled"`
	Backend     BackendStatus      `json:"backend"`
	Queue       QueuePayload       `json:"queue"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// QueuePayload reports concurrency-gate occupancy.
type QueuePayload struct {
	Capacity int   `json:"capacity"`
	Active   int   `json:"active"`
	Waiting  int64 `json:"waiting"`
}

// Reporter assembles the /health payload from its collaborators.
type Reporter struct {
	checker     *Checker
	queue       QueueOccupancy
	metrics     MetricsSource
	authEnabled bool
	now         func() time.Time
}

// NewReporter creates a reporter. queue and metrics may be nil, in which
// case their sections are zero-valued.
func NewReporter(checker *Checker, queue QueueOccupancy, metrics MetricsSource, authEnabled bool) *Reporter {
	return &Reporter{
		checker:     checker,
		queue:       queue,
		metrics:     metrics,
		authEnabled: authEnabled,
		now:         time.Now,
	}
}

// Report probes the backend and assembles the health payload. The gateway
// itself is always "ok" when it can answer; backend trouble shows up in
// the backend section, not in the top-level status.
func (r *Reporter) Report(ctx context.Context) Payload {
	p := Payload{
		Status:      "ok",
		Timestamp:   r.now().UTC().Format(time.RFC3339),
		AuthEnabled: r.authEnabled,
		Backend:     r.checker.Probe(ctx),
	}
	if r.queue != nil {
		p.Queue = QueuePayload{
			Capacity: r.queue.Capacity(),
			Active:   r.queue.Active(),
			Waiting:  r.queue.Depth(),
		}
	}
	if r.metrics != nil {
		if snap, err := r.metrics.Snapshot(); err == nil {
			p.Metrics = snap
		}
	}
	return p
}
