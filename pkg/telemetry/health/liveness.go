package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Liveness is a trivial always-200 HTTP responder on a side port. It lets
// schedulers and load balancers see the process is alive without touching
// the gateway port or the backend.
type Liveness struct {
	server *http.Server
	logger *slog.Logger
}

// NewLiveness creates a liveness responder listening on port.
func NewLiveness(port int, logger *slog.Logger) *Liveness {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return &Liveness{
		server: &http.Server{
			Addr:         net.JoinHostPort("", fmt.Sprintf("%d", port)),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "liveness"),
	}
}

// Start begins serving in a background goroutine.
func (l *Liveness) Start() {
	go func() {
		l.logger.Info("liveness responder listening", "addr", l.server.Addr)
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.logger.Error("liveness responder failed", "error", err)
		}
	}()
}

// Stop shuts the responder down.
func (l *Liveness) Stop(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}
