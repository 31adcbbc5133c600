// Package server wires the gateway's components together and owns the
// accept loop, signal handling, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"llamagate/llamagate/pkg/audit"
	"llamagate/llamagate/pkg/config"
	"llamagate/llamagate/pkg/cors"
	"llamagate/llamagate/pkg/limits"
	"llamagate/llamagate/pkg/proxy"
	"llamagate/llamagate/pkg/security/auth"
	"llamagate/llamagate/pkg/telemetry/health"
	"llamagate/llamagate/pkg/telemetry/logging"
	"llamagate/llamagate/pkg/telemetry/metrics"
)

// Server is the gateway process: one TCP listener, one goroutine per
// accepted connection, plus the optional liveness port, keys watcher,
// and audit retention scheduler.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	handler   *proxy.Handler
	validator *auth.KeyValidator
	watcher   *auth.KeysWatcher
	liveness  *health.Liveness

	auditStore *audit.Store
	auditSched *audit.Scheduler

	accessCloser io.Closer

	listener     net.Listener
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	requestOnce  sync.Once

	mu        sync.RWMutex
	isRunning bool
}

// New builds a server from configuration. Construction opens the access
// log and audit store but does not listen yet.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger.With("component", "server"),
		shutdownChan: make(chan struct{}),
	}

	var accessWriter io.Writer = os.Stdout
	if path := cfg.Telemetry.AccessLogPath; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening access log: %w", err)
		}
		accessWriter = f
		s.accessCloser = f
	}
	accessLogger := logging.NewAccessLogger(accessWriter, cfg.Telemetry.LogFormat)

	s.validator = auth.NewKeyValidator(auth.Options{
		Enabled:          cfg.Auth.Enabled,
		KeysFile:         cfg.Auth.KeysFile,
		DefaultRateLimit: cfg.Auth.DefaultRateLimit,
		Logger:           logger,
	})

	gate := limits.NewGate(cfg.Limits.MaxConcurrentRequests, cfg.Limits.MaxQueueSize)
	collector := metrics.NewCollector()
	collector.RegisterQueue(gate)

	policy := cors.NewPolicy(cfg.CORS.AllowedOrigins)

	engine := proxy.NewEngine(proxy.EngineConfig{
		BackendAddress:  cfg.Backend.Address(),
		ConnectTimeout:  cfg.Backend.ConnectTimeout,
		ResponseTimeout: cfg.Backend.ResponseTimeout,
		BackendAPIKey:   cfg.Backend.APIKey,
	}, policy, logger)

	reporter := health.NewReporter(
		health.NewChecker(cfg.Backend.Address(), cfg.Backend.HealthTimeout),
		gate, collector, cfg.Auth.Enabled)

	if cfg.Audit.Enabled {
		store, err := audit.Open(audit.Config{Path: cfg.Audit.DBPath}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening audit store: %w", err)
		}
		s.auditStore = store
		s.auditSched = audit.NewScheduler(store, audit.RetentionConfig{
			Days:     cfg.Audit.RetentionDays,
			Schedule: cfg.Audit.PruneSchedule,
		}, logger)
	}

	s.handler = proxy.NewHandler(proxy.HandlerConfig{
		Limits: proxy.Limits{
			MaxRequestLineSize: cfg.Gateway.MaxRequestLineSize,
			MaxHeaders:         cfg.Gateway.MaxHeaders,
			MaxHeaderLineSize:  cfg.Gateway.MaxHeaderLineSize,
			MaxBodySize:        cfg.Gateway.MaxRequestBodySize,
		},
		HeaderReadTimeout: cfg.Gateway.HeaderReadTimeout,
		RequestTimeout:    cfg.Backend.ResponseTimeout,
		MetricsAuth:       cfg.Auth.MetricsAuth,
	}, proxy.Dependencies{
		Validator: s.validator,
		Gate:      gate,
		Engine:    engine,
		CORS:      policy,
		Metrics:   collector,
		Health:    reporter,
		Access:    accessLogger,
		Audit:     s.auditStore,
		Logger:    logger,
	})

	if cfg.Auth.Enabled && cfg.Auth.WatchKeysFile {
		watcher, err := auth.NewKeysWatcher(cfg.Auth.KeysFile, 0, logger)
		if err != nil {
			return nil, fmt.Errorf("watching keys file: %w", err)
		}
		s.watcher = watcher
	}

	if addr := cfg.Gateway.HealthListenAddress; addr != "" {
		port, err := portOf(addr)
		if err != nil {
			return nil, fmt.Errorf("parsing health listen address: %w", err)
		}
		s.liveness = health.NewLiveness(port, logger)
	}

	return s, nil
}

// Start listens and serves until ctx is cancelled, a fatal listener error
// occurs, or a termination signal arrives. SIGHUP reloads the keys file
// without interrupting traffic.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.Gateway.ListenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Gateway.ListenAddress, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	if s.liveness != nil {
		s.liveness.Start()
	}
	if s.auditSched != nil {
		if err := s.auditSched.Start(connCtx); err != nil {
			return fmt.Errorf("starting audit retention: %w", err)
		}
	}
	if s.watcher != nil {
		go func() {
			err := s.watcher.Watch(connCtx, func() error {
				n, err := s.validator.Reload()
				if err == nil {
					s.logger.Info("key table reloaded", "keys", n)
				}
				return err
			})
			if err != nil {
				s.logger.Error("keys watcher stopped", "error", err)
			}
		}()
	}

	s.logger.Info("gateway listening",
		"address", s.cfg.Gateway.ListenAddress,
		"backend", s.cfg.Backend.Address(),
		"auth_enabled", s.cfg.Auth.Enabled,
		"max_concurrent", s.cfg.Limits.MaxConcurrentRequests,
	)

	errChan := make(chan error, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				errChan <- fmt.Errorf("accepting connection: %w", err)
				return
			}
			go s.handler.Handle(connCtx, conn)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context cancelled, initiating shutdown")
			return s.Shutdown(context.Background())
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				n, err := s.validator.Reload()
				if err != nil {
					s.logger.Error("keys reload failed", "error", err)
				} else {
					s.logger.Info("keys reloaded on SIGHUP", "keys", n)
				}
				continue
			}
			s.logger.Info("received shutdown signal", "signal", sig.String())
			return s.Shutdown(context.Background())
		case err := <-errChan:
			s.Shutdown(context.Background())
			return err
		case <-s.shutdownChan:
			return s.Shutdown(context.Background())
		}
	}
}

// Shutdown stops accepting, then closes the side components. In-flight
// connections hold their own sockets and finish on their own timeouts.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("shutting down")

		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				shutdownErr = fmt.Errorf("closing listener: %w", err)
			}
		}
		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				s.logger.Warn("stopping keys watcher", "error", err)
			}
		}
		if s.liveness != nil {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := s.liveness.Stop(stopCtx); err != nil {
				s.logger.Warn("stopping liveness responder", "error", err)
			}
		}
		if s.auditSched != nil {
			s.auditSched.Stop()
		}
		if s.auditStore != nil {
			if err := s.auditStore.Close(); err != nil {
				s.logger.Warn("closing audit store", "error", err)
			}
		}
		if s.accessCloser != nil {
			if err := s.accessCloser.Close(); err != nil {
				s.logger.Warn("closing access log", "error", err)
			}
		}

		s.logger.Info("gateway stopped")
	})

	return shutdownErr
}

// RequestShutdown asks a running Start to exit. Safe to call from another
// goroutine, any number of times.
func (s *Server) RequestShutdown() {
	s.requestOnce.Do(func() { close(s.shutdownChan) })
}

// IsRunning reports whether Start is active.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listener address, useful when the configured
// port is 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func portOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
