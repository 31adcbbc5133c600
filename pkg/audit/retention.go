package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls scheduled pruning of old access records.
type RetentionConfig struct {
	// Days is how long records are kept. 0 disables pruning.
	Days int

	// Schedule is a standard cron expression, e.g. "0 3 * * *" for
	// daily at 3 AM. Empty disables the scheduler.
	Schedule string
}

// Scheduler prunes the audit store on a cron schedule.
type Scheduler struct {
	store  *Store
	cfg    RetentionConfig
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a retention scheduler for store.
func NewScheduler(store *Store, cfg RetentionConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger.With("component", "audit.retention"),
	}
}

// Start begins scheduled pruning. A missing schedule or zero retention
// makes Start a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Schedule == "" || s.cfg.Days <= 0 {
		s.logger.Info("audit retention not configured, scheduler idle")
		return nil
	}

	if _, err := cron.ParseStandard(s.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.cfg.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.prune(ctx) }); err != nil {
		return fmt.Errorf("scheduling audit retention: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("audit retention scheduled",
		"schedule", s.cfg.Schedule,
		"retention_days", s.cfg.Days,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Prune deletes records older than the retention window once, outside
// the schedule. Used by tests and operator tooling.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	if s.cfg.Days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.Days)
	return s.store.DeleteOlderThan(ctx, cutoff)
}

func (s *Scheduler) prune(ctx context.Context) {
	deleted, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error("audit pruning failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("audit pruning completed", "deleted", deleted)
	} else {
		s.logger.Debug("audit pruning completed, nothing to delete")
	}
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("audit retention stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
