package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConsolidationScheduler runs consolidation cycles in the background
// on a fixed interval.
//
// Thread-safe: the running state is protected by a mutex so Start and
// Stop can be called concurrently.
type ConsolidationScheduler struct {
	consolidator *Consolidator
	interval     time.Duration
	timeout      time.Duration
	tenant       string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	logger *zap.Logger
}

// SchedulerOption configures a ConsolidationScheduler.
type SchedulerOption func(*ConsolidationScheduler)

// WithInterval sets the time between cycles. Defaults to 24 hours.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *ConsolidationScheduler) { s.interval = interval }
}

// WithCycleTimeout bounds a single cycle. Defaults to 10 minutes.
func WithCycleTimeout(timeout time.Duration) SchedulerOption {
	return func(s *ConsolidationScheduler) { s.timeout = timeout }
}

// WithTenant restricts cycles to one tenant. Defaults to all tenants.
func WithTenant(tenant string) SchedulerOption {
	return func(s *ConsolidationScheduler) { s.tenant = tenant }
}

// NewConsolidationScheduler creates a scheduler. It does not start
// automatically; call Start.
func NewConsolidationScheduler(consolidator *Consolidator, logger *zap.Logger, opts ...SchedulerOption) (*ConsolidationScheduler, error) {
	if consolidator == nil {
		return nil, fmt.Errorf("consolidator cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ConsolidationScheduler{
		consolidator: consolidator,
		interval:     24 * time.Hour,
		timeout:      10 * time.Minute,
		stopCh:       make(chan struct{}),
		logger:       logger.With(zap.String("component", "consolidation_scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the background loop. Returns an error when already
// running.
func (s *ConsolidationScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("consolidation scheduler started", zap.Duration("interval", s.interval))
	go s.run()
	return nil
}

// Stop signals the loop to exit. Idempotent.
func (s *ConsolidationScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.logger.Info("stopping consolidation scheduler")
	s.running = false
	close(s.stopCh)
	return nil
}

func (s *ConsolidationScheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler goroutine panicked, recovering",
				zap.Any("panic", r), zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeRunCycle()
		case <-s.stopCh:
			return
		}
	}
}

// safeRunCycle wraps one cycle with panic recovery so a single bad
// cycle cannot kill the scheduler.
func (s *ConsolidationScheduler) safeRunCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("consolidation cycle panicked, continuing",
				zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.consolidator.RunCycle(ctx, s.tenant); err != nil {
		s.logger.Error("scheduled consolidation failed", zap.Error(err))
	}
}
