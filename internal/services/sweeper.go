package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cobranca/internal/core"
)

// OverdueSweeper is the part of the registry the sweeper drives.
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context, ref core.Date) ([]core.Debtor, error)
}

// SweeperConfig holds configuration for the periodic overdue sweep
type SweeperConfig struct {
	// Interval between sweeps (default: 1h)
	Interval time.Duration
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Interval: time.Hour}
}

// Sweeper periodically moves debtors whose debts fell due to Overdue.
type Sweeper struct {
	target OverdueSweeper
	clock  Clock
	config SweeperConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSweeper(target OverdueSweeper, clock Clock, config SweeperConfig) *Sweeper {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	return &Sweeper{target: target, clock: clock, config: config}
}

// RunOnce sweeps against today's date and reports how many debtors changed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.target == nil {
		return 0, fmt.Errorf("sweeper not properly initialized")
	}
	ref := core.DateOf(s.clock.Now().UTC())
	changed, err := s.target.SweepOverdue(ctx, ref)
	if err != nil {
		return 0, err
	}
	for _, d := range changed {
		slog.InfoContext(ctx, "Debtor status changed by sweep",
			"debtor_id", d.ID,
			"status", d.Status)
	}
	return len(changed), nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Overdue sweep failed", "error", err)
		return
	}
	slog.DebugContext(ctx, "Overdue sweep finished", "changed", n)
}

// Start runs the loop in the background. Returns an error if already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.stopCh:
		case <-loopCtx.Done():
		}
		cancel()
	}()
	go func() {
		defer close(s.doneCh)
		_ = s.Run(loopCtx)
	}()

	slog.InfoContext(ctx, "Overdue sweeper started", "interval", s.config.Interval)
	return nil
}

// Stop signals the loop and waits for it to return.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Overdue sweeper stopped")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Overdue sweeper stop timed out")
		return ctx.Err()
	}
}

func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
