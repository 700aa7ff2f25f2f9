package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is used when NewSweeper is given a non-positive interval.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper runs Registry.Sweep on a fixed interval between Start and Stop.
type Sweeper struct {
	registry Registry
	interval time.Duration
	logger   *slog.Logger
	observe  func(removed int)
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SweeperOption func(*Sweeper)

// WithObserver is called after every successful sweep with the number removed.
func WithObserver(fn func(removed int)) SweeperOption {
	return func(s *Sweeper) { s.observe = fn }
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(registry Registry, interval time.Duration, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
		observe:  func(int) {},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop halts the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) {
	removed, err := s.registry.Sweep(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WarnContext(ctx, "session sweep failed", "error", err)
		}
		return
	}
	if removed > 0 {
		s.logger.DebugContext(ctx, "expired sessions swept", "removed", removed)
	}
	s.observe(removed)
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
