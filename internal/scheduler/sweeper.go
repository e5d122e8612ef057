package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweepable drops whatever expired before now and reports how much it removed.
type Sweepable interface {
	Sweep(now time.Time) int
}

type Sweeper struct {
	targets  []Sweepable
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	once     sync.Once
	now      func() time.Time
}

func NewSweeper(interval time.Duration, logger *zap.Logger, targets ...Sweepable) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		targets:  targets,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce()
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}

func (s *Sweeper) RunOnce() int {
	now := s.now()
	total := 0
	for _, t := range s.targets {
		total += t.Sweep(now)
	}
	if total > 0 {
		s.logger.Debug("expired entries swept", zap.Int("count", total))
	}
	return total
}
