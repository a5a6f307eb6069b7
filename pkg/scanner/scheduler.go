package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
)

// Scheduler triggers full scans on a fixed interval. On-demand scans via
// the API are unaffected and can run at any time.
type Scheduler struct {
	logger   ectologger.Logger
	engine   *Engine
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. A non-positive interval disables it.
func NewScheduler(logger ectologger.Logger, engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{
		logger:   logger,
		engine:   engine,
		interval: interval,
	}
}

// Start launches the periodic scan loop
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Scheduled scans disabled")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.engine.Scan(ctx, nil); err != nil {
					s.logger.WithContext(ctx).WithError(err).Error("Scheduled scan failed")
				}
			}
		}
	}()

	s.logger.WithFields(map[string]any{"interval": s.interval}).Info("Scan scheduler started")
}

// Stop halts the loop and waits for an in-flight scan
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
