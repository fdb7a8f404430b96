package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 30 * time.Second

// DueProcessor is the sweep entrypoint; satisfied by *Dispatcher.
type DueProcessor interface {
	ProcessDue(ctx context.Context) (int, error)
}

// Sweeper periodically re-invokes the dispatcher for due records. It holds no
// state between sweeps; deployments that prefer an external trigger (cron,
// scheduler service) can call ProcessDue themselves and skip the sweeper.
type Sweeper struct {
	processor DueProcessor
	logger    *zap.Logger
	interval  time.Duration
}

func NewSweeper(processor DueProcessor, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if processor == nil {
		return nil, fmt.Errorf("due processor is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		processor: processor,
		logger:    logger,
		interval:  interval,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Initial sweep so already-due records do not wait for the first tick.
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

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
	picked, err := s.processor.ProcessDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
		return
	}
	if picked > 0 {
		s.logger.Info("sweep dispatched due notifications", zap.Int("count", picked))
	}
}
