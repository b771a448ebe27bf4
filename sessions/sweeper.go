package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically removes idle sessions from a manager using a
// cron schedule.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper schedules an expiry sweep every interval, removing
// sessions idle for longer than maxIdle.
func StartSweeper(manager Manager, interval, maxIdle time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := manager.ExpireBefore(ctx, time.Now().Add(-maxIdle))
		if err != nil {
			logger.Error("Session expiry sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("Expired idle sessions", zap.Int("count", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	c.Start()
	return &Sweeper{cron: c}, nil
}

// Stop halts the sweep schedule.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
