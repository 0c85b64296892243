package core

// scheduler.go runs background maintenance.
//
// The retention sweeper deletes finished import jobs (completed, failed or
// cancelled) once they are older than the configured retention period.
// Imported events, attendees and the like are never touched. The sweeper
// runs once on start, then every CheckInterval, until ctx is cancelled.
// A failed sweep is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig holds configuration for the retention sweeper.
type RetentionConfig struct {
	RetentionDays int           // Days to keep finished jobs (default: 30)
	CheckInterval time.Duration // How often to sweep (default: 24h)
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

// StartRetentionSweeper blocks until ctx is cancelled; run it in a goroutine.
func (s *Service) StartRetentionSweeper(ctx context.Context, cfg RetentionConfig) {
	cfg = cfg.withDefaults()
	slog.Info("retention sweeper started",
		"retention_days", cfg.RetentionDays,
		"check_interval", cfg.CheckInterval,
	)

	s.sweepJobs(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.sweepJobs(ctx, cfg)
		}
	}
}

// sweepJobs performs one retention pass and returns the number of jobs removed.
func (s *Service) sweepJobs(ctx context.Context, cfg RetentionConfig) int64 {
	start := time.Now()
	cutoff := s.now().AddDate(0, 0, -cfg.RetentionDays)

	deleted, err := s.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return 0
	}

	slog.Info("retention sweep completed",
		"jobs_deleted", deleted,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return deleted
}
