// Package scheduler runs the capture retention task.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/config"
)

// Pruner removes captures that ended before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg   config.StorageConfig
	store Pruner
	now   func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg config.StorageConfig, store Pruner) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// Start prunes once immediately and then on every interval until ctx is
// cancelled. It returns at once when retention is disabled.
func (s *Scheduler) Start(ctx context.Context) {
	retention := s.cfg.Retention()
	interval := s.cfg.PruneInterval()
	if retention <= 0 || interval <= 0 {
		log.Info().Msg("capture retention disabled, scheduler idle")
		return
	}

	log.Info().
		Dur("retention", retention).
		Dur("interval", interval).
		Msg("scheduler started")

	s.runRetention(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.runRetention(ctx)
		}
	}
}

// RunOnce prunes captures older than the retention window.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	retention := s.cfg.Retention()
	if retention <= 0 {
		return 0, nil
	}
	return s.store.Prune(ctx, s.now().Add(-retention))
}

func (s *Scheduler) runRetention(ctx context.Context) {
	removed, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("capture retention failed")
		}
		return
	}

	event := log.Info().Int64("removed", removed)
	if info, err := os.Stat(s.cfg.Path); err == nil {
		event = event.Str("database_size", formatBytes(info.Size()))
	}
	event.Msg("capture retention completed")
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
