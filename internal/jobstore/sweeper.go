package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retention defaults
const (
	DefaultSweepInterval = 30 * time.Minute
	DefaultRetention     = 24 * time.Hour
)

// SweeperConfig holds retention settings.
type SweeperConfig struct {
	Interval  time.Duration
	Retention time.Duration
	// ProcessingTimeout fails jobs stuck in Processing longer than this.
	// Zero disables the check.
	ProcessingTimeout time.Duration
}

// Sweeper periodically evicts expired records from a Store.
type Sweeper struct {
	store  *Store
	cfg    SweeperConfig
	logger *slog.Logger
}

// NewSweeper creates a sweeper for store.
func NewSweeper(store *Store, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Sweeper{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Run sweeps on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Job sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("retention", s.cfg.Retention),
		slog.Duration("processing_timeout", s.cfg.ProcessingTimeout),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Job sweeper stopped - context canceled")
			return nil
		case <-ticker.C:
			if _, _, err := s.RunOnce(); err != nil {
				s.logger.Error("Job sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce performs a single sweep cycle. A panic inside the cycle is
// recovered and returned as an error so the next tick still runs.
func (s *Sweeper) RunOnce() (removed, timedOut int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	if s.cfg.ProcessingTimeout > 0 {
		stale := s.store.FailStale(s.cfg.ProcessingTimeout)
		timedOut = len(stale)
		for _, rec := range stale {
			s.logger.Warn("Job failed after exceeding processing timeout",
				slog.String("job_id", rec.ID),
				slog.String("job_type", string(rec.Type)),
			)
		}
	}

	removed = s.store.Sweep(s.cfg.Retention)
	if removed > 0 || timedOut > 0 {
		s.logger.Info("Job sweep completed",
			slog.Int("removed", removed),
			slog.Int("timed_out", timedOut),
			slog.Int("remaining", s.store.Len()),
		)
	}
	return removed, timedOut, nil
}
