package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/agendapro/agendapro/libs/metrics"
	"github.com/robfig/cron/v3"
)

type SweeperConfig struct {
	// Spec is a cron expression or descriptor such as "@every 10m".
	Spec        string
	MaxLateness time.Duration
}

// Sweeper periodically expires scheduled messages that missed their window.
type Sweeper struct {
	db      Execer
	logger  *slog.Logger
	metrics *metrics.SchedulerMetrics
	cfg     SweeperConfig
}

func NewSweeper(db Execer, logger *slog.Logger, m *metrics.SchedulerMetrics, cfg SweeperConfig) *Sweeper {
	if cfg.Spec == "" {
		cfg.Spec = "@every 10m"
	}
	if cfg.MaxLateness <= 0 {
		cfg.MaxLateness = 2 * time.Hour
	}
	return &Sweeper{db: db, logger: logger, metrics: m, cfg: cfg}
}

func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := ExpireStale(ctx, s.db, s.cfg.MaxLateness)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("stale scheduled messages expired", "count", n)
		s.metrics.Observe("expired", int(n))
	}
	return n, nil
}

// Run schedules Sweep and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("stale message sweep failed", "err", err)
		}
	}); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
