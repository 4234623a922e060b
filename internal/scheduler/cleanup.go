package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/vodarr/internal/config"
)

// TerminalJobDeleter is the slice of the job repository the cleanup needs.
type TerminalJobDeleter interface {
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// Cleanup deletes terminal jobs older than the configured retention on a
// cron schedule. Live relay artifacts are torn down at session end, so this
// only trims database rows.
type Cleanup struct {
	jobs     TerminalJobDeleter
	logger   *slog.Logger
	schedule string
	ttl      time.Duration

	cron *cron.Cron
}

// NewCleanup creates a retention cleanup. The schedule is a 6-field cron
// expression with seconds.
func NewCleanup(jobs TerminalJobDeleter, cfg config.CleanupConfig) *Cleanup {
	return &Cleanup{
		jobs:     jobs,
		logger:   slog.Default(),
		schedule: cfg.Cron,
		ttl:      cfg.TerminalTTL,
	}
}

// WithLogger sets a custom logger.
func (c *Cleanup) WithLogger(logger *slog.Logger) *Cleanup {
	c.logger = logger
	return c
}

// Start validates the schedule and begins the cron loop.
func (c *Cleanup) Start() error {
	if c.cron != nil {
		return fmt.Errorf("cleanup already started")
	}
	if c.ttl <= 0 {
		return fmt.Errorf("terminal job TTL must be positive, got %s", c.ttl)
	}

	runner := cron.New(cron.WithSeconds())
	if _, err := runner.AddFunc(c.schedule, c.Run); err != nil {
		return fmt.Errorf("invalid cleanup cron expression %q: %w", c.schedule, err)
	}
	runner.Start()
	c.cron = runner

	c.logger.Info("retention cleanup started",
		slog.String("cron", c.schedule),
		slog.Duration("terminal_ttl", c.ttl))
	return nil
}

// Stop stops the cron loop and waits for an in-flight run to finish.
func (c *Cleanup) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil

	c.logger.Info("retention cleanup stopped")
}

// Run executes one cleanup pass. Exported so the serve command can trigger
// a pass outside the schedule.
func (c *Cleanup) Run() {
	cutoff := time.Now().Add(-c.ttl)
	deleted, err := c.jobs.DeleteTerminalBefore(context.Background(), cutoff)
	if err != nil {
		c.logger.Error("retention cleanup failed", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		c.logger.Info("deleted expired terminal jobs",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff))
	}
}
