// Package scheduler runs vodarr's background maintenance loops: the
// stalled-job reaper and the terminal-job retention cleanup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/config"
)

// StalledJobs is the slice of the job service the reaper needs.
type StalledJobs interface {
	ReapStalled(ctx context.Context) error
}

// Reaper periodically sweeps processing jobs whose runners have gone silent.
// Timeouts per job type live in the job service; the reaper only owns the
// sweep cadence.
type Reaper struct {
	mu sync.Mutex

	jobs     StalledJobs
	logger   *slog.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper sweeping at the configured interval.
func NewReaper(jobs StalledJobs, cfg config.ReaperConfig) *Reaper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		jobs:     jobs,
		logger:   slog.Default(),
		interval: interval,
	}
}

// WithLogger sets a custom logger.
func (r *Reaper) WithLogger(logger *slog.Logger) *Reaper {
	r.logger = logger
	return r
}

// Start begins the background sweep loop.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("reaper already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.loop()

	r.logger.Info("stalled-job reaper started", slog.Duration("interval", r.interval))
	return nil
}

// Stop stops the reaper and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("stalled-job reaper stopped")
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	// Run immediately on start
	r.sweep(r.ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweep(r.ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	if err := r.jobs.ReapStalled(ctx); err != nil {
		r.logger.Error("stalled-job sweep failed", slog.Any("error", err))
	}
}
