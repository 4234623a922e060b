package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/config"
)

type countingStalledJobs struct {
	calls atomic.Int64
}

func (c *countingStalledJobs) ReapStalled(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

type countingDeleter struct {
	calls  atomic.Int64
	cutoff atomic.Value
}

func (c *countingDeleter) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	c.calls.Add(1)
	c.cutoff.Store(before)
	return 2, nil
}

func TestReaper_SweepsOnStartAndInterval(t *testing.T) {
	jobs := &countingStalledJobs{}
	reaper := NewReaper(jobs, config.ReaperConfig{Interval: 20 * time.Millisecond})

	require.NoError(t, reaper.Start(context.Background()))
	defer reaper.Stop()

	assert.Eventually(t, func() bool {
		return jobs.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "expected the initial sweep plus ticks")
}

func TestReaper_StartTwice(t *testing.T) {
	reaper := NewReaper(&countingStalledJobs{}, config.ReaperConfig{Interval: time.Minute})
	require.NoError(t, reaper.Start(context.Background()))
	assert.Error(t, reaper.Start(context.Background()))
	reaper.Stop()

	// A stopped reaper can start again.
	require.NoError(t, reaper.Start(context.Background()))
	reaper.Stop()
}

func TestReaper_StopHaltsSweeps(t *testing.T) {
	jobs := &countingStalledJobs{}
	reaper := NewReaper(jobs, config.ReaperConfig{Interval: 10 * time.Millisecond})
	require.NoError(t, reaper.Start(context.Background()))

	time.Sleep(30 * time.Millisecond)
	reaper.Stop()
	after := jobs.calls.Load()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, jobs.calls.Load())
}

func TestCleanup_RunDeletesWithTTLCutoff(t *testing.T) {
	deleter := &countingDeleter{}
	cleanup := NewCleanup(deleter, config.CleanupConfig{
		Cron:        "0 0 3 * * *",
		TerminalTTL: 14 * 24 * time.Hour,
	})

	before := time.Now().Add(-14 * 24 * time.Hour)
	cleanup.Run()
	after := time.Now().Add(-14 * 24 * time.Hour)

	assert.EqualValues(t, 1, deleter.calls.Load())
	cutoff := deleter.cutoff.Load().(time.Time)
	assert.False(t, cutoff.Before(before))
	assert.False(t, cutoff.After(after))
}

func TestCleanup_StartValidation(t *testing.T) {
	t.Run("invalid cron", func(t *testing.T) {
		cleanup := NewCleanup(&countingDeleter{}, config.CleanupConfig{
			Cron:        "not a schedule",
			TerminalTTL: time.Hour,
		})
		assert.Error(t, cleanup.Start())
	})

	t.Run("five-field expression rejected", func(t *testing.T) {
		cleanup := NewCleanup(&countingDeleter{}, config.CleanupConfig{
			Cron:        "0 3 * * *",
			TerminalTTL: time.Hour,
		})
		assert.Error(t, cleanup.Start())
	})

	t.Run("zero ttl rejected", func(t *testing.T) {
		cleanup := NewCleanup(&countingDeleter{}, config.CleanupConfig{
			Cron: "0 0 3 * * *",
		})
		assert.Error(t, cleanup.Start())
	})

	t.Run("valid schedule starts and stops", func(t *testing.T) {
		cleanup := NewCleanup(&countingDeleter{}, config.CleanupConfig{
			Cron:        "0 0 3 * * *",
			TerminalTTL: time.Hour,
		})
		require.NoError(t, cleanup.Start())
		assert.Error(t, cleanup.Start())
		cleanup.Stop()
		require.NoError(t, cleanup.Start())
		cleanup.Stop()
	})
}

func TestCleanup_ScheduledRunFires(t *testing.T) {
	deleter := &countingDeleter{}
	cleanup := NewCleanup(deleter, config.CleanupConfig{
		Cron:        "* * * * * *", // every second
		TerminalTTL: time.Hour,
	})
	require.NoError(t, cleanup.Start())
	defer cleanup.Stop()

	assert.Eventually(t, func() bool {
		return deleter.calls.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}
