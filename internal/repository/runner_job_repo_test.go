package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.RunnerRegistrationToken{},
		&models.Runner{},
		&models.RunnerJob{},
		&models.LiveSession{},
		&models.Video{},
		&models.VideoFile{},
	)
	require.NoError(t, err)

	return db
}

func newTestJob(jobType models.RunnerJobType) *models.RunnerJob {
	return &models.RunnerJob{
		Type:    jobType,
		VideoID: models.NewULID(),
	}
}

func TestRunnerJobRepo_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()

	job := newTestJob(models.RunnerJobTypeVODHLS)
	require.NoError(t, repo.Create(ctx, job))
	assert.False(t, job.ID.IsZero())
	assert.NotEmpty(t, job.UUID)

	found, err := repo.GetByUUID(ctx, job.UUID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, job.ID, found.ID)
	assert.Equal(t, models.RunnerJobStatePending, found.State)
}

func TestRunnerJobRepo_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)

	found, err := repo.GetByID(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRunnerJobRepo_ListAvailable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()

	low := newTestJob(models.RunnerJobTypeVODHLS)
	low.Priority = 1
	require.NoError(t, repo.Create(ctx, low))

	high := newTestJob(models.RunnerJobTypeVODHLS)
	high.Priority = 10
	require.NoError(t, repo.Create(ctx, high))

	live := newTestJob(models.RunnerJobTypeLiveRTMPHLS)
	live.Priority = 5
	require.NoError(t, repo.Create(ctx, live))

	waiting := newTestJob(models.RunnerJobTypeVODHLS)
	waiting.State = models.RunnerJobStateWaitingForParent
	waiting.ParentJobID = &low.ID
	require.NoError(t, repo.Create(ctx, waiting))

	t.Run("ordered best first", func(t *testing.T) {
		jobs, err := repo.ListAvailable(ctx, models.KnownRunnerJobTypes(), 10)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, high.ID, jobs[0].ID)
		assert.Equal(t, live.ID, jobs[1].ID)
		assert.Equal(t, low.ID, jobs[2].ID)
	})

	t.Run("filtered by capability", func(t *testing.T) {
		jobs, err := repo.ListAvailable(ctx, []models.RunnerJobType{models.RunnerJobTypeLiveRTMPHLS}, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, live.ID, jobs[0].ID)
	})

	t.Run("limit applied", func(t *testing.T) {
		jobs, err := repo.ListAvailable(ctx, models.KnownRunnerJobTypes(), 2)
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
	})

	t.Run("no capabilities", func(t *testing.T) {
		jobs, err := repo.ListAvailable(ctx, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestRunnerJobRepo_Accept(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()
	runnerID := models.NewULID()

	job := newTestJob(models.RunnerJobTypeVODWebVideo)
	require.NoError(t, repo.Create(ctx, job))

	accepted, err := repo.Accept(ctx, job.ID, runnerID)
	require.NoError(t, err)
	assert.Equal(t, models.RunnerJobStateProcessing, accepted.State)
	require.NotNil(t, accepted.RunnerID)
	assert.Equal(t, runnerID, *accepted.RunnerID)
	assert.Contains(t, accepted.Token, "vjt-")
	require.NotNil(t, accepted.StartedAt)
	require.NotNil(t, accepted.ProgressAt)

	// A second accept loses the race.
	_, err = repo.Accept(ctx, job.ID, models.NewULID())
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRunnerJobRepo_Accept_PreservesStartedAt(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()

	job := newTestJob(models.RunnerJobTypeVODHLS)
	require.NoError(t, repo.Create(ctx, job))

	first, err := repo.Accept(ctx, job.ID, models.NewULID())
	require.NoError(t, err)
	firstStart := *first.StartedAt

	// Runner gives up; job goes back to pending.
	first.MarkAborted("runner shutting down")
	require.NoError(t, repo.Update(ctx, first))

	second, err := repo.Accept(ctx, job.ID, models.NewULID())
	require.NoError(t, err)
	assert.WithinDuration(t, firstStart, *second.StartedAt, time.Second)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestRunnerJobRepo_Accept_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()

	job := newTestJob(models.RunnerJobTypeVODHLS)
	require.NoError(t, repo.Create(ctx, job))

	const contenders = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Accept(ctx, job.ID, models.NewULID()); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestRunnerJobRepo_Update_ClearsRunnerFields(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()

	job := newTestJob(models.RunnerJobTypeVODHLS)
	require.NoError(t, repo.Create(ctx, job))

	accepted, err := repo.Accept(ctx, job.ID, models.NewULID())
	require.NoError(t, err)

	accepted.MarkAborted("lost ffmpeg")
	require.NoError(t, repo.Update(ctx, accepted))

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunnerJobStatePending, found.State)
	assert.Nil(t, found.RunnerID)
	assert.Empty(t, found.Token)
	assert.Equal(t, "lost ffmpeg", found.LastError)
	assert.Equal(t, 0, found.FailureCount)
}

func TestRunnerJobRepo_ListStalledProcessing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()
	runnerID := models.NewULID()

	mkProcessing := func(jobType models.RunnerJobType, progressAge time.Duration) *models.RunnerJob {
		job := newTestJob(jobType)
		require.NoError(t, repo.Create(ctx, job))
		accepted, err := repo.Accept(ctx, job.ID, runnerID)
		require.NoError(t, err)
		stale := models.Now().Add(-progressAge)
		accepted.ProgressAt = &stale
		require.NoError(t, repo.Update(ctx, accepted))
		return accepted
	}

	freshVOD := mkProcessing(models.RunnerJobTypeVODHLS, time.Minute)
	staleVOD := mkProcessing(models.RunnerJobTypeVODHLS, time.Hour)
	freshLive := mkProcessing(models.RunnerJobTypeLiveRTMPHLS, 10*time.Second)
	staleLive := mkProcessing(models.RunnerJobTypeLiveRTMPHLS, 2*time.Minute)

	now := time.Now()
	stalled, err := repo.ListStalledProcessing(ctx, now.Add(-30*time.Minute), now.Add(-30*time.Second))
	require.NoError(t, err)

	ids := make([]models.ULID, 0, len(stalled))
	for _, j := range stalled {
		ids = append(ids, j.ID)
	}
	assert.Contains(t, ids, staleVOD.ID)
	assert.Contains(t, ids, staleLive.ID)
	assert.NotContains(t, ids, freshVOD.ID)
	assert.NotContains(t, ids, freshLive.ID)
}

func TestRunnerJobRepo_ListChildrenWaiting(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()

	parent := newTestJob(models.RunnerJobTypeVODWebVideo)
	require.NoError(t, repo.Create(ctx, parent))

	child := newTestJob(models.RunnerJobTypeVODAudioMerge)
	child.State = models.RunnerJobStateWaitingForParent
	child.ParentJobID = &parent.ID
	require.NoError(t, repo.Create(ctx, child))

	other := newTestJob(models.RunnerJobTypeVODHLS)
	require.NoError(t, repo.Create(ctx, other))

	children, err := repo.ListChildrenWaiting(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)
}

func TestRunnerJobRepo_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()

	videoID := models.NewULID()
	for i := 0; i < 3; i++ {
		job := newTestJob(models.RunnerJobTypeVODHLS)
		job.VideoID = videoID
		require.NoError(t, repo.Create(ctx, job))
	}
	errored := newTestJob(models.RunnerJobTypeVODWebVideo)
	errored.State = models.RunnerJobStateErrored
	require.NoError(t, repo.Create(ctx, errored))

	t.Run("by state", func(t *testing.T) {
		jobs, total, err := repo.List(ctx, RunnerJobFilter{
			States: []models.RunnerJobState{models.RunnerJobStateErrored},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, jobs, 1)
		assert.Equal(t, errored.ID, jobs[0].ID)
	})

	t.Run("by video", func(t *testing.T) {
		jobs, total, err := repo.List(ctx, RunnerJobFilter{VideoID: &videoID})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		assert.Len(t, jobs, 3)
	})

	t.Run("pagination", func(t *testing.T) {
		jobs, total, err := repo.List(ctx, RunnerJobFilter{Limit: 2})
		require.NoError(t, err)
		assert.EqualValues(t, 4, total)
		assert.Len(t, jobs, 2)
	})
}

func TestRunnerJobRepo_DeleteTerminalBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunnerJobRepository(db)
	ctx := context.Background()

	old := models.Now().Add(-48 * time.Hour)

	done := newTestJob(models.RunnerJobTypeVODHLS)
	done.State = models.RunnerJobStateCompleted
	done.FinishedAt = &old
	require.NoError(t, repo.Create(ctx, done))

	recent := newTestJob(models.RunnerJobTypeVODHLS)
	recent.State = models.RunnerJobStateCompleted
	now := models.Now()
	recent.FinishedAt = &now
	require.NoError(t, repo.Create(ctx, recent))

	active := newTestJob(models.RunnerJobTypeVODHLS)
	require.NoError(t, repo.Create(ctx, active))

	deleted, err := repo.DeleteTerminalBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	remaining, total, err := repo.List(ctx, RunnerJobFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, remaining, 2)
}
