package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

// runnerJobRepo implements RunnerJobRepository using GORM.
type runnerJobRepo struct {
	db *gorm.DB
}

// NewRunnerJobRepository creates a new RunnerJobRepository.
func NewRunnerJobRepository(db *gorm.DB) *runnerJobRepo {
	return &runnerJobRepo{db: db}
}

// Create creates a new job.
func (r *runnerJobRepo) Create(ctx context.Context, job *models.RunnerJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating runner job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID.
func (r *runnerJobRepo) GetByID(ctx context.Context, id models.ULID) (*models.RunnerJob, error) {
	var job models.RunnerJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting runner job by ID: %w", err)
	}
	return &job, nil
}

// GetByUUID retrieves a job by its external UUID.
func (r *runnerJobRepo) GetByUUID(ctx context.Context, jobUUID string) (*models.RunnerJob, error) {
	var job models.RunnerJob
	if err := r.db.WithContext(ctx).Where("uuid = ?", jobUUID).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting runner job by UUID: %w", err)
	}
	return &job, nil
}

// List retrieves jobs matching the filter plus the total match count.
func (r *runnerJobRepo) List(ctx context.Context, filter RunnerJobFilter) ([]*models.RunnerJob, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.RunnerJob{})

	if len(filter.States) > 0 {
		query = query.Where("state IN ?", filter.States)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if filter.RunnerID != nil {
		query = query.Where("runner_id = ?", *filter.RunnerID)
	}
	if filter.VideoID != nil {
		query = query.Where("video_id = ?", *filter.VideoID)
	}
	if filter.Search != "" {
		query = query.Where("uuid LIKE ? OR last_error LIKE ?", "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting runner jobs: %w", err)
	}

	query = query.Order("created_at DESC")
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var jobs []*models.RunnerJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing runner jobs: %w", err)
	}
	return jobs, total, nil
}

// ListAvailable retrieves pending jobs matching the given type capabilities,
// best-first.
func (r *runnerJobRepo) ListAvailable(ctx context.Context, types []models.RunnerJobType, limit int) ([]*models.RunnerJob, error) {
	if len(types) == 0 {
		return nil, nil
	}

	var jobs []*models.RunnerJob
	query := r.db.WithContext(ctx).
		Where("state = ? AND type IN ?", models.RunnerJobStatePending, types).
		Order("priority DESC, created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing available jobs: %w", err)
	}
	return jobs, nil
}

// ListStalledProcessing retrieves processing jobs whose last progress report
// predates the relevant cutoff. Jobs accepted but never updated are covered
// because accept itself sets progress_at.
func (r *runnerJobRepo) ListStalledProcessing(ctx context.Context, vodCutoff, liveCutoff time.Time) ([]*models.RunnerJob, error) {
	var jobs []*models.RunnerJob
	err := r.db.WithContext(ctx).
		Where("state = ?", models.RunnerJobStateProcessing).
		Where("(type = ? AND progress_at < ?) OR (type <> ? AND progress_at < ?)",
			models.RunnerJobTypeLiveRTMPHLS, liveCutoff,
			models.RunnerJobTypeLiveRTMPHLS, vodCutoff).
		Order("progress_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing stalled jobs: %w", err)
	}
	return jobs, nil
}

// ListChildrenWaiting retrieves jobs waiting on the given parent job.
func (r *runnerJobRepo) ListChildrenWaiting(ctx context.Context, parentID models.ULID) ([]*models.RunnerJob, error) {
	var jobs []*models.RunnerJob
	err := r.db.WithContext(ctx).
		Where("parent_job_id = ? AND state = ?", parentID, models.RunnerJobStateWaitingForParent).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing waiting children: %w", err)
	}
	return jobs, nil
}

// Accept atomically transitions a pending job to processing. The state check
// rides in the UPDATE's WHERE clause so two concurrent accepts cannot both
// win; RowsAffected tells us who did.
func (r *runnerJobRepo) Accept(ctx context.Context, id models.ULID, runnerID models.ULID) (*models.RunnerJob, error) {
	now := models.Now()
	token := models.NewJobTokenString()

	result := r.db.WithContext(ctx).Model(&models.RunnerJob{}).
		Where("id = ? AND state = ?", id, models.RunnerJobStatePending).
		UpdateColumns(map[string]interface{}{
			"state":       models.RunnerJobStateProcessing,
			"runner_id":   runnerID,
			"token":       token,
			"started_at":  gorm.Expr("COALESCE(started_at, ?)", now),
			"progress_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("accepting job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrConflict
	}

	job, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("accepted job %s disappeared", id)
	}
	return job, nil
}

// Update persists the job's current field values. Save would skip zeroed
// pointer fields via struct updates, so the full row is written explicitly.
func (r *runnerJobRepo) Update(ctx context.Context, job *models.RunnerJob) error {
	result := r.db.WithContext(ctx).Model(&models.RunnerJob{}).
		Where("id = ?", job.ID).
		UpdateColumns(map[string]interface{}{
			"state":         job.State,
			"priority":      job.Priority,
			"progress":      job.Progress,
			"token":         job.Token,
			"runner_id":     job.RunnerID,
			"failure_count": job.FailureCount,
			"last_error":    job.LastError,
			"started_at":    job.StartedAt,
			"finished_at":   job.FinishedAt,
			"progress_at":   job.ProgressAt,
			"updated_at":    models.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating runner job: %w", result.Error)
	}
	return nil
}

// Delete deletes a job by ID.
func (r *runnerJobRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.RunnerJob{}).Error; err != nil {
		return fmt.Errorf("deleting runner job: %w", err)
	}
	return nil
}

// DeleteTerminalBefore deletes terminal jobs that finished before the given time.
func (r *runnerJobRepo) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("state IN (?, ?, ?) AND finished_at < ?",
			models.RunnerJobStateCompleted, models.RunnerJobStateErrored, models.RunnerJobStateCancelled, before).
		Delete(&models.RunnerJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting terminal jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure runnerJobRepo implements RunnerJobRepository at compile time.
var _ RunnerJobRepository = (*runnerJobRepo)(nil)
