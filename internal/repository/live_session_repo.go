package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

// liveSessionRepo implements LiveSessionRepository using GORM.
type liveSessionRepo struct {
	db *gorm.DB
}

// NewLiveSessionRepository creates a new LiveSessionRepository.
func NewLiveSessionRepository(db *gorm.DB) *liveSessionRepo {
	return &liveSessionRepo{db: db}
}

// Create creates a new live session.
func (r *liveSessionRepo) Create(ctx context.Context, session *models.LiveSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("creating live session: %w", err)
	}
	return nil
}

// GetByID retrieves a live session by ID.
func (r *liveSessionRepo) GetByID(ctx context.Context, id models.ULID) (*models.LiveSession, error) {
	var session models.LiveSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting live session by ID: %w", err)
	}
	return &session, nil
}

// GetByRunnerJobID retrieves the session attached to a job, if any.
func (r *liveSessionRepo) GetByRunnerJobID(ctx context.Context, jobID models.ULID) (*models.LiveSession, error) {
	var session models.LiveSession
	if err := r.db.WithContext(ctx).Where("runner_job_id = ?", jobID).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting live session by job ID: %w", err)
	}
	return &session, nil
}

// GetOpenByVideoID retrieves the not-yet-ended session for a video.
func (r *liveSessionRepo) GetOpenByVideoID(ctx context.Context, videoID models.ULID) (*models.LiveSession, error) {
	var session models.LiveSession
	if err := r.db.WithContext(ctx).
		Where("video_id = ? AND ended_at IS NULL", videoID).
		Order("started_at DESC").
		First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting open live session: %w", err)
	}
	return &session, nil
}

// Update updates an existing live session.
func (r *liveSessionRepo) Update(ctx context.Context, session *models.LiveSession) error {
	result := r.db.WithContext(ctx).Model(&models.LiveSession{}).
		Where("id = ?", session.ID).
		UpdateColumns(map[string]interface{}{
			"permanent":     session.Permanent,
			"error":         session.Error,
			"runner_job_id": session.RunnerJobID,
			"ended_at":      session.EndedAt,
			"updated_at":    models.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating live session: %w", result.Error)
	}
	return nil
}

// SetErrorOnce records the session error only if none is set. The NULL check
// in the WHERE clause makes the first error win under concurrency.
func (r *liveSessionRepo) SetErrorOnce(ctx context.Context, id models.ULID, cause models.LiveSessionError) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.LiveSession{}).
		Where("id = ? AND error IS NULL", id).
		UpdateColumns(map[string]interface{}{
			"error":      cause,
			"updated_at": models.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("setting live session error: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Ensure liveSessionRepo implements LiveSessionRepository at compile time.
var _ LiveSessionRepository = (*liveSessionRepo)(nil)
