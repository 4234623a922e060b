// Package repository defines data access interfaces for vodarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
)

// RunnerJobFilter narrows admin job listings. Zero values mean "no filter".
type RunnerJobFilter struct {
	States   []models.RunnerJobState
	Types    []models.RunnerJobType
	RunnerID *models.ULID
	VideoID  *models.ULID
	Search   string
	Offset   int
	Limit    int
}

// RegistrationTokenRepository defines operations for registration token persistence.
type RegistrationTokenRepository interface {
	// Create creates a new registration token.
	Create(ctx context.Context, token *models.RunnerRegistrationToken) error
	// GetByID retrieves a registration token by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.RunnerRegistrationToken, error)
	// GetByToken retrieves a registration token by its secret value.
	GetByToken(ctx context.Context, secret string) (*models.RunnerRegistrationToken, error)
	// GetAll retrieves all registration tokens.
	GetAll(ctx context.Context) ([]*models.RunnerRegistrationToken, error)
	// Delete deletes a registration token by ID. Runners already registered
	// with it keep working.
	Delete(ctx context.Context, id models.ULID) error
}

// RunnerRepository defines operations for runner identity persistence.
type RunnerRepository interface {
	// Create creates a new runner.
	Create(ctx context.Context, runner *models.Runner) error
	// GetByID retrieves a runner by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Runner, error)
	// GetByName retrieves a runner by its unique name.
	GetByName(ctx context.Context, name string) (*models.Runner, error)
	// GetByToken retrieves a runner by its identity token.
	GetByToken(ctx context.Context, token string) (*models.Runner, error)
	// GetAll retrieves all runners ordered by creation time.
	GetAll(ctx context.Context) ([]*models.Runner, error)
	// Update updates an existing runner.
	Update(ctx context.Context, runner *models.Runner) error
	// TouchLastContact bumps only the last-contact timestamp.
	TouchLastContact(ctx context.Context, id models.ULID) error
	// Delete deletes a runner by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// RunnerJobRepository defines operations for runner job persistence.
type RunnerJobRepository interface {
	// Create creates a new job.
	Create(ctx context.Context, job *models.RunnerJob) error
	// GetByID retrieves a job by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.RunnerJob, error)
	// GetByUUID retrieves a job by its external UUID.
	GetByUUID(ctx context.Context, jobUUID string) (*models.RunnerJob, error)
	// List retrieves jobs matching the filter plus the total match count.
	List(ctx context.Context, filter RunnerJobFilter) ([]*models.RunnerJob, int64, error)
	// ListAvailable retrieves pending jobs a runner with the given type
	// capabilities could accept, best-first (priority DESC, created_at ASC).
	ListAvailable(ctx context.Context, types []models.RunnerJobType, limit int) ([]*models.RunnerJob, error)
	// ListStalledProcessing retrieves processing jobs whose last progress
	// report predates the relevant cutoff (live jobs stall faster).
	ListStalledProcessing(ctx context.Context, vodCutoff, liveCutoff time.Time) ([]*models.RunnerJob, error)
	// ListChildrenWaiting retrieves jobs waiting on the given parent job.
	ListChildrenWaiting(ctx context.Context, parentID models.ULID) ([]*models.RunnerJob, error)
	// Accept atomically transitions a pending job to processing under the
	// given runner and issues a fresh job token. Returns models.ErrConflict
	// if the job is no longer pending.
	Accept(ctx context.Context, id models.ULID, runnerID models.ULID) (*models.RunnerJob, error)
	// Update persists the job's current field values.
	Update(ctx context.Context, job *models.RunnerJob) error
	// Delete deletes a job by ID.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteTerminalBefore deletes terminal jobs that finished before the
	// given time, returning the number of rows removed.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// LiveSessionRepository defines operations for live session persistence.
type LiveSessionRepository interface {
	// Create creates a new live session.
	Create(ctx context.Context, session *models.LiveSession) error
	// GetByID retrieves a live session by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.LiveSession, error)
	// GetByRunnerJobID retrieves the session attached to a job, if any.
	GetByRunnerJobID(ctx context.Context, jobID models.ULID) (*models.LiveSession, error)
	// GetOpenByVideoID retrieves the not-yet-ended session for a video.
	GetOpenByVideoID(ctx context.Context, videoID models.ULID) (*models.LiveSession, error)
	// Update updates an existing live session.
	Update(ctx context.Context, session *models.LiveSession) error
	// SetErrorOnce records the session error only if none is set, returning
	// whether this call won the first-error race.
	SetErrorOnce(ctx context.Context, id models.ULID, cause models.LiveSessionError) (bool, error)
}

// VideoRepository defines operations for video and video file persistence.
type VideoRepository interface {
	// Create creates a new video.
	Create(ctx context.Context, video *models.Video) error
	// GetByID retrieves a video by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Video, error)
	// GetByUUID retrieves a video by its external UUID.
	GetByUUID(ctx context.Context, videoUUID string) (*models.Video, error)
	// Update updates an existing video.
	Update(ctx context.Context, video *models.Video) error
	// AddFile registers a produced file against a video.
	AddFile(ctx context.Context, file *models.VideoFile) error
	// GetFiles retrieves all files registered for a video.
	GetFiles(ctx context.Context, videoID models.ULID) ([]*models.VideoFile, error)
	// SumFileSizesByOwner returns the total stored bytes across all of an
	// owner's videos, for quota checks.
	SumFileSizesByOwner(ctx context.Context, ownerID models.ULID) (int64, error)
}
