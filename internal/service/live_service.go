package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// LiveService creates live sessions and their transcoding jobs when a
// broadcast starts publishing. The ingest endpoint itself is an external
// collaborator; it calls StartSession once the RTMP publish is up.
type LiveService struct {
	sessionRepo repository.LiveSessionRepository
	videoRepo   repository.VideoRepository
	jobService  *JobService
	logger      *slog.Logger
}

// NewLiveService creates a new LiveService.
func NewLiveService(
	sessionRepo repository.LiveSessionRepository,
	videoRepo repository.VideoRepository,
	jobService *JobService,
) *LiveService {
	return &LiveService{
		sessionRepo: sessionRepo,
		videoRepo:   videoRepo,
		jobService:  jobService,
		logger:      slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *LiveService) WithLogger(logger *slog.Logger) *LiveService {
	s.logger = logger
	return s
}

// StartSession opens a live session for the video and enqueues the
// transcoding job runners will pick up. A video can have one open session
// at a time.
func (s *LiveService) StartSession(ctx context.Context, videoID models.ULID, permanent bool, payload models.LiveRTMPHLSPayload) (*models.LiveSession, *models.RunnerJob, error) {
	video, err := s.videoRepo.GetByID(ctx, videoID)
	if err != nil {
		return nil, nil, err
	}
	if video == nil {
		return nil, nil, fmt.Errorf("%w: video %s", models.ErrNotFound, videoID)
	}
	if !video.IsLive {
		return nil, nil, fmt.Errorf("%w: video %s is not a live video", models.ErrInvalidPayload, video.UUID)
	}

	open, err := s.sessionRepo.GetOpenByVideoID(ctx, videoID)
	if err != nil {
		return nil, nil, err
	}
	if open != nil {
		return nil, nil, fmt.Errorf("%w: video %s already has an open live session", models.ErrConflict, video.UUID)
	}

	session := &models.LiveSession{
		VideoID:   videoID,
		Permanent: permanent,
		StartedAt: models.Now(),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, nil, err
	}

	payload.SessionID = session.ID
	job, err := s.jobService.Create(ctx, CreateJobInput{
		Type:    models.RunnerJobTypeLiveRTMPHLS,
		Payload: payload,
		VideoID: videoID,
	})
	if err != nil {
		return nil, nil, err
	}

	session.RunnerJobID = &job.ID
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return nil, nil, err
	}

	s.logger.Info("live session started",
		"session_id", session.ID.String(),
		"video_uuid", video.UUID,
		"job_uuid", job.UUID,
		"permanent", permanent)
	return session, job, nil
}

// GetSession returns one session.
func (s *LiveService) GetSession(ctx context.Context, id models.ULID) (*models.LiveSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, models.ErrNotFound
	}
	return session, nil
}
