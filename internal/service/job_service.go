package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/relay"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// maxParentChainDepth bounds the walk that validates acyclicity of the
// parent/child job graph at creation time.
const maxParentChainDepth = 32

// CreateJobInput describes a new job.
type CreateJobInput struct {
	Type        models.RunnerJobType
	Payload     models.JobPayload
	Priority    int
	VideoID     models.ULID
	ParentJobID *models.ULID
}

// UpdateInput is one authenticated update call from a runner.
type UpdateInput struct {
	JobUUID     string
	RunnerToken string
	JobToken    string
	Progress    *int
	LiveUpdate  *relay.ChunkUpdate
}

// JobService owns the runner job state machine: creation, dispatch, every
// authenticated runner call, and admin transitions. All state changes flow
// through here so token invalidation and live session bookkeeping cannot be
// skipped.
type JobService struct {
	jobRepo     repository.RunnerJobRepository
	videoRepo   repository.VideoRepository
	sessionRepo repository.LiveSessionRepository
	regService  *RegistrationService
	relayStore  *relay.Store
	finalizer   *Finalizer
	locks       *VideoLocker
	cfg         config.JobsConfig
	logger      *slog.Logger
}

// NewJobService creates a new JobService.
func NewJobService(
	jobRepo repository.RunnerJobRepository,
	videoRepo repository.VideoRepository,
	sessionRepo repository.LiveSessionRepository,
	regService *RegistrationService,
	relayStore *relay.Store,
	finalizer *Finalizer,
	cfg config.JobsConfig,
) *JobService {
	return &JobService{
		jobRepo:     jobRepo,
		videoRepo:   videoRepo,
		sessionRepo: sessionRepo,
		regService:  regService,
		relayStore:  relayStore,
		finalizer:   finalizer,
		locks:       NewVideoLocker(),
		cfg:         cfg,
		logger:      slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *JobService) WithLogger(logger *slog.Logger) *JobService {
	s.logger = logger
	return s
}

// Create validates and persists a new job. VOD jobs are rejected with
// ErrQuotaExceeded before any row is created if the video's owner is already
// at quota. A parentJobID puts the job in waiting-for-parent-job unless the
// parent has already completed.
func (s *JobService) Create(ctx context.Context, in CreateJobInput) (*models.RunnerJob, error) {
	if !in.Type.IsKnown() {
		return nil, models.ErrUnknownJobType
	}

	video, err := s.videoRepo.GetByID(ctx, in.VideoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, fmt.Errorf("%w: video %s", models.ErrNotFound, in.VideoID)
	}

	if !in.Type.IsLive() {
		if err := s.checkQuota(ctx, video.OwnerID); err != nil {
			return nil, err
		}
	}

	state := models.RunnerJobStatePending
	if in.ParentJobID != nil {
		parent, err := s.validateParentChain(ctx, *in.ParentJobID)
		if err != nil {
			return nil, err
		}
		if parent.State != models.RunnerJobStateCompleted {
			state = models.RunnerJobStateWaitingForParent
		}
	}

	job := &models.RunnerJob{
		Type:        in.Type,
		State:       state,
		Priority:    in.Priority,
		VideoID:     in.VideoID,
		ParentJobID: in.ParentJobID,
	}
	if err := job.SetPayload(in.Payload); err != nil {
		return nil, err
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job created",
		"job_uuid", job.UUID,
		"job_type", string(job.Type),
		"state", string(job.State),
		"video_uuid", video.UUID,
		"priority", job.Priority)
	return job, nil
}

// checkQuota rejects new VOD work for owners already at quota.
func (s *JobService) checkQuota(ctx context.Context, ownerID models.ULID) error {
	if s.cfg.UserQuotaBytes <= 0 {
		return nil
	}
	used, err := s.videoRepo.SumFileSizesByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if used >= s.cfg.UserQuotaBytes {
		return fmt.Errorf("%w: %d of %d bytes used", models.ErrQuotaExceeded, used, s.cfg.UserQuotaBytes)
	}
	return nil
}

// validateParentChain resolves the parent and walks its ancestry to reject
// cyclic or unreasonably deep dependency chains.
func (s *JobService) validateParentChain(ctx context.Context, parentID models.ULID) (*models.RunnerJob, error) {
	parent, err := s.jobRepo.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: parent job %s", models.ErrNotFound, parentID)
	}

	seen := map[models.ULID]bool{parentID: true}
	current := parent
	for depth := 0; current.ParentJobID != nil; depth++ {
		if depth >= maxParentChainDepth {
			return nil, models.ErrParentJobCycle
		}
		next := *current.ParentJobID
		if seen[next] {
			return nil, models.ErrParentJobCycle
		}
		seen[next] = true

		current, err = s.jobRepo.GetByID(ctx, next)
		if err != nil {
			return nil, err
		}
		if current == nil {
			break
		}
	}
	return parent, nil
}

// RequestAvailable authenticates a runner and returns the pending jobs it
// could accept, filtered by its declared type capabilities.
func (s *JobService) RequestAvailable(ctx context.Context, runnerToken string, capabilities []models.RunnerJobType) ([]*models.RunnerJob, error) {
	if _, err := s.regService.AuthenticateRunner(ctx, runnerToken); err != nil {
		return nil, err
	}
	if len(capabilities) == 0 {
		capabilities = models.KnownRunnerJobTypes()
	}
	return s.jobRepo.ListAvailable(ctx, capabilities, s.cfg.MaxAvailableJobs)
}

// Accept atomically assigns a pending job to the calling runner and returns
// the job carrying its freshly issued job token. Losing the accept race
// yields ErrConflict.
func (s *JobService) Accept(ctx context.Context, jobUUID, runnerToken string) (*models.RunnerJob, error) {
	runner, err := s.regService.AuthenticateRunner(ctx, runnerToken)
	if err != nil {
		return nil, err
	}

	job, err := s.getByUUID(ctx, jobUUID)
	if err != nil {
		return nil, err
	}

	accepted, err := s.jobRepo.Accept(ctx, job.ID, runner.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("job accepted",
		"job_uuid", accepted.UUID,
		"job_type", string(accepted.Type),
		"runner_id", runner.ID.String(),
		"runner_name", runner.Name)
	return accepted, nil
}

// Authenticate guards every update/success/error/abort call: the runner
// token must resolve, the job must exist, be processing, be owned by that
// runner, and carry the presented job token. Stale tokens fail Forbidden.
func (s *JobService) Authenticate(ctx context.Context, jobUUID, runnerToken, jobToken string) (*models.RunnerJob, *models.Runner, error) {
	runner, err := s.regService.AuthenticateRunner(ctx, runnerToken)
	if err != nil {
		return nil, nil, err
	}

	job, err := s.getByUUID(ctx, jobUUID)
	if err != nil {
		return nil, nil, err
	}

	if !job.IsProcessing() || !job.OwnedBy(runner.ID) || job.Token == "" || job.Token != jobToken {
		return nil, nil, models.ErrForbidden
	}
	return job, runner, nil
}

// Update records a progress report and, for live jobs, applies the chunk
// update to the relay store. A progress regression is accepted but logged as
// anomalous since runners may restart internal counters.
func (s *JobService) Update(ctx context.Context, in UpdateInput) (*models.RunnerJob, error) {
	job, _, err := s.Authenticate(ctx, in.JobUUID, in.RunnerToken, in.JobToken)
	if err != nil {
		return nil, err
	}

	if in.LiveUpdate != nil {
		if !job.Type.IsLive() {
			return nil, fmt.Errorf("%w: chunk update on non-live job", models.ErrInvalidPayload)
		}
		video, err := s.videoRepo.GetByID(ctx, job.VideoID)
		if err != nil {
			return nil, err
		}
		if video == nil {
			return nil, fmt.Errorf("%w: video %s", models.ErrNotFound, job.VideoID)
		}
		if err := s.relayStore.Apply(video.UUID, *in.LiveUpdate); err != nil {
			return nil, err
		}
	}

	progress := job.Progress
	if in.Progress != nil {
		progress = *in.Progress
		if progress < job.Progress {
			s.logger.Warn("anomalous progress regression",
				"job_uuid", job.UUID,
				"previous", job.Progress,
				"reported", progress)
		}
	}
	job.MarkProgress(progress)

	if err := s.jobRepo.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Abort re-queues a VOD job at the runner's request. Not counted as a
// failure. A live job cannot be resumed by another runner once its relay
// went silent, so a live abort follows the error path instead: session
// ended, relay torn down.
func (s *JobService) Abort(ctx context.Context, jobUUID, runnerToken, jobToken, reason string) error {
	job, runner, err := s.Authenticate(ctx, jobUUID, runnerToken, jobToken)
	if err != nil {
		return err
	}

	if job.Type.IsLive() {
		message := reason
		if message == "" {
			message = "aborted by runner"
		}
		s.logger.Info("live job aborted by runner",
			"job_uuid", job.UUID,
			"runner_name", runner.Name,
			"reason", reason)
		return s.applyErrorTransition(ctx, job, message, models.LiveSessionErrorTranscodingFailed)
	}

	job.MarkAborted(reason)
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return err
	}

	s.logger.Info("job aborted by runner",
		"job_uuid", job.UUID,
		"runner_name", runner.Name,
		"reason", reason)
	return nil
}

// Error records a runner-reported failure, re-queueing while retries remain.
func (s *JobService) Error(ctx context.Context, jobUUID, runnerToken, jobToken, message string) error {
	job, _, err := s.Authenticate(ctx, jobUUID, runnerToken, jobToken)
	if err != nil {
		return err
	}
	return s.applyErrorTransition(ctx, job, message, models.LiveSessionErrorTranscodingFailed)
}

// Success finalizes the job. A malformed or mismatched payload returns
// ErrInvalidPayload with the job left processing so the runner can retry
// with a corrected payload; internal finalization failures become the job's
// own error transition so they are never silently dropped.
func (s *JobService) Success(ctx context.Context, jobUUID, runnerToken, jobToken string, rawPayload []byte) error {
	job, _, err := s.Authenticate(ctx, jobUUID, runnerToken, jobToken)
	if err != nil {
		return err
	}

	video, err := s.videoRepo.GetByID(ctx, job.VideoID)
	if err != nil {
		return err
	}
	if video == nil {
		return fmt.Errorf("%w: video %s", models.ErrNotFound, job.VideoID)
	}

	unlock := s.locks.Lock(job.VideoID)
	defer unlock()

	if err := s.finalizer.Finalize(ctx, job, video, rawPayload); err != nil {
		if errors.Is(err, models.ErrInvalidPayload) {
			return err
		}
		s.logger.Error("finalization failed, converting to error transition",
			"job_uuid", job.UUID,
			"error", err)
		if terr := s.applyErrorTransition(ctx, job, fmt.Sprintf("finalization failed: %v", err), models.LiveSessionErrorTranscodingFailed); terr != nil {
			return terr
		}
		return err
	}

	job.MarkCompleted()
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return err
	}

	s.logger.Info("job completed", "job_uuid", job.UUID, "job_type", string(job.Type))
	return s.promoteChildren(ctx, job)
}

// CancelByAdmin cancels a job from pending/processing/waiting. For live jobs
// the session error is set to job-cancelled and the relay store torn down.
// The owning runner discovers cancellation on its next authenticated call.
func (s *JobService) CancelByAdmin(ctx context.Context, jobUUID string) error {
	job, err := s.getByUUID(ctx, jobUUID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return models.ErrConflict
	}

	job.MarkCancelled()
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return err
	}

	if job.Type.IsLive() {
		s.failLiveSession(ctx, job, models.LiveSessionErrorJobCancelled)
	}

	s.logger.Info("job cancelled by admin", "job_uuid", job.UUID, "job_type", string(job.Type))
	return nil
}

// DeleteByAdmin removes a job. Non-terminal jobs are cancelled first so the
// stale token and any live session are dealt with before the row disappears.
func (s *JobService) DeleteByAdmin(ctx context.Context, jobUUID string) error {
	job, err := s.getByUUID(ctx, jobUUID)
	if err != nil {
		return err
	}

	if !job.IsTerminal() {
		if err := s.CancelByAdmin(ctx, jobUUID); err != nil {
			return err
		}
	}

	if err := s.jobRepo.Delete(ctx, job.ID); err != nil {
		return err
	}
	s.logger.Info("job deleted by admin", "job_uuid", job.UUID)
	return nil
}

// List returns jobs for the admin surface.
func (s *JobService) List(ctx context.Context, filter repository.RunnerJobFilter) ([]*models.RunnerJob, int64, error) {
	return s.jobRepo.List(ctx, filter)
}

// GetByUUID returns one job for the admin surface.
func (s *JobService) GetByUUID(ctx context.Context, jobUUID string) (*models.RunnerJob, error) {
	return s.getByUUID(ctx, jobUUID)
}

// ReapStalled sweeps processing jobs whose owning runner went silent. VOD
// and live jobs use distinct staleness windows. Every forced transition is
// logged with the job id and the staleness that triggered it.
func (s *JobService) ReapStalled(ctx context.Context) error {
	now := time.Now()
	vodCutoff := now.Add(-s.cfg.VODStallTimeout)
	liveCutoff := now.Add(-s.cfg.LiveStallTimeout)

	stalled, err := s.jobRepo.ListStalledProcessing(ctx, vodCutoff, liveCutoff)
	if err != nil {
		return err
	}

	for _, job := range stalled {
		staleness := now.Sub(*job.ProgressAt)
		s.logger.Warn("reaping stalled job",
			"job_uuid", job.UUID,
			"job_type", string(job.Type),
			"staleness", staleness.String())

		message := fmt.Sprintf("no progress for %s, presumed stalled", staleness.Round(time.Second))
		if err := s.applyErrorTransition(ctx, job, message, models.LiveSessionErrorStalled); err != nil {
			s.logger.Error("failed to reap stalled job", "job_uuid", job.UUID, "error", err)
		}
	}
	return nil
}

// applyErrorTransition is the single path for every failure: runner-reported
// errors, stalled reaps, and internal finalization faults. The job is
// re-queued while the type's retry budget allows, terminal otherwise.
func (s *JobService) applyErrorTransition(ctx context.Context, job *models.RunnerJob, message string, cause models.LiveSessionError) error {
	budget := s.cfg.VODRetryBudget
	if job.Type.IsLive() {
		budget = s.cfg.LiveRetryBudget
	}

	requeued := job.MarkErrored(message, budget)
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return err
	}

	if requeued {
		s.logger.Info("job re-queued after failure",
			"job_uuid", job.UUID,
			"failure_count", job.FailureCount,
			"retry_budget", budget,
			"error", message)
		return nil
	}

	s.logger.Warn("job errored, retry budget exhausted",
		"job_uuid", job.UUID,
		"failure_count", job.FailureCount,
		"error", message)

	if job.Type.IsLive() {
		s.failLiveSession(ctx, job, cause)
		return nil
	}
	return s.flagVideoDegraded(ctx, job)
}

// failLiveSession records the session's first error, ends it, and tears the
// relay store down. Errors here are logged, not propagated: the job's own
// transition already happened and must not be rolled back.
func (s *JobService) failLiveSession(ctx context.Context, job *models.RunnerJob, cause models.LiveSessionError) {
	session, err := s.sessionRepo.GetByRunnerJobID(ctx, job.ID)
	if err != nil {
		s.logger.Error("looking up live session", "job_uuid", job.UUID, "error", err)
		return
	}
	if session != nil {
		won, err := s.sessionRepo.SetErrorOnce(ctx, session.ID, cause)
		if err != nil {
			s.logger.Error("setting live session error", "job_uuid", job.UUID, "error", err)
		} else if won {
			s.logger.Info("live session error recorded",
				"session_id", session.ID.String(),
				"cause", string(cause))
		}
		session.MarkEnded()
		if err := s.sessionRepo.Update(ctx, session); err != nil {
			s.logger.Error("ending live session", "job_uuid", job.UUID, "error", err)
		}
	}

	video, err := s.videoRepo.GetByID(ctx, job.VideoID)
	if err != nil || video == nil {
		s.logger.Error("looking up live video for teardown", "job_uuid", job.UUID, "error", err)
		return
	}
	if err := s.relayStore.Teardown(video.UUID); err != nil {
		s.logger.Error("tearing down relay store", "video_uuid", video.UUID, "error", err)
	}
}

// flagVideoDegraded marks the video so its owner sees missing renditions
// instead of a silent gap.
func (s *JobService) flagVideoDegraded(ctx context.Context, job *models.RunnerJob) error {
	video, err := s.videoRepo.GetByID(ctx, job.VideoID)
	if err != nil {
		return err
	}
	if video == nil {
		return nil
	}
	video.Degraded = true
	return s.videoRepo.Update(ctx, video)
}

// promoteChildren moves jobs waiting on a completed parent to pending.
// Children of errored or cancelled parents stay waiting.
func (s *JobService) promoteChildren(ctx context.Context, parent *models.RunnerJob) error {
	children, err := s.jobRepo.ListChildrenWaiting(ctx, parent.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		child.State = models.RunnerJobStatePending
		if err := s.jobRepo.Update(ctx, child); err != nil {
			return err
		}
		s.logger.Info("child job promoted",
			"job_uuid", child.UUID,
			"parent_uuid", parent.UUID)
	}
	return nil
}

func (s *JobService) getByUUID(ctx context.Context, jobUUID string) (*models.RunnerJob, error) {
	job, err := s.jobRepo.GetByUUID(ctx, jobUUID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, jobUUID)
	}
	return job, nil
}
