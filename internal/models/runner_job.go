package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunnerJobType discriminates the payload shape and lifecycle of a job.
type RunnerJobType string

const (
	// RunnerJobTypeVODWebVideo transcodes an uploaded video into a web video file.
	RunnerJobTypeVODWebVideo RunnerJobType = "vod-web-video-transcoding"
	// RunnerJobTypeVODHLS transcodes an uploaded video into an HLS rendition.
	RunnerJobTypeVODHLS RunnerJobType = "vod-hls-transcoding"
	// RunnerJobTypeVODAudioMerge merges a separate audio track into a video file.
	RunnerJobTypeVODAudioMerge RunnerJobType = "vod-audio-merge-transcoding"
	// RunnerJobTypeLiveRTMPHLS transcodes a live RTMP ingest into HLS chunks.
	RunnerJobTypeLiveRTMPHLS RunnerJobType = "live-rtmp-hls-transcoding"
	// RunnerJobTypeVideoStudio applies studio edition tasks (cut, intro, outro,
	// watermark) to an existing video.
	RunnerJobTypeVideoStudio RunnerJobType = "video-studio-transcoding"
)

// KnownRunnerJobTypes returns all job types the server can dispatch.
func KnownRunnerJobTypes() []RunnerJobType {
	return []RunnerJobType{
		RunnerJobTypeVODWebVideo,
		RunnerJobTypeVODHLS,
		RunnerJobTypeVODAudioMerge,
		RunnerJobTypeLiveRTMPHLS,
		RunnerJobTypeVideoStudio,
	}
}

// IsKnown reports whether the type is in the dispatched set.
func (t RunnerJobType) IsKnown() bool {
	for _, known := range KnownRunnerJobTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// IsLive reports whether the job feeds a live session. Live jobs stall much
// faster than VOD jobs and cannot be resumed once abandoned.
func (t RunnerJobType) IsLive() bool {
	return t == RunnerJobTypeLiveRTMPHLS
}

// RunnerJobState is the job lifecycle state.
type RunnerJobState string

const (
	// RunnerJobStatePending indicates the job is waiting to be accepted.
	RunnerJobStatePending RunnerJobState = "pending"
	// RunnerJobStateProcessing indicates a runner has accepted the job and
	// holds a valid job token for it.
	RunnerJobStateProcessing RunnerJobState = "processing"
	// RunnerJobStateCompleted indicates the job finished and finalized. Terminal.
	RunnerJobStateCompleted RunnerJobState = "completed"
	// RunnerJobStateErrored indicates the retry budget is exhausted. Terminal.
	RunnerJobStateErrored RunnerJobState = "errored"
	// RunnerJobStateCancelled indicates an admin cancelled the job. Terminal.
	RunnerJobStateCancelled RunnerJobState = "cancelled"
	// RunnerJobStateWaitingForParent indicates the job cannot start until its
	// parent job completes.
	RunnerJobStateWaitingForParent RunnerJobState = "waiting-for-parent-job"
)

// IsTerminal reports whether the state is immutable.
func (s RunnerJobState) IsTerminal() bool {
	return s == RunnerJobStateCompleted || s == RunnerJobStateErrored || s == RunnerJobStateCancelled
}

// RunnerJob is the central work item handed to runners.
//
// A job token is valid only while the job is processing and only for the
// runner that last accepted it; every transition away from processing
// invalidates the token.
type RunnerJob struct {
	BaseModel

	// UUID is the external identifier used on the REST surface.
	UUID string `gorm:"not null;uniqueIndex;type:varchar(36)" json:"uuid"`

	// Type discriminates the payload shape.
	Type RunnerJobType `gorm:"not null;size:50;index" json:"type"`

	// State is the lifecycle state.
	State RunnerJobState `gorm:"not null;default:'pending';size:30;index" json:"state"`

	// Priority determines dispatch order (higher = dispatched first).
	Priority int `gorm:"default:0;index" json:"priority"`

	// Progress is 0-100, expected monotonic while processing. Lower values
	// are accepted but logged as anomalous since runners may restart
	// internal counters.
	Progress int `gorm:"default:0" json:"progress"`

	// Payload is the type-specific job input, immutable once created.
	// Encoded/decoded through the tagged union in payload.go.
	Payload []byte `gorm:"type:text" json:"-"`

	// Token is the job token secret, reissued on every accept.
	Token string `gorm:"size:128;index" json:"-" masq:"secret"`

	// RunnerID is the owning runner, set only while processing.
	RunnerID *ULID `gorm:"type:varchar(26);index" json:"runner_id,omitempty"`

	// VideoID references the video this job produces artifacts for.
	VideoID ULID `gorm:"not null;type:varchar(26);index" json:"video_id"`

	// FailureCount counts error transitions (including reaper-forced ones);
	// once it reaches the retry budget the job becomes errored.
	FailureCount int `gorm:"default:0" json:"failure_count"`

	// ParentJobID holds the job this one waits for, if any.
	ParentJobID *ULID `gorm:"type:varchar(26);index" json:"parent_job_id,omitempty"`

	// LastError contains the most recent error or abort reason.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// StartedAt is set on first accept.
	StartedAt *Time `json:"started_at,omitempty"`

	// FinishedAt is set on any terminal transition.
	FinishedAt *Time `json:"finished_at,omitempty"`

	// ProgressAt is the timestamp of the last accept or update; the reaper
	// uses it for stall detection.
	ProgressAt *Time `gorm:"index" json:"progress_at,omitempty"`
}

// TableName returns the table name for RunnerJob.
func (RunnerJob) TableName() string {
	return "runner_jobs"
}

// Validate performs basic validation on the job.
func (j *RunnerJob) Validate() error {
	if j.Type == "" {
		return ErrJobTypeRequired
	}
	if !j.Type.IsKnown() {
		return ErrUnknownJobType
	}
	if j.VideoID.IsZero() {
		return ErrVideoIDRequired
	}
	return nil
}

// BeforeCreate validates the job and generates identifiers.
func (j *RunnerJob) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if j.UUID == "" {
		j.UUID = uuid.NewString()
	}
	if j.State == "" {
		j.State = RunnerJobStatePending
	}
	return j.Validate()
}

// IsProcessing reports whether a runner currently owns the job.
func (j *RunnerJob) IsProcessing() bool {
	return j.State == RunnerJobStateProcessing
}

// IsTerminal reports whether the job reached an immutable state.
func (j *RunnerJob) IsTerminal() bool {
	return j.State.IsTerminal()
}

// OwnedBy reports whether the given runner currently owns the job.
func (j *RunnerJob) OwnedBy(runnerID ULID) bool {
	return j.RunnerID != nil && *j.RunnerID == runnerID
}

// MarkAccepted transitions the job to processing under the given runner and
// issues a fresh job token. The failure count is deliberately untouched.
func (j *RunnerJob) MarkAccepted(runnerID ULID) {
	now := Now()
	j.State = RunnerJobStateProcessing
	j.RunnerID = &runnerID
	j.Token = NewJobTokenString()
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.ProgressAt = &now
}

// MarkProgress records a progress report and bumps the stall clock.
func (j *RunnerJob) MarkProgress(progress int) {
	now := Now()
	j.Progress = progress
	j.ProgressAt = &now
}

// MarkAborted re-queues the job and releases the runner. Aborts signal the
// runner chose to give up, not that the job is broken, so the failure count
// is unchanged.
func (j *RunnerJob) MarkAborted(reason string) {
	j.State = RunnerJobStatePending
	j.releaseRunner()
	j.Progress = 0
	j.LastError = reason
}

// MarkErrored records a failure. The job is re-queued while retries remain
// in the given budget, and becomes errored (terminal) once the budget is
// exhausted. Returns true if the job was re-queued.
func (j *RunnerJob) MarkErrored(message string, retryBudget int) bool {
	j.FailureCount++
	j.LastError = message
	j.releaseRunner()
	j.Progress = 0

	if j.FailureCount < retryBudget {
		j.State = RunnerJobStatePending
		return true
	}

	now := Now()
	j.State = RunnerJobStateErrored
	j.FinishedAt = &now
	return false
}

// MarkCompleted finalizes the job as successful.
func (j *RunnerJob) MarkCompleted() {
	now := Now()
	j.State = RunnerJobStateCompleted
	j.Progress = 100
	j.releaseRunner()
	j.FinishedAt = &now
}

// MarkCancelled finalizes the job as admin-cancelled. The stale job token is
// invalidated so the runner's next authenticated call fails.
func (j *RunnerJob) MarkCancelled() {
	now := Now()
	j.State = RunnerJobStateCancelled
	j.releaseRunner()
	j.FinishedAt = &now
}

// releaseRunner clears ownership and poisons the current job token.
func (j *RunnerJob) releaseRunner() {
	j.RunnerID = nil
	j.Token = ""
}
