package models

// LiveSessionError is the fixed taxonomy of live session failure causes,
// read by downstream federation/replay logic.
type LiveSessionError string

const (
	// LiveSessionErrorBadIngest indicates the RTMP ingest was unusable.
	LiveSessionErrorBadIngest LiveSessionError = "bad-ingest"
	// LiveSessionErrorTranscodingFailed indicates the runner reported an error.
	LiveSessionErrorTranscodingFailed LiveSessionError = "transcoding-failed"
	// LiveSessionErrorJobCancelled indicates an admin cancelled the job.
	LiveSessionErrorJobCancelled LiveSessionError = "job-cancelled"
	// LiveSessionErrorStalled indicates the reaper killed a silent live job.
	LiveSessionErrorStalled LiveSessionError = "stalled"
	// LiveSessionErrorQuotaExceeded indicates the owner ran out of quota.
	LiveSessionErrorQuotaExceeded LiveSessionError = "quota-exceeded"
)

// LiveSession tracks one ongoing live broadcast. The error field is the only
// mutable part after creation and is set at most once: the first error wins.
type LiveSession struct {
	BaseModel

	// VideoID is the live video this session broadcasts.
	VideoID ULID `gorm:"not null;type:varchar(26);index" json:"video_id"`

	// Permanent marks a reusable live session; its next broadcast starts a
	// fresh relay store.
	Permanent bool `gorm:"default:false" json:"permanent"`

	// Error is the first failure recorded for this session, nil on a clean
	// broadcast.
	Error *LiveSessionError `gorm:"size:50" json:"error,omitempty"`

	// RunnerJobID references the transcoding job while one is in flight.
	RunnerJobID *ULID `gorm:"type:varchar(26);index" json:"runner_job_id,omitempty"`

	// StartedAt is when the broadcast began publishing.
	StartedAt Time `json:"started_at"`

	// EndedAt is set when the session finishes, cleanly or not.
	EndedAt *Time `json:"ended_at,omitempty"`
}

// TableName returns the table name for LiveSession.
func (LiveSession) TableName() string {
	return "live_sessions"
}

// SetError records the session error if none is set yet.
// Returns true if this call won the first-error race.
func (s *LiveSession) SetError(cause LiveSessionError) bool {
	if s.Error != nil {
		return false
	}
	s.Error = &cause
	return true
}

// MarkEnded closes the session.
func (s *LiveSession) MarkEnded() {
	if s.EndedAt == nil {
		now := Now()
		s.EndedAt = &now
	}
}

// IsEnded reports whether the session has finished.
func (s *LiveSession) IsEnded() bool {
	return s.EndedAt != nil
}
