package models

import "errors"

// Domain error taxonomy. Services return these (wrapped where useful) and the
// HTTP layer maps them onto status codes.
var (
	// ErrInvalidRegistrationToken indicates an unknown registration token.
	ErrInvalidRegistrationToken = errors.New("invalid registration token")

	// ErrForbidden indicates an authentication mismatch: wrong runner token,
	// stale job token, or a job no longer owned by the calling runner.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates the job is not in the expected state for the
	// requested transition, e.g. two runners racing to accept the same job.
	ErrConflict = errors.New("job is not in the expected state")

	// ErrNotFound indicates an unknown job, runner, or file.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPayload indicates a malformed payload or a payload whose
	// shape does not match the job's declared type.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrQuotaExceeded indicates the video owner is over their storage quota.
	ErrQuotaExceeded = errors.New("user quota exceeded")

	// ErrParentJobCycle indicates a parent reference that would create a
	// cycle in the job dependency graph.
	ErrParentJobCycle = errors.New("parent job cycle detected")
)

// Model validation errors.
var (
	// ErrJobTypeRequired indicates a job was created without a type.
	ErrJobTypeRequired = errors.New("job type is required")

	// ErrUnknownJobType indicates a job type outside the known set.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrRunnerNameRequired indicates a runner registration without a name.
	ErrRunnerNameRequired = errors.New("runner name is required")

	// ErrVideoIDRequired indicates a job or session without an owning video.
	ErrVideoIDRequired = errors.New("video_id is required")
)
