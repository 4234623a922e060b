// Package handlers provides the HTTP API handlers for vodarr.
package handlers

import (
	"encoding/json"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
)

// JobResponse is the external representation of a runner job. Job tokens
// are returned only by the accept endpoint, never in listings.
type JobResponse struct {
	UUID         string          `json:"uuid"`
	Type         string          `json:"type"`
	State        string          `json:"state"`
	Priority     int             `json:"priority"`
	Progress     int             `json:"progress"`
	FailureCount int             `json:"failure_count"`
	LastError    string          `json:"last_error,omitempty"`
	VideoID      string          `json:"video_id"`
	ParentJobID  string          `json:"parent_job_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// JobFromModel converts a job model to its response shape.
func JobFromModel(j *models.RunnerJob) JobResponse {
	resp := JobResponse{
		UUID:         j.UUID,
		Type:         string(j.Type),
		State:        string(j.State),
		Priority:     j.Priority,
		Progress:     j.Progress,
		FailureCount: j.FailureCount,
		LastError:    j.LastError,
		VideoID:      j.VideoID.String(),
		Payload:      json.RawMessage(j.Payload),
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.ParentJobID != nil {
		resp.ParentJobID = j.ParentJobID.String()
	}
	if j.StartedAt != nil {
		t := time.Time(*j.StartedAt)
		resp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := time.Time(*j.FinishedAt)
		resp.FinishedAt = &t
	}
	return resp
}

// RunnerResponse is the external representation of a runner.
type RunnerResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	LastContact time.Time `json:"last_contact"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunnerFromModel converts a runner model to its response shape. The runner
// token is deliberately absent; it is returned once at registration.
func RunnerFromModel(r *models.Runner) RunnerResponse {
	return RunnerResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		Description: r.Description,
		LastContact: time.Time(r.LastContact),
		CreatedAt:   r.CreatedAt,
	}
}

// RegistrationTokenResponse is the external representation of a
// registration token. The secret is included; this surface is admin-only.
type RegistrationTokenResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// RegistrationTokenFromModel converts a registration token model.
func RegistrationTokenFromModel(t *models.RunnerRegistrationToken) RegistrationTokenResponse {
	return RegistrationTokenResponse{
		ID:        t.ID.String(),
		Token:     t.Token,
		CreatedAt: t.CreatedAt,
	}
}

// LiveSessionResponse is the external representation of a live session.
type LiveSessionResponse struct {
	ID          string     `json:"id"`
	VideoID     string     `json:"video_id"`
	Permanent   bool       `json:"permanent"`
	Error       string     `json:"error,omitempty"`
	RunnerJobID string     `json:"runner_job_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// LiveSessionFromModel converts a live session model.
func LiveSessionFromModel(s *models.LiveSession) LiveSessionResponse {
	resp := LiveSessionResponse{
		ID:        s.ID.String(),
		VideoID:   s.VideoID.String(),
		Permanent: s.Permanent,
		StartedAt: time.Time(s.StartedAt),
	}
	if s.Error != nil {
		resp.Error = string(*s.Error)
	}
	if s.RunnerJobID != nil {
		resp.RunnerJobID = s.RunnerJobID.String()
	}
	if s.EndedAt != nil {
		t := time.Time(*s.EndedAt)
		resp.EndedAt = &t
	}
	return resp
}
