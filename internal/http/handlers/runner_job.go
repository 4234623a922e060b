package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/relay"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/service"
)

// Multipart form field names used by the update and success endpoints.
const (
	formFieldRunnerToken       = "runnerToken"
	formFieldJobToken          = "jobToken"
	formFieldProgress          = "progress"
	formFieldPayload           = "payload"
	formFileMasterPlaylist     = "masterPlaylistFile"
	formFileResolutionPlaylist = "resolutionPlaylistFile"
	formFileVideoChunk         = "videoChunkFile"
	formFileVideo              = "videoFile"
)

// RunnerJobHandler handles the runner-facing job endpoints and the admin
// job surface.
type RunnerJobHandler struct {
	jobService *service.JobService
}

// NewRunnerJobHandler creates a new runner job handler.
func NewRunnerJobHandler(jobService *service.JobService) *RunnerJobHandler {
	return &RunnerJobHandler{jobService: jobService}
}

// Register registers the job routes with the API.
func (h *RunnerJobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRunnerJobs",
		Method:      "GET",
		Path:        "/api/v1/runners/jobs",
		Summary:     "List jobs",
		Description: "Returns jobs with state, search, and pagination filters",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRunnerJob",
		Method:      "GET",
		Path:        "/api/v1/runners/jobs/{uuid}",
		Summary:     "Get job",
		Tags:        []string{"Jobs"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "cancelRunnerJob",
		Method:        "POST",
		Path:          "/api/v1/runners/jobs/{uuid}/cancel",
		Summary:       "Cancel job",
		Description:   "Cancels a non-terminal job; the runner discovers the cancellation on its next authenticated call",
		Tags:          []string{"Jobs"},
		DefaultStatus: 204,
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteRunnerJob",
		Method:        "DELETE",
		Path:          "/api/v1/runners/jobs/{uuid}",
		Summary:       "Delete job",
		Description:   "Deletes a job, cancelling it first when still active",
		Tags:          []string{"Jobs"},
		DefaultStatus: 204,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "requestRunnerJobs",
		Method:      "POST",
		Path:        "/api/v1/runners/jobs/request",
		Summary:     "Request available jobs",
		Description: "Returns pending jobs matching the runner's declared job type capabilities",
		Tags:        []string{"Runner protocol"},
	}, h.Request)

	huma.Register(api, huma.Operation{
		OperationID: "acceptRunnerJob",
		Method:      "POST",
		Path:        "/api/v1/runners/jobs/{uuid}/accept",
		Summary:     "Accept job",
		Description: "Atomically claims a pending job; losers of the race get a 409",
		Tags:        []string{"Runner protocol"},
	}, h.Accept)

	huma.Register(api, huma.Operation{
		OperationID:   "abortRunnerJob",
		Method:        "POST",
		Path:          "/api/v1/runners/jobs/{uuid}/abort",
		Summary:       "Abort job",
		Description:   "Returns the job to the queue without counting a failure",
		Tags:          []string{"Runner protocol"},
		DefaultStatus: 204,
	}, h.Abort)

	huma.Register(api, huma.Operation{
		OperationID: "updateRunnerJob",
		Method:      "POST",
		Path:        "/api/v1/runners/jobs/{uuid}/update",
		Summary:     "Update job",
		Description: "Reports progress; live jobs attach chunk updates as multipart files",
		Tags:        []string{"Runner protocol"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID:   "errorRunnerJob",
		Method:        "POST",
		Path:          "/api/v1/runners/jobs/{uuid}/error",
		Summary:       "Report job error",
		Tags:          []string{"Runner protocol"},
		DefaultStatus: 204,
	}, h.Error)

	huma.Register(api, huma.Operation{
		OperationID:   "successRunnerJob",
		Method:        "POST",
		Path:          "/api/v1/runners/jobs/{uuid}/success",
		Summary:       "Report job success",
		Description:   "Delivers the result payload, inline as a multipart file or by object store reference",
		Tags:          []string{"Runner protocol"},
		DefaultStatus: 204,
	}, h.Success)
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	States []string `query:"state" doc:"Filter to jobs in any of these states"`
	Search string   `query:"search" doc:"Substring match on job UUID and type"`
	Offset int      `query:"offset" minimum:"0"`
	Limit  int      `query:"limit" minimum:"0" maximum:"100"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs  []JobResponse `json:"jobs"`
		Total int64         `json:"total"`
	}
}

// List returns jobs matching the filters.
func (h *RunnerJobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	filter := repository.RunnerJobFilter{
		Search: input.Search,
		Offset: input.Offset,
		Limit:  input.Limit,
	}
	for _, s := range input.States {
		filter.States = append(filter.States, models.RunnerJobState(s))
	}

	jobs, total, err := h.jobService.List(ctx, filter)
	if err != nil {
		return nil, mapServiceError(err, "failed to list jobs")
	}

	resp := &ListJobsOutput{}
	resp.Body.Total = total
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	UUID string `path:"uuid" doc:"Job UUID"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// Get returns a job by UUID.
func (h *RunnerJobHandler) Get(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	job, err := h.jobService.GetByUUID(ctx, input.UUID)
	if err != nil {
		return nil, mapServiceError(err, fmt.Sprintf("job %s not found", input.UUID))
	}
	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

// CancelJobInput is the input for cancelling a job.
type CancelJobInput struct {
	UUID string `path:"uuid" doc:"Job UUID"`
}

// CancelJobOutput is the output for cancelling a job.
type CancelJobOutput struct{}

// Cancel cancels a non-terminal job.
func (h *RunnerJobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	if err := h.jobService.CancelByAdmin(ctx, input.UUID); err != nil {
		return nil, mapServiceError(err, fmt.Sprintf("cannot cancel job %s", input.UUID))
	}
	return &CancelJobOutput{}, nil
}

// DeleteJobInput is the input for deleting a job.
type DeleteJobInput struct {
	UUID string `path:"uuid" doc:"Job UUID"`
}

// DeleteJobOutput is the output for deleting a job.
type DeleteJobOutput struct{}

// Delete removes a job.
func (h *RunnerJobHandler) Delete(ctx context.Context, input *DeleteJobInput) (*DeleteJobOutput, error) {
	if err := h.jobService.DeleteByAdmin(ctx, input.UUID); err != nil {
		return nil, mapServiceError(err, fmt.Sprintf("cannot delete job %s", input.UUID))
	}
	return &DeleteJobOutput{}, nil
}

// RequestJobsInput is the input for requesting available jobs.
type RequestJobsInput struct {
	Body struct {
		RunnerToken string   `json:"runner_token"`
		JobTypes    []string `json:"job_types,omitempty" doc:"Job types this runner can process; empty means all"`
	}
}

// RequestJobsOutput is the output for requesting available jobs.
type RequestJobsOutput struct {
	Body struct {
		AvailableJobs []JobResponse `json:"available_jobs"`
	}
}

// Request returns the pending jobs a runner could accept.
func (h *RunnerJobHandler) Request(ctx context.Context, input *RequestJobsInput) (*RequestJobsOutput, error) {
	capabilities := make([]models.RunnerJobType, 0, len(input.Body.JobTypes))
	for _, t := range input.Body.JobTypes {
		capabilities = append(capabilities, models.RunnerJobType(t))
	}

	jobs, err := h.jobService.RequestAvailable(ctx, input.Body.RunnerToken, capabilities)
	if err != nil {
		return nil, mapServiceError(err, "unknown runner")
	}

	resp := &RequestJobsOutput{}
	resp.Body.AvailableJobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.AvailableJobs = append(resp.Body.AvailableJobs, JobFromModel(j))
	}
	return resp, nil
}

// AcceptJobInput is the input for accepting a job.
type AcceptJobInput struct {
	UUID string `path:"uuid" doc:"Job UUID"`
	Body struct {
		RunnerToken string `json:"runner_token"`
	}
}

// AcceptJobOutput is the output for accepting a job.
type AcceptJobOutput struct {
	Body struct {
		Job      JobResponse `json:"job"`
		JobToken string      `json:"job_token"`
	}
}

// Accept atomically claims a pending job for the calling runner.
func (h *RunnerJobHandler) Accept(ctx context.Context, input *AcceptJobInput) (*AcceptJobOutput, error) {
	job, err := h.jobService.Accept(ctx, input.UUID, input.Body.RunnerToken)
	if err != nil {
		return nil, mapServiceError(err, fmt.Sprintf("cannot accept job %s", input.UUID))
	}

	resp := &AcceptJobOutput{}
	resp.Body.Job = JobFromModel(job)
	resp.Body.JobToken = job.Token
	return resp, nil
}

// AbortJobInput is the input for aborting a job.
type AbortJobInput struct {
	UUID string `path:"uuid" doc:"Job UUID"`
	Body struct {
		RunnerToken string `json:"runner_token"`
		JobToken    string `json:"job_token"`
		Reason      string `json:"reason,omitempty"`
	}
}

// AbortJobOutput is the output for aborting a job.
type AbortJobOutput struct{}

// Abort returns the job to the queue.
func (h *RunnerJobHandler) Abort(ctx context.Context, input *AbortJobInput) (*AbortJobOutput, error) {
	err := h.jobService.Abort(ctx, input.UUID, input.Body.RunnerToken, input.Body.JobToken, input.Body.Reason)
	if err != nil {
		return nil, mapServiceError(err, fmt.Sprintf("cannot abort job %s", input.UUID))
	}
	return &AbortJobOutput{}, nil
}

// ErrorJobInput is the input for reporting a job error.
type ErrorJobInput struct {
	UUID string `path:"uuid" doc:"Job UUID"`
	Body struct {
		RunnerToken string `json:"runner_token"`
		JobToken    string `json:"job_token"`
		Message     string `json:"message"`
	}
}

// ErrorJobOutput is the output for reporting a job error.
type ErrorJobOutput struct{}

// Error records a runner-reported failure.
func (h *RunnerJobHandler) Error(ctx context.Context, input *ErrorJobInput) (*ErrorJobOutput, error) {
	err := h.jobService.Error(ctx, input.UUID, input.Body.RunnerToken, input.Body.JobToken, input.Body.Message)
	if err != nil {
		return nil, mapServiceError(err, fmt.Sprintf("cannot report error for job %s", input.UUID))
	}
	return &ErrorJobOutput{}, nil
}

// UpdateJobInput is the multipart input for job updates.
type UpdateJobInput struct {
	UUID    string         `path:"uuid" doc:"Job UUID"`
	RawBody multipart.Form `contentType:"multipart/form-data"`
}

// UpdateJobOutput is the output for job updates.
type UpdateJobOutput struct {
	Body JobResponse
}

// Update reports progress and, for live jobs, applies a chunk update.
func (h *RunnerJobHandler) Update(ctx context.Context, input *UpdateJobInput) (*UpdateJobOutput, error) {
	form := &input.RawBody

	in := service.UpdateInput{
		JobUUID:     input.UUID,
		RunnerToken: formValue(form, formFieldRunnerToken),
		JobToken:    formValue(form, formFieldJobToken),
	}

	if raw := formValue(form, formFieldProgress); raw != "" {
		progress, err := strconv.Atoi(raw)
		if err != nil {
			return nil, huma.Error400BadRequest("progress must be an integer", err)
		}
		in.Progress = &progress
	}

	rawPayload := formValue(form, formFieldPayload)
	if rawPayload != "" {
		chunk, closeFiles, err := h.buildChunkUpdate(form, rawPayload)
		if err != nil {
			return nil, err
		}
		defer closeFiles()
		in.LiveUpdate = chunk
	}

	job, err := h.jobService.Update(ctx, in)
	if err != nil {
		return nil, mapServiceError(err, fmt.Sprintf("cannot update job %s", input.UUID))
	}
	return &UpdateJobOutput{Body: JobFromModel(job)}, nil
}

// buildChunkUpdate assembles a relay chunk update from the multipart form.
// The returned closer releases the opened file parts.
func (h *RunnerJobHandler) buildChunkUpdate(form *multipart.Form, rawPayload string) (*relay.ChunkUpdate, func(), error) {
	var payload models.LiveUpdatePayload
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return nil, nil, huma.Error400BadRequest("malformed live update payload", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, nil, huma.Error400BadRequest(err.Error())
	}

	chunk := &relay.ChunkUpdate{
		Action:                     payload.Action,
		ResolutionPlaylistFilename: payload.ResolutionPlaylistFilename,
		SegmentFilename:            payload.SegmentFilename,
	}

	playlistBytes, err := formFileBytes(form, formFileResolutionPlaylist)
	if err != nil {
		return nil, nil, err
	}
	if playlistBytes == nil {
		return nil, nil, huma.Error400BadRequest("resolutionPlaylistFile is required")
	}
	chunk.ResolutionPlaylist = playlistBytes

	masterBytes, err := formFileBytes(form, formFileMasterPlaylist)
	if err != nil {
		return nil, nil, err
	}
	chunk.MasterPlaylist = masterBytes

	closeFiles := func() {}
	if payload.Action == models.LiveUpdateAddChunk {
		headers := form.File[formFileVideoChunk]
		if len(headers) == 0 {
			return nil, nil, huma.Error400BadRequest("videoChunkFile is required for add-chunk")
		}
		file, err := headers[0].Open()
		if err != nil {
			return nil, nil, huma.Error400BadRequest("cannot open videoChunkFile", err)
		}
		chunk.Segment = file
		closeFiles = func() { file.Close() }
	}

	return chunk, closeFiles, nil
}

// SuccessJobInput is the multipart input for job success.
type SuccessJobInput struct {
	UUID    string         `path:"uuid" doc:"Job UUID"`
	RawBody multipart.Form `contentType:"multipart/form-data"`
}

// SuccessJobOutput is the output for job success.
type SuccessJobOutput struct{}

// Success delivers the job result. An inline video file is staged to a
// temporary path before the finalizer takes over; object store references
// pass through untouched.
func (h *RunnerJobHandler) Success(ctx context.Context, input *SuccessJobInput) (*SuccessJobOutput, error) {
	form := &input.RawBody

	runnerToken := formValue(form, formFieldRunnerToken)
	jobToken := formValue(form, formFieldJobToken)
	rawPayload := []byte(formValue(form, formFieldPayload))
	if len(rawPayload) == 0 {
		return nil, huma.Error400BadRequest("payload is required")
	}

	if headers := form.File[formFileVideo]; len(headers) > 0 {
		staged, err := stageUpload(headers[0])
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to stage uploaded file", err)
		}
		defer os.Remove(staged)

		rawPayload, err = injectFilePath(rawPayload, staged)
		if err != nil {
			return nil, huma.Error400BadRequest("malformed success payload", err)
		}
	}

	if err := h.jobService.Success(ctx, input.UUID, runnerToken, jobToken, rawPayload); err != nil {
		return nil, mapServiceError(err, fmt.Sprintf("cannot complete job %s", input.UUID))
	}
	return &SuccessJobOutput{}, nil
}

func formValue(form *multipart.Form, field string) string {
	values := form.Value[field]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func formFileBytes(form *multipart.Form, field string) ([]byte, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	file, err := headers[0].Open()
	if err != nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("cannot open %s", field), err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, huma.Error400BadRequest(fmt.Sprintf("cannot read %s", field), err)
	}
	return data, nil
}

// stageUpload writes an uploaded file part to a temporary path the
// finalizer can publish from.
func stageUpload(header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	ext := ""
	if i := strings.LastIndex(header.Filename, "."); i >= 0 {
		ext = header.Filename[i:]
	}
	dst, err := os.CreateTemp("", "vodarr-upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// injectFilePath sets the staged file path on a success payload.
func injectFilePath(rawPayload []byte, path string) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(rawPayload, &fields); err != nil {
		return nil, err
	}
	fields["video_file_path"] = path
	return json.Marshal(fields)
}
