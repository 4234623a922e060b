package handlers

import (
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/relay"
	"github.com/jmylchreest/vodarr/internal/service"
)

// LiveHandler handles live session endpoints and the relay file reads.
type LiveHandler struct {
	liveService *service.LiveService
	relayStore  *relay.Store
}

// NewLiveHandler creates a new live handler.
func NewLiveHandler(liveService *service.LiveService, relayStore *relay.Store) *LiveHandler {
	return &LiveHandler{
		liveService: liveService,
		relayStore:  relayStore,
	}
}

// Register registers the typed live session routes with the API.
func (h *LiveHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startLiveSession",
		Method:      "POST",
		Path:        "/api/v1/live/sessions",
		Summary:     "Start live session",
		Description: "Opens a live session for a video and enqueues its transcoding job",
		Tags:        []string{"Live"},
	}, h.StartSession)

	huma.Register(api, huma.Operation{
		OperationID: "getLiveSession",
		Method:      "GET",
		Path:        "/api/v1/live/sessions/{id}",
		Summary:     "Get live session",
		Tags:        []string{"Live"},
	}, h.GetSession)
}

// RegisterFileRoutes mounts the plain relay file reads on the router.
// Playlists and segments are served exactly as stored.
func (h *LiveHandler) RegisterFileRoutes(r chi.Router) {
	r.Get("/live/{videoUUID}/{filename}", h.ServeFile)
}

// StartSessionInput is the input for starting a live session.
type StartSessionInput struct {
	Body struct {
		VideoID         string `json:"video_id" doc:"Video ID (ULID)"`
		Permanent       bool   `json:"permanent,omitempty" doc:"Permanent lives survive session end"`
		RTMPUrl         string `json:"rtmp_url"`
		Resolutions     []int  `json:"resolutions"`
		FPS             int    `json:"fps,omitempty"`
		SegmentDuration int    `json:"segment_duration,omitempty"`
	}
}

// StartSessionOutput is the output for starting a live session.
type StartSessionOutput struct {
	Body struct {
		Session LiveSessionResponse `json:"session"`
		Job     JobResponse         `json:"job"`
	}
}

// StartSession opens a live session and its transcoding job.
func (h *LiveHandler) StartSession(ctx context.Context, input *StartSessionInput) (*StartSessionOutput, error) {
	videoID, err := models.ParseULID(input.Body.VideoID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid video ID format", err)
	}

	payload := models.LiveRTMPHLSPayload{
		RTMPUrl:         input.Body.RTMPUrl,
		Resolutions:     input.Body.Resolutions,
		FPS:             input.Body.FPS,
		SegmentDuration: input.Body.SegmentDuration,
	}

	session, job, err := h.liveService.StartSession(ctx, videoID, input.Body.Permanent, payload)
	if err != nil {
		return nil, mapServiceError(err, "cannot start live session")
	}

	resp := &StartSessionOutput{}
	resp.Body.Session = LiveSessionFromModel(session)
	resp.Body.Job = JobFromModel(job)
	return resp, nil
}

// GetSessionInput is the input for getting a live session.
type GetSessionInput struct {
	ID string `path:"id" doc:"Live session ID (ULID)"`
}

// GetSessionOutput is the output for getting a live session.
type GetSessionOutput struct {
	Body LiveSessionResponse
}

// GetSession returns one live session.
func (h *LiveHandler) GetSession(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	session, err := h.liveService.GetSession(ctx, id)
	if err != nil {
		return nil, mapServiceError(err, "live session not found")
	}
	return &GetSessionOutput{Body: LiveSessionFromModel(session)}, nil
}

// ServeFile streams one relay artifact. A missing file is a plain 404 and
// never mutates session state.
func (h *LiveHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	videoUUID := chi.URLParam(r, "videoUUID")
	filename := chi.URLParam(r, "filename")

	file, err := h.relayStore.Open(videoUUID, filename)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidPayload) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", liveContentType(filename))
	w.Header().Set("Cache-Control", "no-cache")
	// ServeContent handles Range requests, which players use to resume
	// partially fetched segments.
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

func liveContentType(filename string) string {
	switch path.Ext(filename) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4", ".m4s":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
