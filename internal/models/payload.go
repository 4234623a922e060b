package models

import (
	"encoding/json"
	"fmt"
)

// JobPayload is the sealed union of type-specific job inputs. The concrete
// shape is determined by RunnerJob.Type; every site that inspects a payload
// switches exhaustively on the concrete type.
type JobPayload interface {
	// JobType returns the job type this payload shape belongs to.
	JobType() RunnerJobType
}

// WebVideoPayload is the input for vod-web-video-transcoding jobs.
type WebVideoPayload struct {
	InputPath  string `json:"input_path"`
	Resolution int    `json:"resolution"`
	FPS        int    `json:"fps,omitempty"`
}

// JobType implements JobPayload.
func (WebVideoPayload) JobType() RunnerJobType { return RunnerJobTypeVODWebVideo }

// HLSPayload is the input for vod-hls-transcoding jobs.
type HLSPayload struct {
	InputPath       string `json:"input_path"`
	Resolution      int    `json:"resolution"`
	FPS             int    `json:"fps,omitempty"`
	SegmentDuration int    `json:"segment_duration,omitempty"`
}

// JobType implements JobPayload.
func (HLSPayload) JobType() RunnerJobType { return RunnerJobTypeVODHLS }

// AudioMergePayload is the input for vod-audio-merge-transcoding jobs.
type AudioMergePayload struct {
	AudioInputPath string `json:"audio_input_path"`
	VideoInputPath string `json:"video_input_path"`
}

// JobType implements JobPayload.
func (AudioMergePayload) JobType() RunnerJobType { return RunnerJobTypeVODAudioMerge }

// LiveRTMPHLSPayload is the input for live-rtmp-hls-transcoding jobs.
type LiveRTMPHLSPayload struct {
	SessionID       ULID   `json:"session_id"`
	RTMPUrl         string `json:"rtmp_url"`
	Resolutions     []int  `json:"resolutions"`
	FPS             int    `json:"fps,omitempty"`
	SegmentDuration int    `json:"segment_duration,omitempty"`
}

// JobType implements JobPayload.
func (LiveRTMPHLSPayload) JobType() RunnerJobType { return RunnerJobTypeLiveRTMPHLS }

// StudioTask is one edition step inside a studio transcoding job.
type StudioTask struct {
	Name    string            `json:"name"` // cut, add-intro, add-outro, add-watermark
	Options map[string]string `json:"options,omitempty"`
}

// StudioPayload is the input for video-studio-transcoding jobs.
type StudioPayload struct {
	InputPath string       `json:"input_path"`
	Tasks     []StudioTask `json:"tasks"`
}

// JobType implements JobPayload.
func (StudioPayload) JobType() RunnerJobType { return RunnerJobTypeVideoStudio }

// EncodeJobPayload serializes a payload for storage, rejecting payloads whose
// shape does not match the given job type.
func EncodeJobPayload(jobType RunnerJobType, payload JobPayload) ([]byte, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is nil", ErrInvalidPayload)
	}
	if payload.JobType() != jobType {
		return nil, fmt.Errorf("%w: payload shape %q does not match job type %q",
			ErrInvalidPayload, payload.JobType(), jobType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding job payload: %w", err)
	}
	return data, nil
}

// DecodeJobPayload deserializes a stored payload into the concrete shape for
// the given job type.
func DecodeJobPayload(jobType RunnerJobType, data []byte) (JobPayload, error) {
	var payload JobPayload
	switch jobType {
	case RunnerJobTypeVODWebVideo:
		payload = &WebVideoPayload{}
	case RunnerJobTypeVODHLS:
		payload = &HLSPayload{}
	case RunnerJobTypeVODAudioMerge:
		payload = &AudioMergePayload{}
	case RunnerJobTypeLiveRTMPHLS:
		payload = &LiveRTMPHLSPayload{}
	case RunnerJobTypeVideoStudio:
		payload = &StudioPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("%w: decoding %q payload: %v", ErrInvalidPayload, jobType, err)
	}
	return deref(payload), nil
}

// deref returns the value behind the typed pointers allocated in
// DecodeJobPayload so callers can switch on value types.
func deref(p JobPayload) JobPayload {
	switch v := p.(type) {
	case *WebVideoPayload:
		return *v
	case *HLSPayload:
		return *v
	case *AudioMergePayload:
		return *v
	case *LiveRTMPHLSPayload:
		return *v
	case *StudioPayload:
		return *v
	default:
		return p
	}
}

// DecodePayload decodes the job's stored payload.
func (j *RunnerJob) DecodePayload() (JobPayload, error) {
	return DecodeJobPayload(j.Type, j.Payload)
}

// SetPayload validates and stores the payload for the job's type.
func (j *RunnerJob) SetPayload(payload JobPayload) error {
	data, err := EncodeJobPayload(j.Type, payload)
	if err != nil {
		return err
	}
	j.Payload = data
	return nil
}

// SuccessPayload is the sealed union of type-specific success results.
type SuccessPayload interface {
	// SuccessFor returns the job type this result shape belongs to.
	SuccessFor() RunnerJobType
}

// VODSuccessPayload is the result of any VOD transcoding job. Exactly one of
// VideoFilePath (inline multipart upload, already staged on local disk) or
// ObjectKey (upload-by-reference to the object store) is set.
type VODSuccessPayload struct {
	VideoFilePath   string  `json:"video_file_path,omitempty"`
	ObjectKey       string  `json:"object_key,omitempty"`
	Resolution      int     `json:"resolution"`
	DurationSeconds float64 `json:"duration_seconds"`
	Bitrate         int     `json:"bitrate,omitempty"`
	Format          string  `json:"format,omitempty"` // mp4, webm, hls
	SizeBytes       int64   `json:"size_bytes"`
}

// SuccessFor implements SuccessPayload. VOD job types share the result shape;
// validation only needs the job to be a non-live type.
func (VODSuccessPayload) SuccessFor() RunnerJobType { return RunnerJobTypeVODWebVideo }

// LiveSuccessPayload is the result of a live-rtmp-hls-transcoding job.
type LiveSuccessPayload struct {
	SaveReplay bool `json:"save_replay"`
}

// SuccessFor implements SuccessPayload.
func (LiveSuccessPayload) SuccessFor() RunnerJobType { return RunnerJobTypeLiveRTMPHLS }

// DecodeSuccessPayload deserializes a success payload for the given job type,
// rejecting shapes that do not match.
func DecodeSuccessPayload(jobType RunnerJobType, data []byte) (SuccessPayload, error) {
	if jobType.IsLive() {
		var p LiveSuccessPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: decoding live success payload: %v", ErrInvalidPayload, err)
		}
		return p, nil
	}

	var p VODSuccessPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: decoding vod success payload: %v", ErrInvalidPayload, err)
	}
	if p.VideoFilePath == "" && p.ObjectKey == "" {
		return nil, fmt.Errorf("%w: vod success payload needs video_file_path or object_key", ErrInvalidPayload)
	}
	if p.VideoFilePath != "" && p.ObjectKey != "" {
		return nil, fmt.Errorf("%w: vod success payload cannot mix inline file and object reference", ErrInvalidPayload)
	}
	return p, nil
}

// LiveUpdateAction discriminates live chunk updates.
type LiveUpdateAction string

const (
	// LiveUpdateAddChunk writes a new segment and swaps playlists.
	LiveUpdateAddChunk LiveUpdateAction = "add-chunk"
	// LiveUpdateRemoveChunk deletes a segment and swaps the resolution playlist.
	LiveUpdateRemoveChunk LiveUpdateAction = "remove-chunk"
)

// LiveUpdatePayload describes one live chunk update. Segment and playlist
// bytes travel as multipart files next to this metadata.
type LiveUpdatePayload struct {
	Action                     LiveUpdateAction `json:"type"`
	ResolutionPlaylistFilename string           `json:"resolution_playlist_filename"`
	SegmentFilename            string           `json:"video_chunk_filename,omitempty"`
}

// Validate checks the update payload shape.
func (p *LiveUpdatePayload) Validate() error {
	switch p.Action {
	case LiveUpdateAddChunk, LiveUpdateRemoveChunk:
	default:
		return fmt.Errorf("%w: unknown live update type %q", ErrInvalidPayload, p.Action)
	}
	if p.ResolutionPlaylistFilename == "" {
		return fmt.Errorf("%w: resolution_playlist_filename is required", ErrInvalidPayload)
	}
	if p.SegmentFilename == "" {
		return fmt.Errorf("%w: video_chunk_filename is required", ErrInvalidPayload)
	}
	return nil
}
