package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/objectstore"
	"github.com/jmylchreest/vodarr/internal/relay"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/storage"
)

// Finalizer persists success outcomes: registers VOD renditions against
// their video and closes out live sessions. Payload-shape problems surface
// as ErrInvalidPayload so the caller can leave the job processing for a
// corrected retry; anything else is an internal failure the caller converts
// into the job's own error transition.
type Finalizer struct {
	videoRepo   repository.VideoRepository
	sessionRepo repository.LiveSessionRepository
	relayStore  *relay.Store
	objectStore objectstore.ObjectStore
	vodStore    *storage.Sandbox
	logger      *slog.Logger
}

// NewFinalizer creates a new Finalizer.
func NewFinalizer(
	videoRepo repository.VideoRepository,
	sessionRepo repository.LiveSessionRepository,
	relayStore *relay.Store,
	objectStore objectstore.ObjectStore,
	vodStore *storage.Sandbox,
) *Finalizer {
	return &Finalizer{
		videoRepo:   videoRepo,
		sessionRepo: sessionRepo,
		relayStore:  relayStore,
		objectStore: objectStore,
		vodStore:    vodStore,
		logger:      slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (f *Finalizer) WithLogger(logger *slog.Logger) *Finalizer {
	f.logger = logger
	return f
}

// Finalize validates and applies a raw success payload for the job. The
// caller holds the video lock and marks the job completed afterwards.
func (f *Finalizer) Finalize(ctx context.Context, job *models.RunnerJob, video *models.Video, rawPayload []byte) error {
	payload, err := models.DecodeSuccessPayload(job.Type, rawPayload)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case models.VODSuccessPayload:
		return f.finalizeVOD(ctx, job, video, p)
	case models.LiveSuccessPayload:
		return f.finalizeLive(ctx, job, video, p)
	default:
		return fmt.Errorf("%w: unhandled success payload %T", models.ErrInvalidPayload, payload)
	}
}

// finalizeVOD publishes the produced rendition into the VOD store and
// refreshes the video's metadata.
func (f *Finalizer) finalizeVOD(ctx context.Context, job *models.RunnerJob, video *models.Video, payload models.VODSuccessPayload) error {
	localPath := payload.VideoFilePath

	if payload.ObjectKey != "" {
		exists, err := f.objectStore.Exists(ctx, payload.ObjectKey)
		if err != nil {
			return fmt.Errorf("checking referenced object: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: referenced object %q does not exist", models.ErrInvalidPayload, payload.ObjectKey)
		}

		tempFile, err := f.vodStore.CreateTemp("", "download-*")
		if err != nil {
			return fmt.Errorf("staging object download: %w", err)
		}
		defer tempFile.Close()

		if _, err := f.objectStore.Download(ctx, payload.ObjectKey, tempFile); err != nil {
			return err
		}
		localPath = tempFile.Name()
	}

	format := payload.Format
	if format == "" {
		format = "mp4"
	}
	destRel := path.Join(video.UUID, fmt.Sprintf("%d.%s", payload.Resolution, format))

	if err := f.vodStore.AtomicPublish(localPath, destRel); err != nil {
		return fmt.Errorf("publishing rendition: %w", err)
	}

	size, err := f.vodStore.Size(destRel)
	if err != nil {
		return fmt.Errorf("sizing published rendition: %w", err)
	}

	file := &models.VideoFile{
		VideoID:    video.ID,
		Path:       destRel,
		Resolution: payload.Resolution,
		SizeBytes:  size,
		Bitrate:    payload.Bitrate,
		Format:     format,
	}
	if err := f.videoRepo.AddFile(ctx, file); err != nil {
		return err
	}

	if payload.DurationSeconds > video.DurationSeconds {
		video.DurationSeconds = payload.DurationSeconds
	}
	video.Degraded = false
	if err := f.videoRepo.Update(ctx, video); err != nil {
		return err
	}

	f.logger.Info("vod rendition finalized",
		"job_uuid", job.UUID,
		"video_uuid", video.UUID,
		"resolution", payload.Resolution,
		"format", format,
		"size_bytes", size)
	return nil
}

// finalizeLive closes the session cleanly, optionally archiving the relay
// artifacts as a replay before teardown.
func (f *Finalizer) finalizeLive(ctx context.Context, job *models.RunnerJob, video *models.Video, payload models.LiveSuccessPayload) error {
	if payload.SaveReplay {
		if err := f.archiveReplay(ctx, video.UUID); err != nil {
			return fmt.Errorf("archiving replay: %w", err)
		}
	}

	if err := f.relayStore.Teardown(video.UUID); err != nil {
		return err
	}

	session, err := f.sessionRepo.GetByRunnerJobID(ctx, job.ID)
	if err != nil {
		return err
	}
	if session != nil {
		session.MarkEnded()
		if err := f.sessionRepo.Update(ctx, session); err != nil {
			return err
		}
	}

	f.logger.Info("live session finalized",
		"job_uuid", job.UUID,
		"video_uuid", video.UUID,
		"replay_saved", payload.SaveReplay)
	return nil
}

// archiveReplay moves the session's current relay artifacts into the VOD
// store under a replay directory for the replay pipeline to pick up. When a
// bucket is configured the artifacts are mirrored there first; the local
// copy stays authoritative, so mirror failures are logged and not fatal.
func (f *Finalizer) archiveReplay(ctx context.Context, videoUUID string) error {
	names, err := f.relayStore.List(videoUUID)
	if err != nil {
		return err
	}

	sessionDir, err := f.relayStore.SessionDir(videoUUID)
	if err != nil {
		return err
	}

	mirror := f.objectStore != nil && f.objectStore.Enabled()

	for _, name := range names {
		src := path.Join(sessionDir, name)
		dest := path.Join(videoUUID, "replay", name)
		if mirror {
			f.mirrorArtifact(ctx, src, dest)
		}
		if err := f.vodStore.AtomicPublish(src, dest); err != nil {
			return fmt.Errorf("archiving %s: %w", name, err)
		}
	}
	return nil
}

// mirrorArtifact uploads one replay artifact to the object store.
func (f *Finalizer) mirrorArtifact(ctx context.Context, src, key string) {
	file, err := os.Open(src)
	if err != nil {
		f.logger.Warn("cannot open replay artifact for mirroring", "path", src, "error", err)
		return
	}
	defer file.Close()

	if err := f.objectStore.Upload(ctx, key, file); err != nil {
		f.logger.Warn("mirroring replay artifact failed", "key", key, "error", err)
	}
}
