// Package startup provides utilities for application startup tasks.
package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/vodarr/internal/relay"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// StagedUploadPrefix is the prefix used for staged success-upload temp files.
const StagedUploadPrefix = "vodarr-upload-"

// DefaultCleanupAge is the default maximum age for staged upload files (1 hour).
const DefaultCleanupAge = 1 * time.Hour

// CleanupStagedUploads removes staged upload files older than maxAge from
// baseDir. Staged uploads are normally deleted as soon as the success
// transition finishes; files left behind mean the process died mid-request.
//
// Returns the number of files removed and any error encountered.
func CleanupStagedUploads(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("base directory does not exist, skipping cleanup",
			"path", baseDir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Error("failed to read directory for cleanup",
			"path", baseDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), StagedUploadPrefix) {
			continue
		}

		path := filepath.Join(baseDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get file info",
				"path", path,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent staged upload",
				"path", path,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove staged upload",
				"path", path,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned staged upload",
			"path", path,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// CleanupSystemStagedUploads cleans orphaned staged uploads from the system
// temp directory using the default cleanup age.
func CleanupSystemStagedUploads(logger *slog.Logger) (int, error) {
	return CleanupStagedUploads(logger, os.TempDir(), DefaultCleanupAge)
}

// CleanupOrphanedRelayDirs tears down relay session directories whose video
// has no open live session. This handles the case where the server crashed
// or was restarted mid-broadcast: the reaper fails the session shortly after
// restart, but the HLS artifacts on disk would otherwise stay forever.
//
// Returns the number of directories removed and any error encountered.
func CleanupOrphanedRelayDirs(
	ctx context.Context,
	logger *slog.Logger,
	liveDir string,
	videos repository.VideoRepository,
	sessions repository.LiveSessionRepository,
	store *relay.Store,
) (int, error) {
	entries, err := os.ReadDir(liveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var removed int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		videoUUID := entry.Name()

		video, err := videos.GetByUUID(ctx, videoUUID)
		if err != nil {
			logger.Error("failed to look up video for relay dir",
				"video_uuid", videoUUID,
				"error", err,
			)
			continue
		}

		if video != nil {
			session, err := sessions.GetOpenByVideoID(ctx, video.ID)
			if err != nil {
				logger.Error("failed to look up live session for relay dir",
					"video_uuid", videoUUID,
					"error", err,
				)
				continue
			}
			if session != nil {
				continue
			}
		}

		if err := store.Teardown(videoUUID); err != nil {
			logger.Warn("failed to tear down orphaned relay dir",
				"video_uuid", videoUUID,
				"error", err,
			)
			continue
		}

		logger.Warn("removed orphaned relay dir",
			"video_uuid", videoUUID,
		)
		removed++
	}

	return removed, nil
}
