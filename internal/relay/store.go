// Package relay implements the live HLS relay store: per-session segment
// files and playlists written by the runner that owns a live job and served
// to viewers over plain file GETs.
package relay

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/storage"
)

// MasterPlaylistFilename is the fixed name of the multivariant playlist
// within a session directory.
const MasterPlaylistFilename = "master.m3u8"

// ChunkUpdate is one chunk mutation from the owning runner. Segment may be
// nil for remove actions; MasterPlaylist is present only when the rendition
// set changed.
type ChunkUpdate struct {
	Action                     models.LiveUpdateAction
	ResolutionPlaylistFilename string
	ResolutionPlaylist         []byte
	SegmentFilename            string
	Segment                    io.Reader
	MasterPlaylist             []byte
}

// Store holds live HLS artifacts on disk, one directory per broadcasting
// video keyed by the video UUID. Chunk updates for one session arrive in
// order from a single runner, so locking is per resolution playlist, just
// enough to keep the write-segment-then-swap-playlist sequence atomic
// against concurrent reads and duplicate deliveries.
type Store struct {
	sandbox *storage.Sandbox
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a relay store rooted at the given live directory.
func NewStore(liveDir string, logger *slog.Logger) (*Store, error) {
	sandbox, err := storage.NewSandbox(liveDir)
	if err != nil {
		return nil, fmt.Errorf("creating relay sandbox: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sandbox: sandbox,
		logger:  logger.With("component", "relay-store"),
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// playlistLock returns the mutex guarding one resolution playlist.
func (s *Store) playlistLock(videoUUID, playlistFilename string) *sync.Mutex {
	key := videoUUID + "/" + playlistFilename
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

// Apply applies one chunk update to the session of the given video.
func (s *Store) Apply(videoUUID string, update ChunkUpdate) error {
	if err := validateFilename(update.ResolutionPlaylistFilename); err != nil {
		return err
	}
	if err := validateFilename(update.SegmentFilename); err != nil {
		return err
	}

	switch update.Action {
	case models.LiveUpdateAddChunk:
		return s.addChunk(videoUUID, update)
	case models.LiveUpdateRemoveChunk:
		return s.removeChunk(videoUUID, update)
	default:
		return fmt.Errorf("%w: unknown live update action %q", models.ErrInvalidPayload, update.Action)
	}
}

// addChunk writes the segment before swapping in the playlist that references
// it, so a reader can never fetch a playlist entry that 404s. Re-sending the
// same chunk overwrites in place and converges to the same on-disk state.
func (s *Store) addChunk(videoUUID string, update ChunkUpdate) error {
	if update.Segment == nil {
		return fmt.Errorf("%w: add-chunk without segment body", models.ErrInvalidPayload)
	}
	if err := validateMediaPlaylist(update.ResolutionPlaylist); err != nil {
		return err
	}
	if len(update.MasterPlaylist) > 0 {
		if err := validateMasterPlaylist(update.MasterPlaylist); err != nil {
			return err
		}
	}

	lock := s.playlistLock(videoUUID, update.ResolutionPlaylistFilename)
	lock.Lock()
	defer lock.Unlock()

	segmentPath := path.Join(videoUUID, update.SegmentFilename)
	if err := s.sandbox.AtomicWriteReader(segmentPath, update.Segment); err != nil {
		return fmt.Errorf("writing segment %s: %w", update.SegmentFilename, err)
	}

	playlistPath := path.Join(videoUUID, update.ResolutionPlaylistFilename)
	if err := s.sandbox.AtomicWrite(playlistPath, update.ResolutionPlaylist); err != nil {
		return fmt.Errorf("swapping resolution playlist %s: %w", update.ResolutionPlaylistFilename, err)
	}

	if len(update.MasterPlaylist) > 0 {
		masterPath := path.Join(videoUUID, MasterPlaylistFilename)
		if err := s.sandbox.AtomicWrite(masterPath, update.MasterPlaylist); err != nil {
			return fmt.Errorf("swapping master playlist: %w", err)
		}
	}

	s.logger.Debug("chunk added",
		"video_uuid", videoUUID,
		"segment", update.SegmentFilename,
		"playlist", update.ResolutionPlaylistFilename,
		"master_updated", len(update.MasterPlaylist) > 0)
	return nil
}

// removeChunk deletes the segment if present and swaps in the supplied
// playlist. Deleting an already-absent segment is not an error.
func (s *Store) removeChunk(videoUUID string, update ChunkUpdate) error {
	if err := validateMediaPlaylist(update.ResolutionPlaylist); err != nil {
		return err
	}

	lock := s.playlistLock(videoUUID, update.ResolutionPlaylistFilename)
	lock.Lock()
	defer lock.Unlock()

	segmentPath := path.Join(videoUUID, update.SegmentFilename)
	if err := s.sandbox.Remove(segmentPath); err != nil && !isNotExist(err) {
		return fmt.Errorf("removing segment %s: %w", update.SegmentFilename, err)
	}

	playlistPath := path.Join(videoUUID, update.ResolutionPlaylistFilename)
	if err := s.sandbox.AtomicWrite(playlistPath, update.ResolutionPlaylist); err != nil {
		return fmt.Errorf("swapping resolution playlist %s: %w", update.ResolutionPlaylistFilename, err)
	}

	s.logger.Debug("chunk removed",
		"video_uuid", videoUUID,
		"segment", update.SegmentFilename,
		"playlist", update.ResolutionPlaylistFilename)
	return nil
}

// Open opens a stored artifact for serving. Returns models.ErrNotFound if
// the session or file does not exist.
func (s *Store) Open(videoUUID, filename string) (*os.File, error) {
	if err := validateFilename(filename); err != nil {
		return nil, err
	}

	file, err := s.sandbox.Open(path.Join(videoUUID, filename))
	if err != nil {
		if isNotExist(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

// ReadFile reads a stored artifact. Returns models.ErrNotFound if absent.
func (s *Store) ReadFile(videoUUID, filename string) ([]byte, error) {
	if err := validateFilename(filename); err != nil {
		return nil, err
	}

	data, err := s.sandbox.ReadFile(path.Join(videoUUID, filename))
	if err != nil {
		if isNotExist(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// List returns the artifact filenames currently stored for a session.
func (s *Store) List(videoUUID string) ([]string, error) {
	entries, err := s.sandbox.List(videoUUID)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// SessionDir returns the absolute directory of a session's artifacts, for
// replay archival before teardown.
func (s *Store) SessionDir(videoUUID string) (string, error) {
	return s.sandbox.ResolvePath(videoUUID)
}

// Teardown removes all artifacts of a session. A permanent live session's
// next broadcast starts from an empty directory.
func (s *Store) Teardown(videoUUID string) error {
	if err := s.sandbox.RemoveAll(videoUUID); err != nil && !isNotExist(err) {
		return fmt.Errorf("tearing down relay session %s: %w", videoUUID, err)
	}

	prefix := videoUUID + "/"
	s.mu.Lock()
	for key := range s.locks {
		if strings.HasPrefix(key, prefix) {
			delete(s.locks, key)
		}
	}
	s.mu.Unlock()

	s.logger.Info("relay session torn down", "video_uuid", videoUUID)
	return nil
}

// validateFilename rejects names that could address outside the session
// directory. Empty names are allowed (remove actions carry no master name).
func validateFilename(name string) error {
	if name == "" {
		return nil
	}
	if strings.Contains(name, "/") || strings.Contains(name, "\\") || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid artifact filename %q", models.ErrInvalidPayload, name)
	}
	return nil
}

// validateMediaPlaylist rejects playlist bodies that do not parse as an HLS
// media playlist, before they replace a good one.
func validateMediaPlaylist(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty resolution playlist", models.ErrInvalidPayload)
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%w: parsing resolution playlist: %v", models.ErrInvalidPayload, err)
	}
	if _, ok := pl.(*playlist.Media); !ok {
		return fmt.Errorf("%w: resolution playlist is not a media playlist", models.ErrInvalidPayload)
	}
	return nil
}

// validateMasterPlaylist rejects master bodies that do not parse as an HLS
// multivariant playlist.
func validateMasterPlaylist(data []byte) error {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%w: parsing master playlist: %v", models.ErrInvalidPayload, err)
	}
	if _, ok := pl.(*playlist.Multivariant); !ok {
		return fmt.Errorf("%w: master playlist is not a multivariant playlist", models.ErrInvalidPayload)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
