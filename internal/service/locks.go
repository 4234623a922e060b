// Package service implements the runner job lifecycle: registration,
// dispatch, progress updates, live chunk relay, and finalization.
package service

import (
	"sync"

	"github.com/jmylchreest/vodarr/internal/models"
)

// VideoLocker hands out exclusive locks keyed by video ID. VOD finalization
// and concurrent file edits of the same video must serialize; entries are
// reference counted so the map does not grow with every video ever seen.
type VideoLocker struct {
	mu    sync.Mutex
	locks map[models.ULID]*videoLock
}

type videoLock struct {
	mu   sync.Mutex
	refs int
}

// NewVideoLocker creates an empty VideoLocker.
func NewVideoLocker() *VideoLocker {
	return &VideoLocker{locks: make(map[models.ULID]*videoLock)}
}

// Lock acquires the exclusive lock for a video and returns its release
// function. The release function is safe to call from deferred paths.
func (l *VideoLocker) Lock(videoID models.ULID) func() {
	l.mu.Lock()
	entry, ok := l.locks[videoID]
	if !ok {
		entry = &videoLock{}
		l.locks[videoID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, videoID)
			}
			l.mu.Unlock()
		})
	}
}
