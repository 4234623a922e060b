package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/relay"
)

func testMasterPlaylist(resolutions ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, name := range resolutions {
		fmt.Fprintf(&buf, "#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720\n%s\n", name)
	}
	return buf.Bytes()
}

func addChunkUpdate(playlist string, segment string, body []byte, master []byte) *relay.ChunkUpdate {
	return &relay.ChunkUpdate{
		Action:                     models.LiveUpdateAddChunk,
		ResolutionPlaylistFilename: playlist,
		ResolutionPlaylist:         testMediaPlaylist(segment),
		SegmentFilename:            segment,
		Segment:                    bytes.NewReader(body),
		MasterPlaylist:             master,
	}
}

func TestLiveService_StartSession(t *testing.T) {
	env := newTestEnv(t, jobsTestConfig())
	ctx := context.Background()

	t.Run("non-live video rejected", func(t *testing.T) {
		video := env.createVideo(t, false)
		_, _, err := env.liveService.StartSession(ctx, video.ID, false, models.LiveRTMPHLSPayload{
			RTMPUrl: "rtmp://ingest/x", Resolutions: []int{720},
		})
		assert.ErrorIs(t, err, models.ErrInvalidPayload)
	})

	t.Run("creates session and job", func(t *testing.T) {
		video := env.createVideo(t, true)
		session, job, err := env.liveService.StartSession(ctx, video.ID, true, models.LiveRTMPHLSPayload{
			RTMPUrl: "rtmp://ingest/live", Resolutions: []int{720, 480},
		})
		require.NoError(t, err)
		assert.True(t, session.Permanent)
		require.NotNil(t, session.RunnerJobID)
		assert.Equal(t, job.ID, *session.RunnerJobID)

		// The job payload carries the session it belongs to.
		decoded, err := job.DecodePayload()
		require.NoError(t, err)
		payload, ok := decoded.(models.LiveRTMPHLSPayload)
		require.True(t, ok)
		assert.Equal(t, session.ID, payload.SessionID)
		assert.Equal(t, []int{720, 480}, payload.Resolutions)
	})

	t.Run("one open session per video", func(t *testing.T) {
		video := env.createVideo(t, true)
		_, _, err := env.liveService.StartSession(ctx, video.ID, false, models.LiveRTMPHLSPayload{
			RTMPUrl: "rtmp://ingest/live", Resolutions: []int{720},
		})
		require.NoError(t, err)

		_, _, err = env.liveService.StartSession(ctx, video.ID, false, models.LiveRTMPHLSPayload{
			RTMPUrl: "rtmp://ingest/live", Resolutions: []int{720},
		})
		assert.ErrorIs(t, err, models.ErrConflict)
	})
}

func TestLiveFlow_ChunkUpdates(t *testing.T) {
	env := newTestEnv(t, jobsTestConfig())
	ctx := context.Background()
	video := env.createVideo(t, true)
	runner := env.registerRunner(t, "live-worker")

	_, job, err := env.liveService.StartSession(ctx, video.ID, false, models.LiveRTMPHLSPayload{
		RTMPUrl: "rtmp://ingest/live", Resolutions: []int{720},
	})
	require.NoError(t, err)
	accepted := env.acceptJob(t, runner, job.UUID)

	master := testMasterPlaylist("720.m3u8")
	_, err = env.jobService.Update(ctx, UpdateInput{
		JobUUID:     job.UUID,
		RunnerToken: runner.Token,
		JobToken:    accepted.Token,
		LiveUpdate:  addChunkUpdate("720.m3u8", "0.ts", []byte("segment zero"), master),
	})
	require.NoError(t, err)

	seg, err := env.relayStore.ReadFile(video.UUID, "0.ts")
	require.NoError(t, err)
	assert.Equal(t, []byte("segment zero"), seg)

	gotMaster, err := env.relayStore.ReadFile(video.UUID, relay.MasterPlaylistFilename)
	require.NoError(t, err)
	assert.Equal(t, master, gotMaster)

	// Remove the segment again; the playlist swap still applies.
	_, err = env.jobService.Update(ctx, UpdateInput{
		JobUUID:     job.UUID,
		RunnerToken: runner.Token,
		JobToken:    accepted.Token,
		LiveUpdate: &relay.ChunkUpdate{
			Action:                     models.LiveUpdateRemoveChunk,
			ResolutionPlaylistFilename: "720.m3u8",
			ResolutionPlaylist:         testMediaPlaylist("1.ts"),
			SegmentFilename:            "0.ts",
		},
	})
	require.NoError(t, err)

	_, err = env.relayStore.ReadFile(video.UUID, "0.ts")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLiveFlow_AdminCancelMidBroadcast(t *testing.T) {
	env := newTestEnv(t, jobsTestConfig())
	ctx := context.Background()
	video := env.createVideo(t, true)
	runner := env.registerRunner(t, "live-worker")

	session, job, err := env.liveService.StartSession(ctx, video.ID, false, models.LiveRTMPHLSPayload{
		RTMPUrl: "rtmp://ingest/live", Resolutions: []int{720},
	})
	require.NoError(t, err)
	accepted := env.acceptJob(t, runner, job.UUID)

	_, err = env.jobService.Update(ctx, UpdateInput{
		JobUUID:     job.UUID,
		RunnerToken: runner.Token,
		JobToken:    accepted.Token,
		LiveUpdate:  addChunkUpdate("720.m3u8", "0.ts", []byte("seg"), testMasterPlaylist("720.m3u8")),
	})
	require.NoError(t, err)

	require.NoError(t, env.jobService.CancelByAdmin(ctx, job.UUID))

	// The runner's next update is rejected with its now-poisoned token.
	_, err = env.jobService.Update(ctx, UpdateInput{
		JobUUID:     job.UUID,
		RunnerToken: runner.Token,
		JobToken:    accepted.Token,
		LiveUpdate:  addChunkUpdate("720.m3u8", "1.ts", []byte("seg"), nil),
	})
	assert.ErrorIs(t, err, models.ErrForbidden)

	gotSession, err := env.sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, gotSession.Error)
	assert.Equal(t, models.LiveSessionErrorJobCancelled, *gotSession.Error)
	assert.True(t, gotSession.IsEnded())

	// The relay artifacts are gone.
	_, err = env.relayStore.ReadFile(video.UUID, "0.ts")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLiveFlow_SuccessWithReplay(t *testing.T) {
	env := newTestEnv(t, jobsTestConfig())
	ctx := context.Background()
	video := env.createVideo(t, true)
	runner := env.registerRunner(t, "live-worker")

	session, job, err := env.liveService.StartSession(ctx, video.ID, false, models.LiveRTMPHLSPayload{
		RTMPUrl: "rtmp://ingest/live", Resolutions: []int{720},
	})
	require.NoError(t, err)
	accepted := env.acceptJob(t, runner, job.UUID)

	_, err = env.jobService.Update(ctx, UpdateInput{
		JobUUID:     job.UUID,
		RunnerToken: runner.Token,
		JobToken:    accepted.Token,
		LiveUpdate:  addChunkUpdate("720.m3u8", "0.ts", []byte("replay segment"), testMasterPlaylist("720.m3u8")),
	})
	require.NoError(t, err)

	raw, err := json.Marshal(models.LiveSuccessPayload{SaveReplay: true})
	require.NoError(t, err)
	require.NoError(t, env.jobService.Success(ctx, job.UUID, runner.Token, accepted.Token, raw))

	gotJob, err := env.jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunnerJobStateCompleted, gotJob.State)

	// Session ended cleanly.
	gotSession, err := env.sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, gotSession.IsEnded())
	assert.Nil(t, gotSession.Error)

	// Relay teardown happened, but the artifacts were archived first.
	_, err = env.relayStore.ReadFile(video.UUID, "0.ts")
	assert.ErrorIs(t, err, models.ErrNotFound)

	archived, err := env.vodStore.ReadFile(video.UUID + "/replay/0.ts")
	require.NoError(t, err)
	assert.Equal(t, []byte("replay segment"), archived)

	// The configured object store received a mirror of every artifact.
	assert.Equal(t, []byte("replay segment"), env.objects.objects[video.UUID+"/replay/0.ts"])
	assert.Contains(t, env.objects.objects, video.UUID+"/replay/720.m3u8")
	assert.Contains(t, env.objects.objects, video.UUID+"/replay/"+relay.MasterPlaylistFilename)
}

func TestLiveFlow_SuccessWithoutReplay(t *testing.T) {
	env := newTestEnv(t, jobsTestConfig())
	ctx := context.Background()
	video := env.createVideo(t, true)
	runner := env.registerRunner(t, "live-worker")

	session, job, err := env.liveService.StartSession(ctx, video.ID, false, models.LiveRTMPHLSPayload{
		RTMPUrl: "rtmp://ingest/live", Resolutions: []int{720},
	})
	require.NoError(t, err)
	accepted := env.acceptJob(t, runner, job.UUID)

	_, err = env.jobService.Update(ctx, UpdateInput{
		JobUUID:     job.UUID,
		RunnerToken: runner.Token,
		JobToken:    accepted.Token,
		LiveUpdate:  addChunkUpdate("720.m3u8", "0.ts", []byte("seg"), testMasterPlaylist("720.m3u8")),
	})
	require.NoError(t, err)

	raw, err := json.Marshal(models.LiveSuccessPayload{SaveReplay: false})
	require.NoError(t, err)
	require.NoError(t, env.jobService.Success(ctx, job.UUID, runner.Token, accepted.Token, raw))

	gotSession, err := env.sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, gotSession.IsEnded())

	// Nothing was archived and the relay directory is gone.
	archived, err := env.vodStore.Exists(video.UUID + "/replay/0.ts")
	require.NoError(t, err)
	assert.False(t, archived)
	_, err = env.relayStore.ReadFile(video.UUID, "0.ts")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLiveFlow_RunnerErrorFailsSession(t *testing.T) {
	env := newTestEnv(t, jobsTestConfig()) // live budget 1
	ctx := context.Background()
	video := env.createVideo(t, true)
	runner := env.registerRunner(t, "live-worker")

	session, job, err := env.liveService.StartSession(ctx, video.ID, false, models.LiveRTMPHLSPayload{
		RTMPUrl: "rtmp://ingest/live", Resolutions: []int{720},
	})
	require.NoError(t, err)
	accepted := env.acceptJob(t, runner, job.UUID)

	require.NoError(t, env.jobService.Error(ctx, job.UUID, runner.Token, accepted.Token, "ffmpeg exited"))

	gotJob, err := env.jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunnerJobStateErrored, gotJob.State)

	gotSession, err := env.sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, gotSession.Error)
	assert.Equal(t, models.LiveSessionErrorTranscodingFailed, *gotSession.Error)
	assert.True(t, gotSession.IsEnded())
}

func TestLiveFlow_RunnerAbortFailsSession(t *testing.T) {
	env := newTestEnv(t, jobsTestConfig()) // live budget 1
	ctx := context.Background()
	video := env.createVideo(t, true)
	runner := env.registerRunner(t, "live-worker")

	session, job, err := env.liveService.StartSession(ctx, video.ID, false, models.LiveRTMPHLSPayload{
		RTMPUrl: "rtmp://ingest/live", Resolutions: []int{720},
	})
	require.NoError(t, err)
	accepted := env.acceptJob(t, runner, job.UUID)

	_, err = env.jobService.Update(ctx, UpdateInput{
		JobUUID:     job.UUID,
		RunnerToken: runner.Token,
		JobToken:    accepted.Token,
		LiveUpdate:  addChunkUpdate("720.m3u8", "0.ts", []byte("seg"), testMasterPlaylist("720.m3u8")),
	})
	require.NoError(t, err)

	require.NoError(t, env.jobService.Abort(ctx, job.UUID, runner.Token, accepted.Token, "encoder shutting down"))

	gotJob, err := env.jobRepo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunnerJobStateErrored, gotJob.State)

	gotSession, err := env.sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, gotSession.Error)
	assert.Equal(t, models.LiveSessionErrorTranscodingFailed, *gotSession.Error)
	assert.True(t, gotSession.IsEnded())

	// The relay store is torn down; the dead broadcast's segments are gone.
	_, err = env.relayStore.ReadFile(video.UUID, "0.ts")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// The abort poisoned the token like every other exit from processing.
	_, err = env.jobService.Update(ctx, UpdateInput{
		JobUUID:     job.UUID,
		RunnerToken: runner.Token,
		JobToken:    accepted.Token,
	})
	assert.ErrorIs(t, err, models.ErrForbidden)
}
