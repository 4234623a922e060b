package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerJob_MarkAccepted(t *testing.T) {
	job := &RunnerJob{Type: RunnerJobTypeVODHLS, State: RunnerJobStatePending}
	runnerID := NewULID()

	job.MarkAccepted(runnerID)

	assert.Equal(t, RunnerJobStateProcessing, job.State)
	require.NotNil(t, job.RunnerID)
	assert.Equal(t, runnerID, *job.RunnerID)
	assert.NotEmpty(t, job.Token)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.ProgressAt)
	assert.True(t, job.OwnedBy(runnerID))
}

func TestRunnerJob_MarkAccepted_ReissuesToken(t *testing.T) {
	job := &RunnerJob{Type: RunnerJobTypeVODHLS}

	job.MarkAccepted(NewULID())
	first := job.Token
	job.MarkAborted("runner shutdown")
	job.MarkAccepted(NewULID())

	assert.NotEmpty(t, job.Token)
	assert.NotEqual(t, first, job.Token, "token must be reissued on every accept")
}

func TestRunnerJob_MarkAborted(t *testing.T) {
	job := &RunnerJob{Type: RunnerJobTypeVODWebVideo, FailureCount: 2}
	job.MarkAccepted(NewULID())
	job.MarkProgress(40)

	job.MarkAborted("lost encoder")

	assert.Equal(t, RunnerJobStatePending, job.State)
	assert.Nil(t, job.RunnerID)
	assert.Empty(t, job.Token, "abort must invalidate the job token")
	assert.Equal(t, 2, job.FailureCount, "abort is not a failure")
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, "lost encoder", job.LastError)
}

func TestRunnerJob_MarkErrored_RetryBudget(t *testing.T) {
	const budget = 3
	job := &RunnerJob{Type: RunnerJobTypeVODWebVideo}

	for i := 1; i < budget; i++ {
		job.MarkAccepted(NewULID())
		requeued := job.MarkErrored("encode failed", budget)
		assert.True(t, requeued, "attempt %d should re-queue", i)
		assert.Equal(t, RunnerJobStatePending, job.State)
		assert.Equal(t, i, job.FailureCount)
	}

	job.MarkAccepted(NewULID())
	requeued := job.MarkErrored("encode failed", budget)
	assert.False(t, requeued)
	assert.Equal(t, RunnerJobStateErrored, job.State)
	assert.Equal(t, budget, job.FailureCount)
	assert.True(t, job.IsTerminal())
	assert.NotNil(t, job.FinishedAt)
	assert.Empty(t, job.Token)
}

func TestRunnerJob_MarkCompleted(t *testing.T) {
	job := &RunnerJob{Type: RunnerJobTypeVODHLS}
	job.MarkAccepted(NewULID())

	job.MarkCompleted()

	assert.Equal(t, RunnerJobStateCompleted, job.State)
	assert.Equal(t, 100, job.Progress)
	assert.Nil(t, job.RunnerID)
	assert.Empty(t, job.Token)
	assert.NotNil(t, job.FinishedAt)
}

func TestRunnerJob_MarkCancelled_PoisonsToken(t *testing.T) {
	job := &RunnerJob{Type: RunnerJobTypeLiveRTMPHLS}
	job.MarkAccepted(NewULID())
	require.NotEmpty(t, job.Token)

	job.MarkCancelled()

	assert.Equal(t, RunnerJobStateCancelled, job.State)
	assert.Empty(t, job.Token)
	assert.True(t, job.IsTerminal())
}

func TestRunnerJobState_IsTerminal(t *testing.T) {
	assert.True(t, RunnerJobStateCompleted.IsTerminal())
	assert.True(t, RunnerJobStateErrored.IsTerminal())
	assert.True(t, RunnerJobStateCancelled.IsTerminal())
	assert.False(t, RunnerJobStatePending.IsTerminal())
	assert.False(t, RunnerJobStateProcessing.IsTerminal())
	assert.False(t, RunnerJobStateWaitingForParent.IsTerminal())
}

func TestRunnerJobType_IsLive(t *testing.T) {
	assert.True(t, RunnerJobTypeLiveRTMPHLS.IsLive())
	assert.False(t, RunnerJobTypeVODWebVideo.IsLive())
	assert.False(t, RunnerJobTypeVODHLS.IsLive())
	assert.False(t, RunnerJobTypeVODAudioMerge.IsLive())
	assert.False(t, RunnerJobTypeVideoStudio.IsLive())
}

func TestRunnerJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     RunnerJob
		wantErr error
	}{
		{"missing type", RunnerJob{VideoID: NewULID()}, ErrJobTypeRequired},
		{"unknown type", RunnerJob{Type: "mystery", VideoID: NewULID()}, ErrUnknownJobType},
		{"missing video", RunnerJob{Type: RunnerJobTypeVODHLS}, ErrVideoIDRequired},
		{"valid", RunnerJob{Type: RunnerJobTypeVODHLS, VideoID: NewULID()}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestTokenGenerators_Prefixes(t *testing.T) {
	assert.Contains(t, NewRegistrationTokenString(), "vrrt-")
	assert.Contains(t, NewRunnerTokenString(), "vrt-")
	assert.Contains(t, NewJobTokenString(), "vjt-")
	assert.NotEqual(t, NewJobTokenString(), NewJobTokenString())
}

func TestLiveSession_SetError_FirstWins(t *testing.T) {
	session := &LiveSession{VideoID: NewULID()}

	assert.True(t, session.SetError(LiveSessionErrorJobCancelled))
	assert.False(t, session.SetError(LiveSessionErrorTranscodingFailed))
	require.NotNil(t, session.Error)
	assert.Equal(t, LiveSessionErrorJobCancelled, *session.Error)
}
