package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
)

func TestLiveSessionRepo_CreateAndLookup(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLiveSessionRepository(db)
	ctx := context.Background()

	jobID := models.NewULID()
	session := &models.LiveSession{
		VideoID:     models.NewULID(),
		RunnerJobID: &jobID,
		StartedAt:   models.Now(),
	}
	require.NoError(t, repo.Create(ctx, session))

	t.Run("by job", func(t *testing.T) {
		found, err := repo.GetByRunnerJobID(ctx, jobID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, session.ID, found.ID)
	})

	t.Run("open by video", func(t *testing.T) {
		found, err := repo.GetOpenByVideoID(ctx, session.VideoID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, session.ID, found.ID)
	})

	t.Run("closed sessions are not open", func(t *testing.T) {
		session.MarkEnded()
		require.NoError(t, repo.Update(ctx, session))

		found, err := repo.GetOpenByVideoID(ctx, session.VideoID)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestLiveSessionRepo_SetErrorOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLiveSessionRepository(db)
	ctx := context.Background()

	session := &models.LiveSession{
		VideoID:   models.NewULID(),
		StartedAt: models.Now(),
	}
	require.NoError(t, repo.Create(ctx, session))

	won, err := repo.SetErrorOnce(ctx, session.ID, models.LiveSessionErrorStalled)
	require.NoError(t, err)
	assert.True(t, won)

	// Second cause loses the race and does not overwrite the first.
	won, err = repo.SetErrorOnce(ctx, session.ID, models.LiveSessionErrorJobCancelled)
	require.NoError(t, err)
	assert.False(t, won)

	found, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Error)
	assert.Equal(t, models.LiveSessionErrorStalled, *found.Error)
}
