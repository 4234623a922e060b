package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerHandler_TokenLifecycle(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	genOut, err := env.runnerHandler.GenerateToken(ctx, &GenerateTokenInput{})
	require.NoError(t, err)
	assert.Contains(t, genOut.Body.Token, "vrrt-")

	listOut, err := env.runnerHandler.ListTokens(ctx, &ListTokensInput{})
	require.NoError(t, err)
	require.Len(t, listOut.Body.RegistrationTokens, 1)
	assert.Equal(t, genOut.Body.Token, listOut.Body.RegistrationTokens[0].Token)

	_, err = env.runnerHandler.DeleteToken(ctx, &DeleteTokenInput{ID: genOut.Body.ID})
	require.NoError(t, err)

	listOut, err = env.runnerHandler.ListTokens(ctx, &ListTokensInput{})
	require.NoError(t, err)
	assert.Empty(t, listOut.Body.RegistrationTokens)

	t.Run("delete unknown token", func(t *testing.T) {
		_, err := env.runnerHandler.DeleteToken(ctx, &DeleteTokenInput{ID: genOut.Body.ID})
		assert.Equal(t, http.StatusNotFound, statusOf(t, err))
	})

	t.Run("malformed token id", func(t *testing.T) {
		_, err := env.runnerHandler.DeleteToken(ctx, &DeleteTokenInput{ID: "not-a-ulid"})
		assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	})
}

func TestRunnerHandler_Register(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	genOut, err := env.runnerHandler.GenerateToken(ctx, &GenerateTokenInput{})
	require.NoError(t, err)

	in := &RegisterRunnerInput{}
	in.Body.RegistrationToken = genOut.Body.Token
	in.Body.Name = "encoder-1"
	in.Body.Description = "rack 3"
	out, err := env.runnerHandler.RegisterRunner(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "encoder-1", out.Body.Runner.Name)
	assert.Contains(t, out.Body.RunnerToken, "vrt-")

	t.Run("same name returns the same identity", func(t *testing.T) {
		again, err := env.runnerHandler.RegisterRunner(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, out.Body.Runner.ID, again.Body.Runner.ID)
		assert.Equal(t, out.Body.RunnerToken, again.Body.RunnerToken)
	})

	t.Run("unknown registration token is forbidden", func(t *testing.T) {
		bad := &RegisterRunnerInput{}
		bad.Body.RegistrationToken = "vrrt-bogus"
		bad.Body.Name = "encoder-2"
		_, err := env.runnerHandler.RegisterRunner(ctx, bad)
		assert.Equal(t, http.StatusForbidden, statusOf(t, err))
	})

	t.Run("missing name is bad request", func(t *testing.T) {
		bad := &RegisterRunnerInput{}
		bad.Body.RegistrationToken = genOut.Body.Token
		_, err := env.runnerHandler.RegisterRunner(ctx, bad)
		assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	})
}

func TestRunnerHandler_ListAndDeleteRunners(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	runnerID, runnerToken := env.registerRunner(t, "encoder-1")
	env.registerRunner(t, "encoder-2")

	listOut, err := env.runnerHandler.ListRunners(ctx, &ListRunnersInput{})
	require.NoError(t, err)
	assert.Len(t, listOut.Body.Runners, 2)

	_, err = env.runnerHandler.DeleteRunner(ctx, &DeleteRunnerInput{ID: runnerID})
	require.NoError(t, err)

	// The deleted runner's token no longer authenticates.
	reqIn := &RequestJobsInput{}
	reqIn.Body.RunnerToken = runnerToken
	_, err = env.jobHandler.Request(ctx, reqIn)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}
