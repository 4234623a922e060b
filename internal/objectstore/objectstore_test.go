package objectstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/config"
)

func TestNew_Drivers(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		store, err := New(config.ObjectStoreConfig{Driver: "none"})
		require.NoError(t, err)
		assert.IsType(t, &disabledStore{}, store)
		assert.False(t, store.Enabled())
	})

	t.Run("empty defaults to disabled", func(t *testing.T) {
		store, err := New(config.ObjectStoreConfig{})
		require.NoError(t, err)
		assert.IsType(t, &disabledStore{}, store)
	})

	t.Run("s3", func(t *testing.T) {
		store, err := New(config.ObjectStoreConfig{
			Driver: "s3",
			Region: "us-east-1",
			Bucket: "vodarr-artifacts",
		})
		require.NoError(t, err)
		assert.IsType(t, &s3Store{}, store)
		assert.True(t, store.Enabled())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(config.ObjectStoreConfig{Driver: "gcs"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported object store driver")
	})
}

func TestDisabledStore(t *testing.T) {
	store := &disabledStore{}
	ctx := context.Background()

	_, err := store.Exists(ctx, "some/key")
	assert.Error(t, err)

	_, err = store.Download(ctx, "some/key", nil)
	assert.Error(t, err)

	err = store.Upload(ctx, "some/key", strings.NewReader("x"))
	assert.Error(t, err)
}
