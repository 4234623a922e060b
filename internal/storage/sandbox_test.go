package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	return sb
}

func TestNewSandbox(t *testing.T) {
	tmpDir := t.TempDir()
	sandboxDir := filepath.Join(tmpDir, "sandbox")

	sb, err := NewSandbox(sandboxDir)
	require.NoError(t, err)
	require.NotNil(t, sb)

	info, err := os.Stat(sandboxDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(sb.BaseDir()))
}

func TestSandbox_ResolvePath(t *testing.T) {
	sb := setupTestSandbox(t)

	tests := []struct {
		name        string
		path        string
		shouldError bool
	}{
		{"simple file", "segment-001.ts", false},
		{"nested path", "video-uuid/0.m3u8", false},
		{"deep nesting", "a/b/c/d/chunk.ts", false},
		{"current dir", ".", false},
		{"parent escape attempt", "../escape.txt", true},
		{"nested parent escape", "video-uuid/../../escape.txt", true},
		{"absolute path escape", "/etc/passwd", true},
		{"hidden file", ".hidden", false},
		{"dot dot name", "..playlist", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := sb.ResolvePath(tt.path)
			if tt.shouldError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "escapes sandbox")
			} else {
				assert.NoError(t, err)
				assert.True(t, strings.HasPrefix(resolved, sb.BaseDir()))
			}
		})
	}
}

func TestSandbox_WriteAndReadFile(t *testing.T) {
	sb := setupTestSandbox(t)
	content := []byte("#EXTM3U\n#EXT-X-VERSION:3\n")

	require.NoError(t, sb.WriteFile("session/0.m3u8", content))

	read, err := sb.ReadFile("session/0.m3u8")
	require.NoError(t, err)
	assert.Equal(t, content, read)

	exists, err := sb.Exists("session/0.m3u8")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = sb.Exists("session/missing.ts")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSandbox_AtomicWrite(t *testing.T) {
	sb := setupTestSandbox(t)

	require.NoError(t, sb.AtomicWrite("playlist.m3u8", []byte("v1")))
	require.NoError(t, sb.AtomicWrite("playlist.m3u8", []byte("v2")))

	read, err := sb.ReadFile("playlist.m3u8")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), read)

	// No temp droppings left behind.
	entries, err := sb.List(".")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSandbox_AtomicWriteReader(t *testing.T) {
	sb := setupTestSandbox(t)

	require.NoError(t, sb.AtomicWriteReader("chunks/000.ts", bytes.NewReader([]byte("payload"))))

	read, err := sb.ReadFile("chunks/000.ts")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), read)
}

func TestSandbox_AtomicPublish(t *testing.T) {
	sb := setupTestSandbox(t)

	src := filepath.Join(t.TempDir(), "upload.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video bytes"), 0640))

	require.NoError(t, sb.AtomicPublish(src, "videos/v1/1080.mp4"))

	read, err := sb.ReadFile("videos/v1/1080.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("video bytes"), read)

	// Source is consumed by the move.
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestSandbox_RemoveAll(t *testing.T) {
	sb := setupTestSandbox(t)

	require.NoError(t, sb.WriteFile("session/a.ts", []byte("a")))
	require.NoError(t, sb.WriteFile("session/b.ts", []byte("b")))

	require.NoError(t, sb.RemoveAll("session"))

	exists, err := sb.Exists("session")
	require.NoError(t, err)
	assert.False(t, exists)

	// Base directory itself is protected.
	assert.Error(t, sb.RemoveAll("."))
}

func TestSandbox_SubSandbox(t *testing.T) {
	sb := setupTestSandbox(t)

	sub, err := sb.SubSandbox("live")
	require.NoError(t, err)
	require.NoError(t, sub.WriteFile("x.ts", []byte("x")))

	exists, err := sb.Exists("live/x.ts")
	require.NoError(t, err)
	assert.True(t, exists)

	// Sub-sandbox cannot climb back out.
	_, err = sub.ResolvePath("../escape")
	assert.Error(t, err)
}

func TestSandbox_Size(t *testing.T) {
	sb := setupTestSandbox(t)

	require.NoError(t, sb.WriteFile("f.bin", []byte("12345")))

	size, err := sb.Size("f.bin")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
}
