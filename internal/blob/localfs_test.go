package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS_SaveOpenRemove(t *testing.T) {
	store, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	n, err := store.Save(ctx, "uploads/audio_1.m4a", strings.NewReader("fake audio bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)

	rc, err := store.Open(ctx, "uploads/audio_1.m4a")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "fake audio bytes", string(data))

	require.NoError(t, store.Remove(ctx, "uploads/audio_1.m4a"))
	_, err = store.Open(ctx, "uploads/audio_1.m4a")
	assert.Error(t, err)
}

func TestLocalFS_RejectsEscapingRefs(t *testing.T) {
	store, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	tests := []string{
		"../outside.txt",
		"uploads/../../outside.txt",
		"/etc/passwd",
		"",
	}

	for _, ref := range tests {
		_, err := store.Save(ctx, ref, strings.NewReader("x"))
		assert.Error(t, err, "ref %q should be rejected", ref)
	}
}

func TestLocalFS_RemoveMissingIsNoOp(t *testing.T) {
	store, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Remove(context.Background(), "never-existed.wav"))
}
