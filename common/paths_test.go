package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathGuardAllowed(t *testing.T) {
	downloads := t.TempDir()
	clips := t.TempDir()
	outside := t.TempDir()
	guard := NewPathGuard([]string{downloads, clips})

	require.True(t, guard.Allowed(filepath.Join(downloads, "video_1.mp4")))
	require.True(t, guard.Allowed(filepath.Join(clips, "nested", "clip.mp4")))

	require.False(t, guard.Allowed(filepath.Join(outside, "video_1.mp4")))
	require.False(t, guard.Allowed(""))
	require.False(t, guard.Allowed(downloads), "the root itself is not deletable")
	require.False(t, guard.Allowed(filepath.Join(downloads, "..", "escape.mp4")))
}

func TestPathGuardRemove(t *testing.T) {
	managed := t.TempDir()
	outside := t.TempDir()
	guard := NewPathGuard([]string{managed})

	inside := filepath.Join(managed, "clip.mp4")
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o644))

	victim := filepath.Join(outside, "precious.txt")
	require.NoError(t, os.WriteFile(victim, []byte("keep me"), 0o644))

	require.NoError(t, guard.Remove(inside))
	_, err := os.Stat(inside)
	require.True(t, os.IsNotExist(err))

	require.Error(t, guard.Remove(victim))
	_, err = os.Stat(victim)
	require.NoError(t, err, "file outside managed directories must survive")

	// Already-gone files are not an error.
	require.NoError(t, guard.Remove(inside))
}

func TestPathGuardRemoveAll(t *testing.T) {
	managed := t.TempDir()
	outside := t.TempDir()
	guard := NewPathGuard([]string{managed})

	a := filepath.Join(managed, "a.mp4")
	b := filepath.Join(managed, "b.mp4")
	evil := filepath.Join(outside, "evil.mp4")
	for _, p := range []string{a, b, evil} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	removed := guard.RemoveAll([]string{a, b, evil, ""})
	require.Equal(t, 2, removed)

	_, err := os.Stat(evil)
	require.NoError(t, err)
}
