package engine

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castarr/castarr/internal/models"
)

const testPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:6.000000,
segment_00000.ts
#EXTINF:6.000000,
segment_00001.ts
`

func TestSegmentStore_PlaylistAppendsToken(t *testing.T) {
	store := NewSegmentStore(t.TempDir(), nil)
	chID := models.NewULID()

	dir, err := store.EnsureChannelDir(chID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, PlaylistName), []byte(testPlaylist), 0o644))

	out, err := store.Playlist(chID, "secret123")
	require.NoError(t, err)

	rendered := string(out)
	assert.Contains(t, rendered, "segment_00000.ts?token=secret123")
	assert.Contains(t, rendered, "segment_00001.ts?token=secret123")
	assert.False(t, strings.Contains(strings.ReplaceAll(rendered, "?token=secret123", ""), "token"))
}

func TestSegmentStore_PlaylistNotReady(t *testing.T) {
	store := NewSegmentStore(t.TempDir(), nil)

	_, err := store.Playlist(models.NewULID(), "secret")
	assert.ErrorIs(t, err, ErrPlaylistNotReady)
}

func TestSegmentStore_OpenSegment(t *testing.T) {
	store := NewSegmentStore(t.TempDir(), nil)
	chID := models.NewULID()

	dir, err := store.EnsureChannelDir(chID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_00042.ts"), []byte("tsdata"), 0o644))

	rc, size, err := store.OpenSegment(chID, "segment_00042.ts")
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, int64(6), size)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "tsdata", string(data))
}

func TestSegmentStore_OpenSegmentRejectsBadNames(t *testing.T) {
	store := NewSegmentStore(t.TempDir(), nil)
	chID := models.NewULID()

	for _, name := range []string{
		"../../../etc/passwd",
		"playlist.m3u8",
		"segment_.ts",
		"segment_1.mp4",
		"segment_00001.ts.bak",
	} {
		_, _, err := store.OpenSegment(chID, name)
		assert.ErrorIs(t, err, ErrSegmentNotFound, "name %q", name)
	}
}

func TestSegmentStore_OpenSegmentMissing(t *testing.T) {
	store := NewSegmentStore(t.TempDir(), nil)

	_, _, err := store.OpenSegment(models.NewULID(), "segment_00001.ts")
	assert.ErrorIs(t, err, ErrSegmentNotFound)
}

func TestSegmentStore_SegmentCount(t *testing.T) {
	store := NewSegmentStore(t.TempDir(), nil)
	chID := models.NewULID()

	assert.Equal(t, 0, store.SegmentCount(chID))

	dir, err := store.EnsureChannelDir(chID)
	require.NoError(t, err)
	for _, name := range []string{"segment_00000.ts", "segment_00001.ts", "playlist.m3u8"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	assert.Equal(t, 2, store.SegmentCount(chID))
}

func TestSegmentStore_PurgeRemovesEverything(t *testing.T) {
	store := NewSegmentStore(t.TempDir(), nil)
	chID := models.NewULID()

	dir, err := store.EnsureChannelDir(chID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_00000.ts"), []byte("x"), 0o644))
	store.AddBytesServed(chID, 100)

	require.NoError(t, store.Purge(chID))

	assert.Equal(t, 0, store.SegmentCount(chID))
	assert.Equal(t, int64(0), store.ChannelBytesServed(chID))
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSegmentStore_ByteAccounting(t *testing.T) {
	store := NewSegmentStore(t.TempDir(), nil)
	chA := models.NewULID()
	chB := models.NewULID()

	store.AddBytesServed(chA, 100)
	store.AddBytesServed(chA, 50)
	store.AddBytesServed(chB, 25)
	store.AddBytesServed(chB, -10) // ignored

	assert.Equal(t, int64(150), store.ChannelBytesServed(chA))
	assert.Equal(t, int64(25), store.ChannelBytesServed(chB))
	assert.Equal(t, int64(175), store.TotalBytesServed())
}
