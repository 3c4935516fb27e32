package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castarr/castarr/internal/models"
)

func TestSessionTracker_SameClientSharesSession(t *testing.T) {
	tracker := NewSessionTracker(time.Minute)
	chID := models.NewULID()

	s1 := tracker.BeginRequest(chID, "10.0.0.1:5000", "vlc/3.0", "/hls/playlist.m3u8")
	s2 := tracker.BeginRequest(chID, "10.0.0.1:5000", "vlc/3.0", "/hls/playlist.m3u8")

	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, 1, tracker.Count(chID))

	active := tracker.Active(chID)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].OpenRequests)
}

func TestSessionTracker_DifferentAgentsAreDistinct(t *testing.T) {
	tracker := NewSessionTracker(time.Minute)
	chID := models.NewULID()

	tracker.BeginRequest(chID, "10.0.0.1:5000", "vlc/3.0", "/hls/playlist.m3u8")
	tracker.BeginRequest(chID, "10.0.0.1:5000", "mpv/0.38", "/hls/playlist.m3u8")
	tracker.BeginRequest(chID, "10.0.0.2:5000", "vlc/3.0", "/hls/playlist.m3u8")

	assert.Equal(t, 3, tracker.Count(chID))
}

func TestSessionTracker_EndRequestAccountsBytes(t *testing.T) {
	tracker := NewSessionTracker(time.Minute)
	chID := models.NewULID()

	sess := tracker.BeginRequest(chID, "10.0.0.1:5000", "vlc/3.0", "/hls/playlist.m3u8")
	tracker.EndRequest(sess, 4096)

	active := tracker.Active(chID)
	require.Len(t, active, 1)
	assert.Equal(t, 0, active[0].OpenRequests)
	assert.Equal(t, int64(4096), active[0].BytesServed)
}

func TestSessionTracker_PrunesIdleSessions(t *testing.T) {
	tracker := NewSessionTracker(50 * time.Millisecond)
	chID := models.NewULID()

	sess := tracker.BeginRequest(chID, "10.0.0.1:5000", "vlc/3.0", "/hls/playlist.m3u8")
	tracker.EndRequest(sess, 0)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, tracker.Count(chID))
}

func TestSessionTracker_OpenRequestNeverPruned(t *testing.T) {
	tracker := NewSessionTracker(50 * time.Millisecond)
	chID := models.NewULID()

	tracker.BeginRequest(chID, "10.0.0.1:5000", "vlc/3.0", "/hls/playlist.m3u8")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, tracker.Count(chID))
}

func TestSessionTracker_EvictDropsChannel(t *testing.T) {
	tracker := NewSessionTracker(time.Minute)
	chA := models.NewULID()
	chB := models.NewULID()

	tracker.BeginRequest(chA, "10.0.0.1:5000", "vlc/3.0", "/hls/playlist.m3u8")
	tracker.BeginRequest(chB, "10.0.0.2:5000", "vlc/3.0", "/hls/playlist.m3u8")

	tracker.Evict(chA)

	assert.Equal(t, 0, tracker.Count(chA))
	assert.Equal(t, 1, tracker.Count(chB))
	assert.Equal(t, 1, tracker.CountAll())
}
