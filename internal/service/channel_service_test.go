package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castarr/castarr/internal/catalog"
	"github.com/castarr/castarr/internal/config"
	"github.com/castarr/castarr/internal/database"
	"github.com/castarr/castarr/internal/engine"
	"github.com/castarr/castarr/internal/ffmpeg"
	"github.com/castarr/castarr/internal/models"
	"github.com/castarr/castarr/internal/repository"
)

// stubProcess blocks in Wait until stopped, then exits cleanly.
type stubProcess struct {
	exitCh chan error
	once   sync.Once
}

func (p *stubProcess) Wait() error { return <-p.exitCh }

func (p *stubProcess) Stop(grace time.Duration) {
	p.once.Do(func() { p.exitCh <- nil })
}

func (p *stubProcess) PID() int { return 0 }

// stubRunner hands out blocking processes for every spawn.
type stubRunner struct{}

func (stubRunner) Start(ctx context.Context, spec engine.CommandSpec) (engine.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &stubProcess{exitCh: make(chan error, 1)}, nil
}

// serviceCatalog serves canned downloaded tracks.
type serviceCatalog struct {
	tracks map[models.ULID]catalog.TrackInfo
}

func (c *serviceCatalog) TracksByIDs(_ context.Context, ids []models.ULID) (map[models.ULID]catalog.TrackInfo, error) {
	out := make(map[models.ULID]catalog.TrackInfo)
	for _, id := range ids {
		if t, ok := c.tracks[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (c *serviceCatalog) TracksByArtist(_ context.Context, _ models.ULID) ([]catalog.TrackInfo, error) {
	return nil, nil
}

func (c *serviceCatalog) ArtistsByGenre(_ context.Context, _ models.ULID) ([]models.ULID, error) {
	return nil, nil
}

func (c *serviceCatalog) SearchTracks(_ context.Context, _ string, _ int) ([]catalog.TrackInfo, error) {
	return nil, nil
}

type staticSnapshotter struct{}

func (staticSnapshotter) Snapshot(_ context.Context, _ string) (*ffmpeg.MediaInfo, error) {
	return &ffmpeg.MediaInfo{SizeBytes: 1024, Duration: 180, AudioCodec: "flac"}, nil
}

// newTestService builds a ChannelService over a temp-file sqlite database,
// real repositories and a supervisor driven by stub processes.
func newTestService(t *testing.T, cat *serviceCatalog) (*ChannelService, *engine.Supervisor) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	store := engine.NewSegmentStore(t.TempDir(), logger)
	sessions := engine.NewSessionTracker(time.Minute)
	sup := engine.NewSupervisor(engine.Config{
		FFmpegPath:      "ffmpeg",
		SegmentDuration: time.Second,
		PlaylistSize:    3,
		MaxPipelines:    4,
		StopGrace:       10 * time.Millisecond,
		RestartBudget:   1,
		RestartBackoff:  time.Millisecond,
	}, stubRunner{}, store, sessions, logger)
	t.Cleanup(func() { sup.StopAll(context.Background()) })

	svc := NewChannelService(
		repository.NewChannelRepository(db.DB),
		repository.NewChannelItemRepository(db.DB),
		repository.NewJobRepository(db.DB),
		catalog.NewResolver(cat, staticSnapshotter{}, logger),
		cat,
		sup,
		store,
		sessions,
		logger,
	)
	return svc, sup
}

// serviceTrack writes a real media file so the pipeline loop can stat it.
func serviceTrack(t *testing.T, dir, title string) catalog.TrackInfo {
	t.Helper()
	path := filepath.Join(dir, title+".flac")
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
	return catalog.TrackInfo{
		TrackID:    models.NewULID(),
		ArtistID:   models.NewULID(),
		Title:      title,
		ArtistName: "artist",
		FilePath:   path,
		Downloaded: true,
	}
}

func createTestChannel(t *testing.T, svc *ChannelService, cat *serviceCatalog) *models.Channel {
	t.Helper()
	dir := t.TempDir()
	a := serviceTrack(t, dir, "a")
	b := serviceTrack(t, dir, "b")
	cat.tracks = map[models.ULID]catalog.TrackInfo{a.TrackID: a, b.TrackID: b}

	ch, err := svc.Create(context.Background(), CreateChannelRequest{
		Name:       "late night",
		SourceType: models.SourceTypeTracks,
		SourceIDs:  []models.ULID{a.TrackID, b.TrackID},
	})
	require.NoError(t, err)
	require.Len(t, ch.Items, 2)
	return ch
}

func TestUpdate_StatusStartsAndStopsPipeline(t *testing.T) {
	cat := &serviceCatalog{}
	svc, sup := newTestService(t, cat)
	ch := createTestChannel(t, svc, cat)
	assert.Equal(t, models.ChannelStatusStopped, ch.Status)

	active := models.ChannelStatusActive
	updated, err := svc.Update(context.Background(), ch.ID, UpdateChannelRequest{Status: &active})
	require.NoError(t, err)
	assert.True(t, sup.Running(ch.ID))
	assert.Equal(t, models.ChannelStatusActive, updated.Status)

	stopped := models.ChannelStatusStopped
	updated, err = svc.Update(context.Background(), ch.ID, UpdateChannelRequest{Status: &stopped})
	require.NoError(t, err)
	assert.False(t, sup.Running(ch.ID))
	assert.Equal(t, models.ChannelStatusStopped, updated.Status)
}

func TestUpdate_StatusAppliesOtherFieldsToo(t *testing.T) {
	cat := &serviceCatalog{}
	svc, sup := newTestService(t, cat)
	ch := createTestChannel(t, svc, cat)

	name := "renamed"
	active := models.ChannelStatusActive
	updated, err := svc.Update(context.Background(), ch.ID, UpdateChannelRequest{
		Name:   &name,
		Status: &active,
	})
	require.NoError(t, err)
	assert.True(t, sup.Running(ch.ID))
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, models.ChannelStatusActive, updated.Status)
}

func TestUpdate_StatusMatchingRuntimeIsNoOp(t *testing.T) {
	cat := &serviceCatalog{}
	svc, sup := newTestService(t, cat)
	ch := createTestChannel(t, svc, cat)

	stopped := models.ChannelStatusStopped
	updated, err := svc.Update(context.Background(), ch.ID, UpdateChannelRequest{Status: &stopped})
	require.NoError(t, err)
	assert.False(t, sup.Running(ch.ID))
	assert.Equal(t, models.ChannelStatusStopped, updated.Status)

	active := models.ChannelStatusActive
	_, err = svc.Update(context.Background(), ch.ID, UpdateChannelRequest{Status: &active})
	require.NoError(t, err)
	require.True(t, sup.Running(ch.ID))

	// A second activation must not trip the already-active guard.
	updated, err = svc.Update(context.Background(), ch.ID, UpdateChannelRequest{Status: &active})
	require.NoError(t, err)
	assert.True(t, sup.Running(ch.ID))
	assert.Equal(t, models.ChannelStatusActive, updated.Status)
}

func TestUpdate_StatusRejectsUnknownValue(t *testing.T) {
	cat := &serviceCatalog{}
	svc, _ := newTestService(t, cat)
	ch := createTestChannel(t, svc, cat)

	bad := models.ChannelStatus("paused")
	_, err := svc.Update(context.Background(), ch.ID, UpdateChannelRequest{Status: &bad})
	var verr *models.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Field)
}
