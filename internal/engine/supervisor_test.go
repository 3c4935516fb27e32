package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castarr/castarr/internal/models"
)

// fakeProcess is a scriptable pipeline process.
type fakeProcess struct {
	exitCh chan error
	once   sync.Once
}

func newBlockingProc() *fakeProcess {
	return &fakeProcess{exitCh: make(chan error, 1)}
}

func newCrashingProc(err error) *fakeProcess {
	p := newBlockingProc()
	p.exit(err)
	return p
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() { p.exitCh <- err })
}

func (p *fakeProcess) Wait() error { return <-p.exitCh }

func (p *fakeProcess) Stop(grace time.Duration) { p.exit(nil) }

func (p *fakeProcess) PID() int { return 0 }

// fakeRunner hands out scripted spawn results; the last entry repeats.
type fakeRunner struct {
	mu     sync.Mutex
	script []func() (Process, error)
	spawns int
}

func (r *fakeRunner) Start(ctx context.Context, spec CommandSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.spawns
	if idx >= len(r.script) {
		idx = len(r.script) - 1
	}
	r.spawns++
	return r.script[idx]()
}

func (r *fakeRunner) spawnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spawns
}

func spawnBlocking() (Process, error) { return newBlockingProc(), nil }

func spawnCrash(err error) func() (Process, error) {
	return func() (Process, error) { return newCrashingProc(err), nil }
}
func spawnFail(err error) func() (Process, error) {
	return func() (Process, error) { return nil, err }
}

type stateEvent struct {
	channelID models.ULID
	state     State
	err       error
}

func testSupervisor(t *testing.T, runner ProcessRunner, cfg Config) (*Supervisor, *SessionTracker, chan stateEvent) {
	t.Helper()
	if cfg.MaxPipelines == 0 {
		cfg.MaxPipelines = 8
	}
	if cfg.RestartBackoff == 0 {
		cfg.RestartBackoff = time.Millisecond
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 10 * time.Millisecond
	}
	cfg.FFmpegPath = "ffmpeg"

	store := NewSegmentStore(t.TempDir(), nil)
	sessions := NewSessionTracker(time.Minute)
	s := NewSupervisor(cfg, runner, store, sessions, nil)

	events := make(chan stateEvent, 16)
	s.OnStateChange(func(channelID models.ULID, state State, err error) {
		events <- stateEvent{channelID: channelID, state: state, err: err}
	})
	return s, sessions, events
}

func testChannel(t *testing.T, itemCount int) (*models.Channel, []models.ChannelItem) {
	t.Helper()
	dir := t.TempDir()

	items := make([]models.ChannelItem, itemCount)
	for i := range items {
		path := filepath.Join(dir, "track"+string(rune('a'+i))+".flac")
		require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
		items[i] = models.ChannelItem{
			BaseModel: models.BaseModel{ID: models.NewULID()},
			Position:  i,
			Title:     "track",
			FilePath:  path,
			Available: true,
		}
	}

	ch := &models.Channel{
		BaseModel: models.BaseModel{ID: models.NewULID()},
		Name:      "test",
		Encoding:  models.EncodingTranscode,
	}
	return ch, items
}

func waitEvent(t *testing.T, events chan stateEvent) stateEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state event")
		return stateEvent{}
	}
}

func TestSupervisor_StartBecomesActive(t *testing.T) {
	runner := &fakeRunner{script: []func() (Process, error){spawnBlocking}}
	s, _, events := testSupervisor(t, runner, Config{RestartBudget: 3})
	ch, items := testChannel(t, 1)

	require.NoError(t, s.Start(context.Background(), ch, items))
	assert.Equal(t, StateActive, s.State(ch.ID))
	assert.True(t, s.Running(ch.ID))

	ev := waitEvent(t, events)
	assert.Equal(t, StateActive, ev.state)
	assert.NoError(t, ev.err)

	require.NoError(t, s.Stop(context.Background(), ch.ID))
}

func TestSupervisor_SpawnFailuresWithinBudgetRecover(t *testing.T) {
	boom := errors.New("spawn boom")
	runner := &fakeRunner{script: []func() (Process, error){
		spawnFail(boom),
		spawnFail(boom),
		spawnBlocking,
	}}
	s, _, _ := testSupervisor(t, runner, Config{RestartBudget: 3})
	ch, items := testChannel(t, 1)

	require.NoError(t, s.Start(context.Background(), ch, items))
	assert.Equal(t, StateActive, s.State(ch.ID))
	assert.Equal(t, 3, runner.spawnCount())

	require.NoError(t, s.Stop(context.Background(), ch.ID))
}

func TestSupervisor_SpawnBudgetExhaustedFailsStart(t *testing.T) {
	boom := errors.New("spawn boom")
	runner := &fakeRunner{script: []func() (Process, error){spawnFail(boom)}}
	s, _, _ := testSupervisor(t, runner, Config{RestartBudget: 2})
	ch, items := testChannel(t, 1)

	err := s.Start(context.Background(), ch, items)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRestartBudgetExhausted)
	assert.False(t, s.Running(ch.ID))
	assert.Equal(t, StateStopped, s.State(ch.ID))
}

func TestSupervisor_CrashesWithinBudgetRecover(t *testing.T) {
	boom := errors.New("encoder crashed")
	runner := &fakeRunner{script: []func() (Process, error){
		spawnCrash(boom),
		spawnCrash(boom),
		spawnBlocking,
	}}
	s, _, events := testSupervisor(t, runner, Config{RestartBudget: 3})
	ch, items := testChannel(t, 1)

	require.NoError(t, s.Start(context.Background(), ch, items))

	ev := waitEvent(t, events)
	assert.Equal(t, StateActive, ev.state)

	// Two crashes stay within the budget; the third process holds.
	require.Eventually(t, func() bool {
		return runner.spawnCount() == 3 && s.State(ch.ID) == StateActive
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, s.Running(ch.ID))
	select {
	case ev := <-events:
		t.Fatalf("unexpected state event after recovery: %+v", ev)
	default:
	}

	require.NoError(t, s.Stop(context.Background(), ch.ID))
	ev = waitEvent(t, events)
	assert.Equal(t, StateStopped, ev.state)
	assert.NoError(t, ev.err)
}

func TestSupervisor_CrashBudgetExhaustedStopsWithError(t *testing.T) {
	boom := errors.New("encoder crashed")
	runner := &fakeRunner{script: []func() (Process, error){spawnCrash(boom)}}
	s, _, events := testSupervisor(t, runner, Config{RestartBudget: 1})
	ch, items := testChannel(t, 1)

	// The first spawn succeeds, so Start resolves before the crashes
	// exhaust the budget.
	require.NoError(t, s.Start(context.Background(), ch, items))

	ev := waitEvent(t, events)
	assert.Equal(t, StateActive, ev.state)

	ev = waitEvent(t, events)
	assert.Equal(t, StateStopped, ev.state)
	assert.ErrorIs(t, ev.err, ErrRestartBudgetExhausted)
	assert.False(t, s.Running(ch.ID))
}

func TestSupervisor_StopEvictsSessions(t *testing.T) {
	runner := &fakeRunner{script: []func() (Process, error){spawnBlocking}}
	s, sessions, events := testSupervisor(t, runner, Config{RestartBudget: 3})
	ch, items := testChannel(t, 1)

	require.NoError(t, s.Start(context.Background(), ch, items))
	waitEvent(t, events) // active

	sessions.BeginRequest(ch.ID, "10.0.0.1:5000", "vlc/3.0", "/hls/playlist.m3u8")
	require.Equal(t, 1, sessions.Count(ch.ID))

	require.NoError(t, s.Stop(context.Background(), ch.ID))

	ev := waitEvent(t, events)
	assert.Equal(t, StateStopped, ev.state)
	assert.NoError(t, ev.err)
	assert.Equal(t, 0, sessions.Count(ch.ID))
	assert.False(t, s.Running(ch.ID))
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	runner := &fakeRunner{script: []func() (Process, error){spawnBlocking}}
	s, _, _ := testSupervisor(t, runner, Config{RestartBudget: 3})

	assert.NoError(t, s.Stop(context.Background(), models.NewULID()))
}

func TestSupervisor_DoubleStartRejected(t *testing.T) {
	runner := &fakeRunner{script: []func() (Process, error){spawnBlocking}}
	s, _, _ := testSupervisor(t, runner, Config{RestartBudget: 3})
	ch, items := testChannel(t, 1)

	require.NoError(t, s.Start(context.Background(), ch, items))

	err := s.Start(context.Background(), ch, items)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	require.NoError(t, s.Stop(context.Background(), ch.ID))
}

func TestSupervisor_PipelineCeiling(t *testing.T) {
	runner := &fakeRunner{script: []func() (Process, error){spawnBlocking}}
	s, _, _ := testSupervisor(t, runner, Config{RestartBudget: 3, MaxPipelines: 1})
	chA, itemsA := testChannel(t, 1)
	chB, itemsB := testChannel(t, 1)

	require.NoError(t, s.Start(context.Background(), chA, itemsA))

	err := s.Start(context.Background(), chB, itemsB)
	assert.ErrorIs(t, err, ErrTooManyPipelines)

	require.NoError(t, s.Stop(context.Background(), chA.ID))
}

func TestSupervisor_VanishedFileSkipped(t *testing.T) {
	runner := &fakeRunner{script: []func() (Process, error){spawnBlocking}}
	s, _, _ := testSupervisor(t, runner, Config{RestartBudget: 3})
	ch, items := testChannel(t, 2)

	require.NoError(t, os.Remove(items[0].FilePath))

	var mu sync.Mutex
	var skipped []models.ULID
	s.OnItemUnavailable(func(channelID, itemID models.ULID) {
		mu.Lock()
		skipped = append(skipped, itemID)
		mu.Unlock()
	})

	require.NoError(t, s.Start(context.Background(), ch, items))
	assert.Equal(t, StateActive, s.State(ch.ID))

	mu.Lock()
	require.Len(t, skipped, 1)
	assert.Equal(t, items[0].ID, skipped[0])
	mu.Unlock()

	require.NoError(t, s.Stop(context.Background(), ch.ID))
}

func TestSupervisor_PlaylistExhaustedFailsStart(t *testing.T) {
	runner := &fakeRunner{script: []func() (Process, error){spawnBlocking}}
	s, _, _ := testSupervisor(t, runner, Config{RestartBudget: 3})
	ch, _ := testChannel(t, 0)

	err := s.Start(context.Background(), ch, nil)
	assert.ErrorIs(t, err, ErrPlaylistExhausted)
	assert.False(t, s.Running(ch.ID))
}

func TestSupervisor_RebootRestartsPipeline(t *testing.T) {
	runner := &fakeRunner{script: []func() (Process, error){spawnBlocking}}
	s, sessions, events := testSupervisor(t, runner, Config{RestartBudget: 3})
	ch, items := testChannel(t, 1)

	require.NoError(t, s.Start(context.Background(), ch, items))
	waitEvent(t, events) // active

	sessions.BeginRequest(ch.ID, "10.0.0.1:5000", "vlc/3.0", "/hls/playlist.m3u8")

	require.NoError(t, s.Reboot(context.Background(), ch, items))

	ev := waitEvent(t, events)
	assert.Equal(t, StateStopped, ev.state)
	ev = waitEvent(t, events)
	assert.Equal(t, StateActive, ev.state)

	// Sessions do not survive a reboot.
	assert.Equal(t, 0, sessions.Count(ch.ID))
	assert.True(t, s.Running(ch.ID))

	require.NoError(t, s.Stop(context.Background(), ch.ID))
}

func TestSupervisor_StopAll(t *testing.T) {
	runner := &fakeRunner{script: []func() (Process, error){spawnBlocking}}
	s, _, _ := testSupervisor(t, runner, Config{RestartBudget: 3})
	chA, itemsA := testChannel(t, 1)
	chB, itemsB := testChannel(t, 1)

	require.NoError(t, s.Start(context.Background(), chA, itemsA))
	require.NoError(t, s.Start(context.Background(), chB, itemsB))
	require.Equal(t, 2, s.ActiveCount())

	s.StopAll(context.Background())
	assert.Equal(t, 0, s.ActiveCount())
}
