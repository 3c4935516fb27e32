package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/castarr/castarr/internal/models"
)

// State is the runtime state of a channel's pipeline.
type State string

const (
	// StateStopped means no pipeline process exists for the channel.
	StateStopped State = "stopped"
	// StateStarting means the pipeline is launching its first process.
	StateStarting State = "starting"
	// StateActive means the pipeline is producing segments.
	StateActive State = "active"
	// StateStopping means a stop was requested and is in progress.
	StateStopping State = "stopping"
)

// Config holds supervisor tunables.
type Config struct {
	FFmpegPath       string
	SegmentDuration  time.Duration
	PlaylistSize     int
	PrecacheSegments int
	PrecacheTimeout  time.Duration
	MaxPipelines     int
	StopGrace        time.Duration
	RestartBudget    int
	RestartBackoff   time.Duration
}

// StateListener is notified of terminal pipeline state changes so callers
// can persist channel status. err is non-nil when the pipeline died.
type StateListener func(channelID models.ULID, state State, err error)

// ItemListener is notified when a backing file vanished and the item was
// marked unavailable at runtime.
type ItemListener func(channelID, itemID models.ULID)

// Supervisor owns every running pipeline: one ffmpeg process per active
// channel, fed item by item from a Sequencer. Crashes are restarted with
// backoff up to a bounded budget, after which the channel is stopped with
// the error attached. All spawn/kill operations on a given channel are
// serialized.
type Supervisor struct {
	cfg      Config
	runner   ProcessRunner
	store    *SegmentStore
	sessions *SessionTracker
	logger   *slog.Logger

	onState StateListener
	onItem  ItemListener

	mu        sync.Mutex
	pipelines map[models.ULID]*pipeline

	opMu  sync.Mutex
	opSet map[models.ULID]*sync.Mutex
}

// pipeline is the in-memory state of one running channel.
type pipeline struct {
	channelID models.ULID
	precache  bool
	seq       *Sequencer
	cancel    context.CancelFunc
	done      chan struct{}

	mu    sync.Mutex
	state State
	proc  Process
}

func (p *pipeline) setState(st State) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
}

func (p *pipeline) getState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *pipeline) setProc(proc Process) {
	p.mu.Lock()
	p.proc = proc
	p.mu.Unlock()
}

func (p *pipeline) getProc() Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg Config, runner ProcessRunner, store *SegmentStore, sessions *SessionTracker, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:       cfg,
		runner:    runner,
		store:     store,
		sessions:  sessions,
		logger:    logger,
		pipelines: make(map[models.ULID]*pipeline),
		opSet:     make(map[models.ULID]*sync.Mutex),
	}
}

// OnStateChange registers the terminal state listener. Must be called
// before any pipeline starts.
func (s *Supervisor) OnStateChange(fn StateListener) {
	s.onState = fn
}

// OnItemUnavailable registers the runtime item listener. Must be called
// before any pipeline starts.
func (s *Supervisor) OnItemUnavailable(fn ItemListener) {
	s.onItem = fn
}

// Start launches a pipeline for the channel and blocks until the first
// process spawned successfully or the pipeline failed terminally. A channel
// that crashes within its restart budget and then recovers starts without
// error.
func (s *Supervisor) Start(ctx context.Context, ch *models.Channel, items []models.ChannelItem) error {
	lock := s.opLock(ch.ID)
	lock.Lock()
	defer lock.Unlock()
	return s.startLocked(ctx, ch, items)
}

// Stop terminates the channel's pipeline: graceful signal, bounded grace
// period, forced kill. Sessions are evicted on completion regardless of
// which path terminated the process. Stopping a stopped channel is a no-op.
func (s *Supervisor) Stop(ctx context.Context, channelID models.ULID) error {
	lock := s.opLock(channelID)
	lock.Lock()
	defer lock.Unlock()
	return s.stopLocked(ctx, channelID)
}

// Reboot stops then starts the channel's pipeline, picking up item list and
// encoding changes. Sessions are cleared; clients must rejoin.
func (s *Supervisor) Reboot(ctx context.Context, ch *models.Channel, items []models.ChannelItem) error {
	lock := s.opLock(ch.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.stopLocked(ctx, ch.ID); err != nil {
		return err
	}
	return s.startLocked(ctx, ch, items)
}

// Precache runs the channel's pipeline just long enough to fill the segment
// window, then stops it without marking the channel active. A later Start
// appends to the precached playlist, giving clients instant joins.
func (s *Supervisor) Precache(ctx context.Context, ch *models.Channel, items []models.ChannelItem) error {
	lock := s.opLock(ch.ID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.register(ch.ID, true)
	if err != nil {
		return err
	}

	dir, err := s.store.EnsureChannelDir(ch.ID)
	if err != nil {
		s.remove(p)
		return err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.PrecacheTimeout)
	defer cancel()
	p.seq = NewSequencer(items, ch.Shuffle)
	p.cancel = cancel
	p.done = make(chan struct{})

	ready := make(chan error, 1)
	go s.runLoop(runCtx, p, ch.Encoding, dir, ready)

	if err := <-ready; err != nil {
		<-p.done
		s.remove(p)
		return err
	}

	target := s.cfg.PrecacheSegments
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-ctx.Done():
			break poll
		case <-runCtx.Done():
			break poll
		case <-p.done:
			break poll
		case <-ticker.C:
			if s.store.SegmentCount(ch.ID) >= target {
				break poll
			}
		}
	}

	cancel()
	if proc := p.getProc(); proc != nil {
		proc.Stop(s.cfg.StopGrace)
	}
	<-p.done
	s.remove(p)

	s.logger.Info("precache finished",
		slog.String("channel_id", ch.ID.String()),
		slog.Int("segments", s.store.SegmentCount(ch.ID)))
	return nil
}

// UpdateItems swaps the live item list of a running channel without
// restarting its process. Used by rescans.
func (s *Supervisor) UpdateItems(channelID models.ULID, items []models.ChannelItem) {
	if p := s.get(channelID); p != nil && p.seq != nil {
		p.seq.SetItems(items)
	}
}

// SetShuffle toggles shuffle on a running channel immediately.
func (s *Supervisor) SetShuffle(channelID models.ULID, shuffle bool) {
	if p := s.get(channelID); p != nil && p.seq != nil {
		p.seq.SetShuffle(shuffle)
	}
}

// State reports the runtime state of a channel.
func (s *Supervisor) State(channelID models.ULID) State {
	if p := s.get(channelID); p != nil {
		return p.getState()
	}
	return StateStopped
}

// Running reports whether the channel has a live, non-precache pipeline.
func (s *Supervisor) Running(channelID models.ULID) bool {
	p := s.get(channelID)
	return p != nil && !p.precache
}

// ActiveCount returns the number of live pipelines, precache runs included.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipelines)
}

// StopAll stops every running pipeline. Used during daemon shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]models.ULID, 0, len(s.pipelines))
	for id := range s.pipelines {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id models.ULID) {
			defer wg.Done()
			if err := s.Stop(ctx, id); err != nil {
				s.logger.Warn("stopping pipeline during shutdown",
					slog.String("channel_id", id.String()),
					slog.String("error", err.Error()))
			}
		}(id)
	}
	wg.Wait()
}

func (s *Supervisor) startLocked(ctx context.Context, ch *models.Channel, items []models.ChannelItem) error {
	p, err := s.register(ch.ID, false)
	if err != nil {
		return err
	}

	dir, err := s.store.EnsureChannelDir(ch.ID)
	if err != nil {
		s.remove(p)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.seq = NewSequencer(items, ch.Shuffle)
	p.cancel = cancel
	p.done = make(chan struct{})

	ready := make(chan error, 1)
	go s.runLoop(runCtx, p, ch.Encoding, dir, ready)

	select {
	case err := <-ready:
		if err != nil {
			<-p.done
			s.remove(p)
			return err
		}
		return nil
	case <-ctx.Done():
		cancel()
		if proc := p.getProc(); proc != nil {
			proc.Stop(s.cfg.StopGrace)
		}
		<-p.done
		s.remove(p)
		return ctx.Err()
	}
}

func (s *Supervisor) stopLocked(ctx context.Context, channelID models.ULID) error {
	p := s.get(channelID)
	if p == nil {
		return nil
	}

	p.setState(StateStopping)
	p.cancel()
	if proc := p.getProc(); proc != nil {
		proc.Stop(s.cfg.StopGrace)
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		// The loop is expected to exit shortly after the kill; do not leave
		// the channel half-stopped even if the caller gave up waiting.
		<-p.done
	}

	s.sessions.Evict(channelID)
	s.remove(p)
	if !p.precache {
		s.notify(channelID, StateStopped, nil)
	}
	return nil
}

// runLoop feeds the pipeline one item at a time until cancelled or failed.
// The first successful spawn resolves ready; terminal failures before that
// resolve it with the error instead.
func (s *Supervisor) runLoop(ctx context.Context, p *pipeline, encoding models.EncodingMode, dir string, ready chan<- error) {
	defer close(p.done)

	logger := s.logger.With(slog.String("channel_id", p.channelID.String()))
	opts := EncodeOptions{
		Binary:          s.cfg.FFmpegPath,
		SegmentDuration: s.cfg.SegmentDuration,
		PlaylistSize:    s.cfg.PlaylistSize,
	}

	started := false
	restarts := 0

	fail := func(err error) {
		p.setState(StateStopped)
		if !started {
			ready <- err
			return
		}
		logger.Error("pipeline failed", slog.String("error", err.Error()))
		s.sessions.Evict(p.channelID)
		s.remove(p)
		if !p.precache {
			s.notify(p.channelID, StateStopped, err)
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		item, err := p.seq.Next()
		if err != nil {
			fail(err)
			return
		}

		if _, statErr := os.Stat(item.FilePath); statErr != nil {
			logger.Warn("backing file vanished, skipping item",
				slog.String("item_id", item.ID.String()),
				slog.String("path", item.FilePath))
			p.seq.MarkUnavailable(item.ID)
			if s.onItem != nil {
				s.onItem(p.channelID, item.ID)
			}
			continue
		}

		spec := BuildCommand(encoding, item.FilePath, dir, opts)
		proc, err := s.runner.Start(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			restarts++
			logger.Warn("pipeline spawn failed",
				slog.Int("attempt", restarts),
				slog.String("error", err.Error()))
			if restarts > s.cfg.RestartBudget {
				fail(fmt.Errorf("%w: %v", ErrRestartBudgetExhausted, err))
				return
			}
			if !sleepCtx(ctx, s.backoff(restarts)) {
				return
			}
			continue
		}

		p.setProc(proc)
		if !started {
			started = true
			p.setState(StateActive)
			if !p.precache {
				s.notify(p.channelID, StateActive, nil)
			}
			ready <- nil
		}

		logger.Debug("playing item",
			slog.String("item_id", item.ID.String()),
			slog.String("title", item.Title))

		err = proc.Wait()
		p.setProc(nil)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			restarts++
			logger.Warn("pipeline crashed",
				slog.Int("attempt", restarts),
				slog.String("error", err.Error()))
			if restarts > s.cfg.RestartBudget {
				fail(fmt.Errorf("%w: %v", ErrRestartBudgetExhausted, err))
				return
			}
			if !sleepCtx(ctx, s.backoff(restarts)) {
				return
			}
			continue
		}

		// Clean exit means the item finished; reset the crash counter.
		restarts = 0
	}
}

// register reserves a pipeline slot for the channel, enforcing the process
// ceiling and single-pipeline-per-channel.
func (s *Supervisor) register(channelID models.ULID, precache bool) (*pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pipelines[channelID]; exists {
		return nil, ErrAlreadyActive
	}
	if len(s.pipelines) >= s.cfg.MaxPipelines {
		return nil, ErrTooManyPipelines
	}

	p := &pipeline{
		channelID: channelID,
		precache:  precache,
		state:     StateStarting,
	}
	s.pipelines[channelID] = p
	return p, nil
}

func (s *Supervisor) get(channelID models.ULID) *pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelines[channelID]
}

func (s *Supervisor) remove(p *pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pipelines[p.channelID]; ok && cur == p {
		delete(s.pipelines, p.channelID)
	}
}

func (s *Supervisor) notify(channelID models.ULID, state State, err error) {
	if s.onState != nil {
		s.onState(channelID, state, err)
	}
}

// opLock returns the per-channel operation mutex, creating it on first use.
// Locks are never deleted; the channel count is small.
func (s *Supervisor) opLock(channelID models.ULID) *sync.Mutex {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	m, ok := s.opSet[channelID]
	if !ok {
		m = &sync.Mutex{}
		s.opSet[channelID] = m
	}
	return m
}

// backoff returns the sleep before restart attempt n, doubling each time
// and capped at 30 seconds.
func (s *Supervisor) backoff(attempt int) time.Duration {
	d := s.cfg.RestartBackoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 30*time.Second {
			return 30 * time.Second
		}
	}
	return d
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns
// false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
