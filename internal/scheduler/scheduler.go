// Package scheduler triggers periodic rescans of derived channels so their
// playlists track catalog changes without operator intervention.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/castarr/castarr/internal/config"
	"github.com/castarr/castarr/internal/models"
	"github.com/castarr/castarr/internal/repository"
	"github.com/castarr/castarr/internal/service"
)

// Scheduler runs the auto-rescan loop. Each sync tick it evaluates the
// configured cron expression and, when due, launches a full rescan for every
// derived channel.
type Scheduler struct {
	mu sync.RWMutex

	channels repository.ChannelRepository
	service  *service.ChannelService

	logger *slog.Logger

	// cron parser accepting 6-field expressions with a seconds column
	parser cron.Parser

	cronExpr string
	enabled  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	syncInterval time.Duration

	// lastRun dedupes rescans per channel within one cron window.
	lastRun map[models.ULID]time.Time
	dedupe  time.Duration
}

// NewScheduler creates a scheduler from the daemon configuration.
func NewScheduler(cfg config.SchedulerConfig, channels repository.ChannelRepository, svc *service.ChannelService) *Scheduler {
	return &Scheduler{
		channels:     channels,
		service:      svc,
		logger:       slog.Default(),
		parser:       cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		cronExpr:     cfg.RescanCron,
		enabled:      cfg.RescanEnabled,
		syncInterval: time.Minute,
		lastRun:      make(map[models.ULID]time.Time),
		dedupe:       5 * time.Minute,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Start begins the background sync loop. It is a no-op when auto-rescan is
// disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		s.logger.Info("auto-rescan disabled")
		return nil
	}
	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	if _, err := s.parser.Parse(s.cronExpr); err != nil {
		return fmt.Errorf("invalid rescan cron expression %q: %w", s.cronExpr, err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("scheduler started",
		slog.String("rescan_cron", s.cronExpr),
		slog.Duration("sync_interval", s.syncInterval))
	return nil
}

// Stop stops the scheduler and waits for the sync loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	started := s.ctx != nil
	s.mu.Unlock()

	if !started {
		return
	}
	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// syncLoop evaluates the schedule once per sync interval.
func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.isDue() {
				s.rescanDerived(s.ctx)
			}
		}
	}
}

// isDue checks whether the cron schedule fires within the current sync
// window.
func (s *Scheduler) isDue() bool {
	schedule, err := s.parser.Parse(s.cronExpr)
	if err != nil {
		s.logger.Warn("invalid cron expression", slog.String("cron", s.cronExpr), slog.Any("error", err))
		return false
	}

	now := time.Now()
	next := schedule.Next(now.Add(-s.syncInterval))
	return !next.After(now)
}

// rescanDerived launches a full rescan for every derived channel not
// rescanned within the dedupe window.
func (s *Scheduler) rescanDerived(ctx context.Context) {
	channels, err := s.channels.GetAll(ctx)
	if err != nil {
		s.logger.Error("failed to load channels for scheduled rescan", slog.Any("error", err))
		return
	}

	now := time.Now()
	for _, ch := range channels {
		if !ch.SourceType.Derived() {
			continue
		}

		s.mu.Lock()
		last, seen := s.lastRun[ch.ID]
		if seen && now.Sub(last) < s.dedupe {
			s.mu.Unlock()
			continue
		}
		s.lastRun[ch.ID] = now
		s.mu.Unlock()

		task, err := s.service.Rescan(ctx, ch.ID, nil)
		if err != nil {
			s.logger.Error("failed to launch scheduled rescan",
				slog.String("channel_id", ch.ID.String()),
				slog.String("name", ch.Name),
				slog.Any("error", err))
			continue
		}
		s.logger.Info("scheduled rescan launched",
			slog.String("channel_id", ch.ID.String()),
			slog.String("name", ch.Name),
			slog.String("task_id", task.ID.String()))
	}
}
