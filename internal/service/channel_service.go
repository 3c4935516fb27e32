package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/castarr/castarr/internal/catalog"
	"github.com/castarr/castarr/internal/engine"
	"github.com/castarr/castarr/internal/models"
	"github.com/castarr/castarr/internal/observability"
	"github.com/castarr/castarr/internal/repository"
	"github.com/castarr/castarr/pkg/m3u"
)

// ErrItemsImmutable is returned when a caller edits the item list of a
// channel whose list is derived from the catalog.
var ErrItemsImmutable = errors.New("item list of a derived channel can only change through rescan")

// ChannelAction is a lifecycle action on a channel.
type ChannelAction string

const (
	// ActionStart starts the channel's pipeline.
	ActionStart ChannelAction = "start"
	// ActionStop stops the channel's pipeline.
	ActionStop ChannelAction = "stop"
	// ActionReboot stops then starts the pipeline, applying pending config.
	ActionReboot ChannelAction = "reboot"
)

// Valid reports whether the action is a known value.
func (a ChannelAction) Valid() bool {
	switch a {
	case ActionStart, ActionStop, ActionReboot:
		return true
	}
	return false
}

// CreateChannelRequest carries the fields for creating a channel.
type CreateChannelRequest struct {
	Name       string
	Icon       string
	Encoding   models.EncodingMode
	Shuffle    bool
	SourceType models.SourceType
	// SourceIDs are track IDs for manual channels, artist IDs for artist
	// channels and genre IDs for genre channels.
	SourceIDs []models.ULID
}

// UpdateChannelRequest carries the mutable channel fields. Nil fields are
// left unchanged. Name, icon and shuffle apply immediately; encoding takes
// effect on the next reboot. Status transitions the pipeline through the
// same path as the actions endpoint.
type UpdateChannelRequest struct {
	Name     *string
	Icon     *string
	Shuffle  *bool
	Encoding *models.EncodingMode
	Status   *models.ChannelStatus
}

// ChannelSummary is a channel enriched with playlist aggregates and live
// engine state for list views.
type ChannelSummary struct {
	Channel       *models.Channel  `json:"channel"`
	ItemCount     int              `json:"item_count"`
	MissingCount  int              `json:"missing_count"`
	TotalBytes    int64            `json:"total_bytes"`
	TotalDuration float64          `json:"total_duration"`
	AudioCodecs   []string         `json:"audio_codecs,omitempty"`
	VideoCodecs   []string         `json:"video_codecs,omitempty"`
	Connections   int              `json:"connections"`
	Clients       []engine.Session `json:"clients,omitempty"`
	BytesServed   int64            `json:"bytes_served"`
	RuntimeState  engine.State     `json:"runtime_state"`
}

// ChannelService coordinates channel persistence, catalog resolution and the
// pipeline supervisor.
type ChannelService struct {
	channels   repository.ChannelRepository
	items      repository.ChannelItemRepository
	jobs       repository.JobRepository
	resolver   *catalog.Resolver
	catalog    catalog.Catalog
	supervisor *engine.Supervisor
	store      *engine.SegmentStore
	sessions   *engine.SessionTracker
	tasks      *TaskRegistry
	logger     *slog.Logger
}

// NewChannelService creates a ChannelService and registers the supervisor
// listeners that persist runtime state transitions.
func NewChannelService(
	channels repository.ChannelRepository,
	items repository.ChannelItemRepository,
	jobs repository.JobRepository,
	resolver *catalog.Resolver,
	cat catalog.Catalog,
	supervisor *engine.Supervisor,
	store *engine.SegmentStore,
	sessions *engine.SessionTracker,
	logger *slog.Logger,
) *ChannelService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ChannelService{
		channels:   channels,
		items:      items,
		jobs:       jobs,
		resolver:   resolver,
		catalog:    cat,
		supervisor: supervisor,
		store:      store,
		sessions:   sessions,
		tasks:      NewTaskRegistry(),
		logger:     observability.WithComponent(logger, "channel-service"),
	}
	supervisor.OnStateChange(s.persistState)
	supervisor.OnItemUnavailable(s.persistUnavailable)
	return s
}

// persistState mirrors supervisor state transitions into the channel row so
// the daemon can resume active channels after a restart.
func (s *ChannelService) persistState(channelID models.ULID, state engine.State, stateErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch state {
	case engine.StateActive:
		now := models.Now()
		err = s.channels.UpdateStatus(ctx, channelID, models.ChannelStatusActive, "", &now)
	case engine.StateStopped:
		msg := ""
		if stateErr != nil {
			msg = stateErr.Error()
		}
		err = s.channels.UpdateStatus(ctx, channelID, models.ChannelStatusStopped, msg, nil)
	default:
		return
	}
	if err != nil {
		s.logger.Error("failed to persist channel state",
			slog.String("channel_id", channelID.String()),
			slog.String("state", string(state)),
			slog.String("error", err.Error()))
	}
}

// persistUnavailable mirrors a runtime skip-unavailable decision into the
// item row.
func (s *ChannelService) persistUnavailable(channelID, itemID models.ULID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.items.MarkUnavailable(ctx, itemID); err != nil {
		s.logger.Error("failed to persist unavailable item",
			slog.String("channel_id", channelID.String()),
			slog.String("item_id", itemID.String()),
			slog.String("error", err.Error()))
	}
}

// Create resolves the source specification and persists the channel with its
// item list. A specification resolving to zero playable items is rejected.
func (s *ChannelService) Create(ctx context.Context, req CreateChannelRequest) (*models.Channel, error) {
	ch := &models.Channel{
		Name:       req.Name,
		Icon:       req.Icon,
		Status:     models.ChannelStatusStopped,
		Encoding:   req.Encoding,
		Shuffle:    req.Shuffle,
		SourceType: req.SourceType,
	}
	if ch.Encoding == "" {
		ch.Encoding = models.EncodingTranscode
	}
	if ch.SourceType.Derived() {
		ch.SourceIDs = models.ULIDList(req.SourceIDs)
	}
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	if len(req.SourceIDs) == 0 {
		return nil, models.ErrSourceIDsRequired
	}

	items, err := s.resolver.Resolve(ctx, catalog.SourceSpec{Type: req.SourceType, IDs: req.SourceIDs})
	if err != nil {
		return nil, err
	}

	if err := s.channels.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := s.items.ReplaceForChannel(ctx, ch.ID, items); err != nil {
		return nil, fmt.Errorf("failed to persist channel items: %w", err)
	}

	s.logger.Info("channel created",
		slog.String("channel_id", ch.ID.String()),
		slog.String("name", ch.Name),
		slog.String("source_type", string(ch.SourceType)),
		slog.Int("items", len(items)))

	return s.channels.GetByIDWithItems(ctx, ch.ID)
}

// Get returns a channel with its items, or models.ErrChannelNotFound.
func (s *ChannelService) Get(ctx context.Context, id models.ULID) (*models.Channel, error) {
	ch, err := s.channels.GetByIDWithItems(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, models.ErrChannelNotFound
	}
	return ch, nil
}

// List returns all channels with playlist aggregates and live engine state.
func (s *ChannelService) List(ctx context.Context) ([]ChannelSummary, error) {
	channels, err := s.channels.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		items, err := s.items.GetByChannelID(ctx, ch.ID)
		if err != nil {
			return nil, err
		}
		ch.Items = items
		summaries = append(summaries, s.summarize(ch, items))
	}
	return summaries, nil
}

// summarize computes the aggregate view of one channel.
func (s *ChannelService) summarize(ch *models.Channel, items []models.ChannelItem) ChannelSummary {
	sum := ChannelSummary{
		Channel:      ch,
		ItemCount:    len(items),
		Connections:  s.sessions.Count(ch.ID),
		Clients:      s.sessions.Active(ch.ID),
		BytesServed:  s.store.ChannelBytesServed(ch.ID),
		RuntimeState: s.supervisor.State(ch.ID),
	}

	audio := make(map[string]struct{})
	video := make(map[string]struct{})
	for _, item := range items {
		if !item.Available {
			sum.MissingCount++
			continue
		}
		sum.TotalBytes += item.SizeBytes
		sum.TotalDuration += item.Duration
		if item.AudioCodec != "" {
			audio[item.AudioCodec] = struct{}{}
		}
		if item.VideoCodec != "" {
			video[item.VideoCodec] = struct{}{}
		}
	}
	sum.AudioCodecs = sortedKeys(audio)
	sum.VideoCodecs = sortedKeys(video)
	return sum
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Update applies a partial update. Shuffle changes reach a running pipeline
// immediately; encoding changes apply on the next reboot. A status change
// starts or stops the pipeline and is a no-op when the runtime state already
// matches.
func (s *ChannelService) Update(ctx context.Context, id models.ULID, req UpdateChannelRequest) (*models.Channel, error) {
	if req.Status != nil && *req.Status != models.ChannelStatusActive && *req.Status != models.ChannelStatusStopped {
		return nil, &models.ErrValidation{Field: "status", Message: "must be active or stopped"}
	}

	ch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		ch.Name = *req.Name
	}
	if req.Icon != nil {
		ch.Icon = *req.Icon
	}
	if req.Shuffle != nil {
		ch.Shuffle = *req.Shuffle
	}
	if req.Encoding != nil {
		if !req.Encoding.Valid() {
			return nil, models.ErrInvalidEncoding
		}
		ch.Encoding = *req.Encoding
	}

	if err := s.channels.Update(ctx, ch); err != nil {
		return nil, err
	}
	if req.Shuffle != nil {
		s.supervisor.SetShuffle(id, *req.Shuffle)
	}

	if req.Status != nil {
		switch *req.Status {
		case models.ChannelStatusActive:
			if !s.supervisor.Running(id) {
				return s.Action(ctx, id, ActionStart)
			}
		case models.ChannelStatusStopped:
			if s.supervisor.Running(id) {
				return s.Action(ctx, id, ActionStop)
			}
		}
	}
	return ch, nil
}

// ReplaceItems replaces the item list of a manual channel with the given
// tracks. The new list takes effect on the next reboot.
func (s *ChannelService) ReplaceItems(ctx context.Context, id models.ULID, trackIDs []models.ULID) (*models.Channel, error) {
	ch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.SourceType.Derived() {
		return nil, ErrItemsImmutable
	}

	items, err := s.resolver.Resolve(ctx, catalog.SourceSpec{Type: models.SourceTypeTracks, IDs: trackIDs})
	if err != nil {
		return nil, err
	}
	if err := s.items.ReplaceForChannel(ctx, id, items); err != nil {
		return nil, fmt.Errorf("failed to replace channel items: %w", err)
	}

	s.logger.Info("channel items replaced",
		slog.String("channel_id", id.String()),
		slog.Int("items", len(items)))

	return s.Get(ctx, id)
}

// Action performs a lifecycle action on a channel.
func (s *ChannelService) Action(ctx context.Context, id models.ULID, action ChannelAction) (*models.Channel, error) {
	ch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionStart:
		err = s.supervisor.Start(ctx, ch, ch.Items)
	case ActionStop:
		err = s.supervisor.Stop(ctx, id)
	case ActionReboot:
		err = s.supervisor.Reboot(ctx, ch, ch.Items)
	default:
		return nil, &models.ErrValidation{Field: "action", Message: "unknown action"}
	}

	if err != nil {
		// Startup failures never reach the state listener, persist them here.
		if action != ActionStop && !errors.Is(err, engine.ErrAlreadyActive) {
			s.persistState(id, engine.StateStopped, err)
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Rescan launches an asynchronous rescan of a derived channel. When
// artistIDs is non-empty only items attributable to those artists are
// recomputed. Returns the task handle for progress polling.
func (s *ChannelService) Rescan(ctx context.Context, id models.ULID, artistIDs []models.ULID) (TaskView, error) {
	ch, err := s.Get(ctx, id)
	if err != nil {
		return TaskView{}, err
	}
	if !ch.SourceType.Derived() {
		return TaskView{}, models.ErrRescanNotApplicable
	}

	job := models.NewRescanJob(ch)
	if err := s.jobs.Create(ctx, job); err != nil {
		return TaskView{}, fmt.Errorf("failed to record rescan job: %w", err)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	t := s.tasks.begin(models.JobTypeRescan, id, cancel)

	go s.runRescan(taskCtx, t, job, ch, artistIDs)
	return t.snapshot(), nil
}

// runRescan executes a rescan task to completion.
func (s *ChannelService) runRescan(ctx context.Context, t *task, job *models.Job, ch *models.Channel, scope []models.ULID) {
	logger := observability.WithChannel(s.logger, ch.ID.String())

	job.MarkRunning()
	s.updateJob(job)

	existing, err := s.items.GetByChannelID(ctx, ch.ID)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	var fresh []models.ChannelItem
	var added, removed int
	if err == nil {
		spec := catalog.SourceSpec{Type: ch.SourceType, IDs: ch.SourceIDs}
		fresh, added, removed, err = s.resolver.Rescan(ctx, spec, existing, scope)
	}
	if err == nil {
		err = s.items.ReplaceForChannel(context.Background(), ch.ID, fresh)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			t.cancelled()
			job.MarkCancelled()
			s.updateJob(job)
			logger.Info("rescan cancelled")
			return
		}
		t.fail(err)
		job.MarkFailed(err)
		s.updateJob(job)
		logger.Error("rescan failed", slog.String("error", err.Error()))
		return
	}

	// Reload to pick up the persisted item IDs before handing the list to a
	// running pipeline.
	persisted, loadErr := s.items.GetByChannelID(context.Background(), ch.ID)
	if loadErr == nil {
		s.supervisor.UpdateItems(ch.ID, persisted)
	}

	t.complete(added, removed)
	job.MarkCompleted(fmt.Sprintf("added=%d removed=%d total=%d", added, removed, len(fresh)))
	s.updateJob(job)
	logger.Info("rescan completed",
		slog.Int("added", added),
		slog.Int("removed", removed),
		slog.Int("total", len(fresh)))
}

// Precache launches an asynchronous segment pre-generation run for a stopped
// channel so a later start serves its first playlist immediately.
func (s *ChannelService) Precache(ctx context.Context, id models.ULID) (TaskView, error) {
	ch, err := s.Get(ctx, id)
	if err != nil {
		return TaskView{}, err
	}
	if s.supervisor.Running(id) {
		return TaskView{}, engine.ErrAlreadyActive
	}

	job := models.NewPrecacheJob(ch)
	if err := s.jobs.Create(ctx, job); err != nil {
		return TaskView{}, fmt.Errorf("failed to record precache job: %w", err)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	t := s.tasks.begin(models.JobTypePrecache, id, cancel)

	go func() {
		logger := observability.WithChannel(s.logger, id.String())
		job.MarkRunning()
		s.updateJob(job)

		if err := s.supervisor.Precache(taskCtx, ch, ch.Items); err != nil {
			if errors.Is(err, context.Canceled) {
				t.cancelled()
				job.MarkCancelled()
			} else {
				t.fail(err)
				job.MarkFailed(err)
			}
			s.updateJob(job)
			logger.Error("precache failed", slog.String("error", err.Error()))
			return
		}

		t.complete(0, 0)
		job.MarkCompleted(fmt.Sprintf("segments=%d", s.store.SegmentCount(id)))
		s.updateJob(job)
		logger.Info("precache completed", slog.Int("segments", s.store.SegmentCount(id)))
	}()

	return t.snapshot(), nil
}

// updateJob persists a job state transition with a fresh context.
func (s *ChannelService) updateJob(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Error("failed to update job record",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}
}

// GetTask returns the snapshot of a background task.
func (s *ChannelService) GetTask(id uuid.UUID) (TaskView, bool) {
	return s.tasks.Get(id)
}

// CancelTask requests cancellation of a running background task.
func (s *ChannelService) CancelTask(id uuid.UUID) bool {
	return s.tasks.Cancel(id)
}

// RecentJobs returns the most recent persisted job records, newest first.
func (s *ChannelService) RecentJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.jobs.GetRecent(ctx, limit)
}

// Delete stops a channel's pipeline, removes its segment directory and
// deletes the persisted channel with its items.
func (s *ChannelService) Delete(ctx context.Context, id models.ULID) error {
	ch, err := s.channels.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ch == nil {
		return models.ErrChannelNotFound
	}

	if err := s.supervisor.Stop(ctx, id); err != nil {
		s.logger.Warn("failed to stop pipeline during delete",
			slog.String("channel_id", id.String()),
			slog.String("error", err.Error()))
	}
	if err := s.store.Purge(id); err != nil {
		s.logger.Warn("failed to purge segment directory",
			slog.String("channel_id", id.String()),
			slog.String("error", err.Error()))
	}
	s.sessions.Evict(id)

	if err := s.channels.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("channel deleted", slog.String("channel_id", id.String()))
	return nil
}

// SearchTracks searches the catalog for downloaded tracks.
func (s *ChannelService) SearchTracks(ctx context.Context, query string, limit int) ([]catalog.TrackInfo, error) {
	return s.catalog.SearchTracks(ctx, query, limit)
}

// ResumeActive restarts the pipelines of channels persisted as active,
// called once at daemon startup. Channels that fail to start are marked
// stopped with the error recorded.
func (s *ChannelService) ResumeActive(ctx context.Context) {
	channels, err := s.channels.GetByStatus(ctx, models.ChannelStatusActive)
	if err != nil {
		s.logger.Error("failed to load active channels", slog.String("error", err.Error()))
		return
	}

	for _, ch := range channels {
		items, err := s.items.GetByChannelID(ctx, ch.ID)
		if err != nil {
			s.logger.Error("failed to load channel items",
				slog.String("channel_id", ch.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if err := s.supervisor.Start(ctx, ch, items); err != nil {
			s.logger.Error("failed to resume channel",
				slog.String("channel_id", ch.ID.String()),
				slog.String("name", ch.Name),
				slog.String("error", err.Error()))
			s.persistState(ch.ID, engine.StateStopped, err)
			continue
		}
		s.logger.Info("channel resumed",
			slog.String("channel_id", ch.ID.String()),
			slog.String("name", ch.Name))
	}
}

// WriteM3U writes the channel lineup as an extended M3U playlist. Stream
// URLs embed each channel's access token.
func (s *ChannelService) WriteM3U(ctx context.Context, w io.Writer, baseURL string) error {
	channels, err := s.channels.GetAll(ctx)
	if err != nil {
		return err
	}

	mw := m3u.NewWriter(w)
	if err := mw.WriteHeader(); err != nil {
		return err
	}
	for _, ch := range channels {
		entry := m3u.Entry{
			TvgID:      ch.ID.String(),
			TvgName:    ch.Name,
			TvgLogo:    ch.Icon,
			GroupTitle: "Castarr",
			Duration:   -1,
			Title:      ch.Name,
			URL:        fmt.Sprintf("%s/streams/%s/hls/playlist.m3u8?token=%s", baseURL, ch.ID.String(), ch.Token),
		}
		if err := mw.WriteEntry(&entry); err != nil {
			return err
		}
	}
	return nil
}
