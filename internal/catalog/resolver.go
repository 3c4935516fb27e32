package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/castarr/castarr/internal/ffmpeg"
	"github.com/castarr/castarr/internal/models"
)

// Snapshotter captures the media-attribute snapshot of a local file.
// Implemented by ffmpeg.Prober; faked in tests.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// SourceSpec is the catalog-facing description of a channel's content.
type SourceSpec struct {
	Type models.SourceType
	IDs  []models.ULID // track, artist or genre IDs depending on Type
}

// Resolver expands source specifications into ordered channel items.
type Resolver struct {
	catalog Catalog
	snap    Snapshotter
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(catalog Catalog, snap Snapshotter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: catalog, snap: snap, logger: logger}
}

// Resolve expands a source specification into an ordered item list.
// A specification that resolves to zero playable items returns
// models.ErrSourceEmpty.
func (r *Resolver) Resolve(ctx context.Context, spec SourceSpec) ([]models.ChannelItem, error) {
	tracks, err := r.resolveTracks(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, models.ErrSourceEmpty
	}

	items := make([]models.ChannelItem, 0, len(tracks))
	for i, t := range tracks {
		items = append(items, r.buildItem(ctx, i, t))
	}
	return items, nil
}

// Rescan recomputes the item list of a derived channel. When scope is
// non-empty, only items attributable to the scoped artists are replaced and
// the rest of the list is left untouched. Returns the new list plus the
// number of items added and removed.
//
// A full rescan that resolves to zero items keeps the existing list and
// reports zero additions instead of failing the running channel.
func (r *Resolver) Rescan(ctx context.Context, spec SourceSpec, existing []models.ChannelItem, scope []models.ULID) ([]models.ChannelItem, int, int, error) {
	if len(scope) == 0 {
		fresh, err := r.Resolve(ctx, spec)
		if err != nil {
			if errors.Is(err, models.ErrSourceEmpty) {
				r.logger.Warn("rescan resolved zero items, keeping existing list")
				return existing, 0, 0, nil
			}
			return nil, 0, 0, err
		}
		return renumber(fresh), countAdded(existing, fresh), countRemoved(existing, fresh), nil
	}

	scopeSet := make(map[models.ULID]struct{}, len(scope))
	for _, id := range scope {
		scopeSet[id] = struct{}{}
	}

	// Re-resolve only the scoped artists. Genre channels scope by artist
	// too, so this is always an artist-shaped resolution.
	var replacement []models.ChannelItem
	seen := make(map[models.ULID]struct{})
	pos := 0
	for _, artistID := range scope {
		tracks, err := r.catalog.TracksByArtist(ctx, artistID)
		if err != nil {
			return nil, 0, 0, err
		}
		for _, t := range tracks {
			if _, dup := seen[t.TrackID]; dup {
				continue
			}
			seen[t.TrackID] = struct{}{}
			replacement = append(replacement, r.buildItem(ctx, pos, t))
			pos++
		}
	}

	// Splice: non-scoped items keep their relative order; the replacement
	// block lands where the first scoped item used to be.
	var merged []models.ChannelItem
	inserted := false
	removed := 0
	for _, item := range existing {
		if _, scoped := scopeSet[item.ArtistID]; scoped {
			removed++
			if !inserted {
				merged = append(merged, replacement...)
				inserted = true
			}
			continue
		}
		merged = append(merged, item)
	}
	if !inserted {
		merged = append(merged, replacement...)
	}

	return renumber(merged), len(replacement), removed, nil
}

// resolveTracks produces the ordered track list for a spec.
func (r *Resolver) resolveTracks(ctx context.Context, spec SourceSpec) ([]TrackInfo, error) {
	switch spec.Type {
	case models.SourceTypeTracks:
		return r.resolveManual(ctx, spec.IDs)
	case models.SourceTypeArtists:
		return r.resolveArtists(ctx, spec.IDs)
	case models.SourceTypeGenres:
		return r.resolveGenres(ctx, spec.IDs)
	default:
		return nil, models.ErrInvalidSourceType
	}
}

// resolveManual keeps the caller's track order. Unknown track IDs are an
// error; creating a channel around a vanished track is a caller mistake.
func (r *Resolver) resolveManual(ctx context.Context, trackIDs []models.ULID) ([]TrackInfo, error) {
	byID, err := r.catalog.TracksByIDs(ctx, trackIDs)
	if err != nil {
		return nil, err
	}

	tracks := make([]TrackInfo, 0, len(trackIDs))
	for _, id := range trackIDs {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrTrackNotFound, id)
		}
		if !t.Downloaded || t.FilePath == "" {
			r.logger.Debug("skipping track without local file",
				slog.String("track_id", id.String()))
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// resolveArtists concatenates each artist's downloaded tracks in the given
// artist order.
func (r *Resolver) resolveArtists(ctx context.Context, artistIDs []models.ULID) ([]TrackInfo, error) {
	var tracks []TrackInfo
	for _, artistID := range artistIDs {
		t, err := r.catalog.TracksByArtist(ctx, artistID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t...)
	}
	return tracks, nil
}

// resolveGenres expands genres to their member artists first, then behaves
// as artist-derived. Artists in several genres and tracks shared across
// artists appear once.
func (r *Resolver) resolveGenres(ctx context.Context, genreIDs []models.ULID) ([]TrackInfo, error) {
	var artistIDs []models.ULID
	seenArtists := make(map[models.ULID]struct{})
	for _, genreID := range genreIDs {
		members, err := r.catalog.ArtistsByGenre(ctx, genreID)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if _, dup := seenArtists[id]; dup {
				continue
			}
			seenArtists[id] = struct{}{}
			artistIDs = append(artistIDs, id)
		}
	}

	all, err := r.resolveArtists(ctx, artistIDs)
	if err != nil {
		return nil, err
	}

	tracks := make([]TrackInfo, 0, len(all))
	seenTracks := make(map[models.ULID]struct{}, len(all))
	for _, t := range all {
		if _, dup := seenTracks[t.TrackID]; dup {
			continue
		}
		seenTracks[t.TrackID] = struct{}{}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// buildItem denormalizes a track into a channel item and captures its media
// snapshot. A file that cannot be statted or probed yields an unavailable
// item rather than a resolution failure.
func (r *Resolver) buildItem(ctx context.Context, position int, t TrackInfo) models.ChannelItem {
	item := models.ChannelItem{
		Position:   position,
		TrackID:    t.TrackID,
		ArtistID:   t.ArtistID,
		Title:      t.Title,
		AlbumTitle: t.AlbumTitle,
		ArtistName: t.ArtistName,
		FilePath:   t.FilePath,
		Available:  true,
		Duration:   t.Duration,
	}

	info, err := r.snap.Snapshot(ctx, t.FilePath)
	if err != nil {
		r.logger.Warn("media snapshot failed, marking item unavailable",
			slog.String("track_id", t.TrackID.String()),
			slog.String("path", t.FilePath),
			slog.String("error", err.Error()))
		item.Available = false
		return item
	}

	item.SizeBytes = info.SizeBytes
	if info.Duration > 0 {
		item.Duration = info.Duration
	}
	item.AudioCodec = info.AudioCodec
	item.VideoCodec = info.VideoCodec
	item.Width = info.Width
	item.Height = info.Height
	item.BitRate = info.BitRate
	return item
}

// renumber rewrites positions to match slice order.
func renumber(items []models.ChannelItem) []models.ChannelItem {
	for i := range items {
		items[i].Position = i
	}
	return items
}

func countAdded(old, fresh []models.ChannelItem) int {
	have := make(map[models.ULID]struct{}, len(old))
	for _, it := range old {
		have[it.TrackID] = struct{}{}
	}
	added := 0
	for _, it := range fresh {
		if _, ok := have[it.TrackID]; !ok {
			added++
		}
	}
	return added
}

func countRemoved(old, fresh []models.ChannelItem) int {
	have := make(map[models.ULID]struct{}, len(fresh))
	for _, it := range fresh {
		have[it.TrackID] = struct{}{}
	}
	removed := 0
	for _, it := range old {
		if _, ok := have[it.TrackID]; !ok {
			removed++
		}
	}
	return removed
}
