package catalog

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/castarr/castarr/internal/models"
)

// gormCatalog implements Catalog against the shared library database.
type gormCatalog struct {
	db *gorm.DB
}

// NewStore creates a Catalog backed by GORM.
func NewStore(db *gorm.DB) Catalog {
	return &gormCatalog{db: db}
}

// trackRow is the joined projection used by catalog queries.
type trackRow struct {
	ID          models.ULID
	ArtistID    models.ULID
	Title       string
	TrackNumber int
	Duration    float64
	FilePath    string
	Downloaded  bool
	AlbumTitle  string
	AlbumYear   int
	ArtistName  string
}

func (r trackRow) toInfo() TrackInfo {
	return TrackInfo{
		TrackID:     r.ID,
		ArtistID:    r.ArtistID,
		Title:       r.Title,
		AlbumTitle:  r.AlbumTitle,
		ArtistName:  r.ArtistName,
		Year:        r.AlbumYear,
		TrackNumber: r.TrackNumber,
		Duration:    r.Duration,
		FilePath:    r.FilePath,
		Downloaded:  r.Downloaded,
	}
}

func (c *gormCatalog) trackQuery(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx).
		Table("tracks").
		Select("tracks.id, tracks.artist_id, tracks.title, tracks.track_number, " +
			"tracks.duration, tracks.file_path, tracks.downloaded, " +
			"albums.title AS album_title, albums.year AS album_year, " +
			"artists.name AS artist_name").
		Joins("JOIN albums ON albums.id = tracks.album_id").
		Joins("JOIN artists ON artists.id = tracks.artist_id").
		Where("tracks.deleted_at IS NULL")
}

// TracksByIDs returns the tracks with the given IDs, keyed by ID.
func (c *gormCatalog) TracksByIDs(ctx context.Context, ids []models.ULID) (map[models.ULID]TrackInfo, error) {
	result := make(map[models.ULID]TrackInfo, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var rows []trackRow
	err := c.trackQuery(ctx).
		Where("tracks.id IN ?", models.ULIDList(ids).Strings()).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("getting tracks by IDs: %w", err)
	}

	for _, r := range rows {
		result[r.ID] = r.toInfo()
	}
	return result, nil
}

// TracksByArtist returns all downloaded tracks of one artist in catalog order.
func (c *gormCatalog) TracksByArtist(ctx context.Context, artistID models.ULID) ([]TrackInfo, error) {
	var rows []trackRow
	err := c.trackQuery(ctx).
		Where("tracks.artist_id = ? AND tracks.downloaded = ?", artistID, true).
		Order("albums.year ASC, albums.title ASC, tracks.track_number ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("getting tracks by artist: %w", err)
	}

	infos := make([]TrackInfo, len(rows))
	for i, r := range rows {
		infos[i] = r.toInfo()
	}
	return infos, nil
}

// ArtistsByGenre returns the member artist IDs of a genre, ordered by name.
func (c *gormCatalog) ArtistsByGenre(ctx context.Context, genreID models.ULID) ([]models.ULID, error) {
	var ids []models.ULID
	err := c.db.WithContext(ctx).
		Table("artists").
		Joins("JOIN artist_genres ON artist_genres.artist_id = artists.id").
		Where("artist_genres.genre_id = ? AND artists.deleted_at IS NULL", genreID).
		Order("artists.name ASC").
		Pluck("artists.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("getting artists by genre: %w", err)
	}
	return ids, nil
}

// queryFolder lowercases search input with full Unicode case folding so that
// queries match regardless of the case conventions in tag metadata.
var queryFolder = cases.Fold()

// SearchTracks returns downloaded tracks matching the query.
func (c *gormCatalog) SearchTracks(ctx context.Context, query string, limit int) ([]TrackInfo, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	pattern := "%" + queryFolder.String(query) + "%"

	var rows []trackRow
	err := c.trackQuery(ctx).
		Where("tracks.downloaded = ?", true).
		Where("LOWER(tracks.title) LIKE ? OR LOWER(albums.title) LIKE ? OR LOWER(artists.name) LIKE ?",
			pattern, pattern, pattern).
		Order("artists.name ASC, albums.year ASC, tracks.track_number ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("searching tracks: %w", err)
	}

	infos := make([]TrackInfo, len(rows))
	for i, r := range rows {
		infos[i] = r.toInfo()
	}
	return infos, nil
}
