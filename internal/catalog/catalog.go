// Package catalog reads the media library catalog and resolves channel
// source specifications into ordered playlists.
package catalog

import (
	"context"

	"github.com/castarr/castarr/internal/models"
)

// TrackInfo is a denormalized, playable view of a catalog track.
type TrackInfo struct {
	TrackID     models.ULID `json:"track_id"`
	ArtistID    models.ULID `json:"artist_id"`
	Title       string      `json:"title"`
	AlbumTitle  string      `json:"album_title"`
	ArtistName  string      `json:"artist_name"`
	Year        int         `json:"year,omitempty"`
	TrackNumber int         `json:"track_number,omitempty"`
	Duration    float64     `json:"duration,omitempty"`
	FilePath    string      `json:"file_path"`
	Downloaded  bool        `json:"downloaded"`
}

// Catalog exposes read access to the library catalog. The stream engine
// never writes catalog rows; scanning and downloads are managed elsewhere.
type Catalog interface {
	// TracksByIDs returns the tracks with the given IDs, keyed by ID.
	// IDs without a matching track are absent from the result.
	TracksByIDs(ctx context.Context, ids []models.ULID) (map[models.ULID]TrackInfo, error)

	// TracksByArtist returns all downloaded tracks of one artist in catalog
	// order: album year, then album title, then track number.
	TracksByArtist(ctx context.Context, artistID models.ULID) ([]TrackInfo, error)

	// ArtistsByGenre returns the member artist IDs of a genre, ordered by
	// artist name.
	ArtistsByGenre(ctx context.Context, genreID models.ULID) ([]models.ULID, error)

	// SearchTracks returns downloaded tracks whose title, album or artist
	// matches the query (case-insensitive substring).
	SearchTracks(ctx context.Context, query string, limit int) ([]TrackInfo, error)
}
