package models

// Catalog entities mirror the library manager's media catalog. The stream
// engine only reads them; scanning and download management live elsewhere.

// Genre is a catalog genre. Genres group artists, not individual tracks.
type Genre struct {
	BaseModel

	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`

	Artists []Artist `gorm:"many2many:artist_genres" json:"artists,omitempty"`
}

// TableName returns the table name for Genre.
func (Genre) TableName() string {
	return "genres"
}

// Artist is a catalog artist.
type Artist struct {
	BaseModel

	Name string `gorm:"not null;size:512;index" json:"name"`

	Genres []Genre `gorm:"many2many:artist_genres" json:"genres,omitempty"`
	Albums []Album `gorm:"foreignKey:ArtistID" json:"albums,omitempty"`
}

// TableName returns the table name for Artist.
func (Artist) TableName() string {
	return "artists"
}

// Album is a catalog album.
type Album struct {
	BaseModel

	ArtistID ULID   `gorm:"type:varchar(26);not null;index" json:"artist_id"`
	Title    string `gorm:"not null;size:512" json:"title"`
	Year     int    `gorm:"index" json:"year,omitempty"`

	Artist *Artist `gorm:"foreignKey:ArtistID" json:"artist,omitempty"`
	Tracks []Track `gorm:"foreignKey:AlbumID" json:"tracks,omitempty"`
}

// TableName returns the table name for Album.
func (Album) TableName() string {
	return "albums"
}

// Track is a catalog track. Downloaded tracks have a local media file; only
// those are playable by the stream engine.
type Track struct {
	BaseModel

	AlbumID  ULID `gorm:"type:varchar(26);not null;index" json:"album_id"`
	ArtistID ULID `gorm:"type:varchar(26);not null;index" json:"artist_id"`

	Title       string  `gorm:"not null;size:512" json:"title"`
	TrackNumber int     `json:"track_number,omitempty"`
	Duration    float64 `json:"duration,omitempty"` // seconds

	// FilePath is set once the track has been downloaded.
	FilePath   string `gorm:"size:4096" json:"file_path,omitempty"`
	Downloaded bool   `gorm:"default:false;index" json:"downloaded"`

	Album  *Album  `gorm:"foreignKey:AlbumID" json:"album,omitempty"`
	Artist *Artist `gorm:"foreignKey:ArtistID" json:"artist,omitempty"`
}

// TableName returns the table name for Track.
func (Track) TableName() string {
	return "tracks"
}

// Playable reports whether the track can back a channel item.
func (t *Track) Playable() bool {
	return t.Downloaded && t.FilePath != ""
}
