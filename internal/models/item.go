package models

import (
	"gorm.io/gorm"
)

// ChannelItem is one entry of a channel's resolved playlist. It carries a
// media-attribute snapshot taken at resolution or rescan time so that the
// HTTP surface can report aggregates without re-probing files.
type ChannelItem struct {
	BaseModel

	// ChannelID is the foreign key to the owning Channel.
	ChannelID ULID `gorm:"type:varchar(26);not null;index" json:"channel_id"`

	// Position is the stored playback order, starting at 0. Immutable except
	// through explicit edit or rescan.
	Position int `gorm:"not null;index" json:"position"`

	// TrackID is the backing catalog track.
	TrackID ULID `gorm:"type:varchar(26);not null;index" json:"track_id"`

	// ArtistID attributes the item to a catalog artist for scoped rescans.
	ArtistID ULID `gorm:"type:varchar(26);index" json:"artist_id,omitempty"`

	// Title is the denormalized track title.
	Title string `gorm:"not null;size:512" json:"title"`

	// AlbumTitle is the denormalized album title.
	AlbumTitle string `gorm:"size:512" json:"album_title,omitempty"`

	// ArtistName is the denormalized artist name.
	ArtistName string `gorm:"size:512" json:"artist_name,omitempty"`

	// FilePath is the media file backing this item.
	FilePath string `gorm:"not null;size:4096" json:"file_path"`

	// Available is false when the backing file has vanished since the last
	// rescan. Unavailable items stay in the list; playback skips them.
	Available bool `gorm:"default:true" json:"available"`

	// Media-attribute snapshot.
	SizeBytes   int64   `json:"size_bytes,omitempty"`
	Duration    float64 `json:"duration,omitempty"` // seconds
	AudioCodec  string  `gorm:"size:50" json:"audio_codec,omitempty"`
	VideoCodec  string  `gorm:"size:50" json:"video_codec,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	BitRate     int64   `json:"bit_rate,omitempty"` // bits per second
}

// TableName returns the table name for ChannelItem.
func (ChannelItem) TableName() string {
	return "channel_items"
}

// Validate performs basic validation on the item.
func (i *ChannelItem) Validate() error {
	if i.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	if i.TrackID.IsZero() {
		return ErrTrackIDRequired
	}
	if i.FilePath == "" {
		return ErrFilePathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the item and generates its ULID.
func (i *ChannelItem) BeforeCreate(tx *gorm.DB) error {
	if err := i.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return i.Validate()
}
