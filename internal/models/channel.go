package models

import (
	"crypto/rand"
	"encoding/hex"

	"gorm.io/gorm"
)

// ChannelStatus represents the lifecycle state of a channel.
type ChannelStatus string

const (
	// ChannelStatusStopped indicates the channel has no running pipeline.
	ChannelStatusStopped ChannelStatus = "stopped"
	// ChannelStatusActive indicates the channel's pipeline is producing segments.
	ChannelStatusActive ChannelStatus = "active"
)

// EncodingMode selects how the pipeline treats the source media.
type EncodingMode string

const (
	// EncodingOriginal passes the source through without re-encoding.
	EncodingOriginal EncodingMode = "original"
	// EncodingCopy remuxes the source streams into segments without re-encoding.
	EncodingCopy EncodingMode = "copy"
	// EncodingTranscode re-encodes video and audio for consistent output.
	EncodingTranscode EncodingMode = "transcode"
	// EncodingWeb re-encodes to the most broadly compatible browser profile.
	EncodingWeb EncodingMode = "web"
)

// Valid reports whether the encoding mode is a known value.
func (e EncodingMode) Valid() bool {
	switch e {
	case EncodingOriginal, EncodingCopy, EncodingTranscode, EncodingWeb:
		return true
	}
	return false
}

// SourceType describes how a channel's item list is derived from the catalog.
type SourceType string

const (
	// SourceTypeTracks is a manually curated list of track IDs.
	SourceTypeTracks SourceType = "tracks"
	// SourceTypeArtists derives items from all downloaded tracks of the given artists.
	SourceTypeArtists SourceType = "artists"
	// SourceTypeGenres expands genres to their member artists, then behaves as artists.
	SourceTypeGenres SourceType = "genres"
)

// Valid reports whether the source type is a known value.
func (s SourceType) Valid() bool {
	switch s {
	case SourceTypeTracks, SourceTypeArtists, SourceTypeGenres:
		return true
	}
	return false
}

// Derived reports whether the item list is recomputed from the catalog on rescan.
func (s SourceType) Derived() bool {
	return s == SourceTypeArtists || s == SourceTypeGenres
}

// Channel represents a continuous broadcast stream built from catalog media.
type Channel struct {
	BaseModel

	// Name is the display name of the channel.
	Name string `gorm:"not null;size:255" json:"name"`

	// Icon is an optional icon URL or path for M3U exports and UIs.
	Icon string `gorm:"size:2048" json:"icon,omitempty"`

	// Status is the current lifecycle state. Persisted so a restart of the
	// daemon can resume channels that were active.
	Status ChannelStatus `gorm:"not null;default:'stopped';size:20;index" json:"status"`

	// Encoding selects the pipeline treatment of source media.
	// Changes take effect on the next reboot.
	Encoding EncodingMode `gorm:"not null;default:'transcode';size:20" json:"encoding"`

	// Shuffle randomizes runtime traversal order. The stored item order is
	// never affected.
	Shuffle bool `gorm:"default:false" json:"shuffle"`

	// SourceType describes how Items were derived.
	SourceType SourceType `gorm:"not null;size:20" json:"source_type"`

	// SourceIDs holds the artist or genre IDs for derived channels.
	// Empty for manual track channels.
	SourceIDs ULIDList `gorm:"type:text" json:"source_ids,omitempty"`

	// Token is the opaque per-channel secret required on every playlist and
	// segment request. Generated once at creation.
	Token string `gorm:"not null;size:64;uniqueIndex" json:"-"`

	// LastError holds the most recent fatal pipeline error, cleared on a
	// successful start.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// StartedAt is when the current pipeline was last (re)started.
	StartedAt *Time `json:"started_at,omitempty"`

	// Items is the resolved, ordered playlist.
	Items []ChannelItem `gorm:"foreignKey:ChannelID" json:"items,omitempty"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// IsActive returns true if the channel is currently broadcasting.
func (c *Channel) IsActive() bool {
	return c.Status == ChannelStatusActive
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if !c.SourceType.Valid() {
		return ErrInvalidSourceType
	}
	if !c.Encoding.Valid() {
		return ErrInvalidEncoding
	}
	if c.SourceType.Derived() && len(c.SourceIDs) == 0 {
		return ErrSourceIDsRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel, generates its ULID
// and issues the stream token.
func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if c.Token == "" {
		c.Token = NewStreamToken()
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (c *Channel) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}

// NewStreamToken generates an opaque stream access token.
func NewStreamToken() string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}
