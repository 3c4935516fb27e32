package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation and lookup errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrInvalidSourceType indicates an invalid channel source type.
	ErrInvalidSourceType = errors.New("invalid source type: must be 'tracks', 'artists' or 'genres'")

	// ErrInvalidEncoding indicates an invalid encoding mode.
	ErrInvalidEncoding = errors.New("invalid encoding: must be 'original', 'copy', 'transcode' or 'web'")

	// ErrSourceIDsRequired indicates a derived channel has no source IDs.
	ErrSourceIDsRequired = errors.New("source_ids are required for artist and genre channels")

	// ErrChannelIDRequired indicates a required channel ID field is zero.
	ErrChannelIDRequired = errors.New("channel_id is required")

	// ErrTrackIDRequired indicates a required track ID field is zero.
	ErrTrackIDRequired = errors.New("track_id is required")

	// ErrFilePathRequired indicates a required file path field is empty.
	ErrFilePathRequired = errors.New("file_path is required")

	// ErrJobTypeRequired indicates a required job type field is empty.
	ErrJobTypeRequired = errors.New("job type is required")

	// ErrChannelNotFound indicates a channel was not found.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrTrackNotFound indicates a catalog track was not found.
	ErrTrackNotFound = errors.New("track not found")

	// ErrSourceEmpty indicates a channel source resolved to zero playable items.
	ErrSourceEmpty = errors.New("source resolves to zero playable items")

	// ErrChannelOffline indicates a playback request against a stopped channel.
	ErrChannelOffline = errors.New("channel offline")

	// ErrInvalidToken indicates a playback request with a missing or wrong token.
	ErrInvalidToken = errors.New("invalid stream token")

	// ErrRescanNotApplicable indicates a rescan was requested on a manual channel.
	ErrRescanNotApplicable = errors.New("rescan applies only to artist and genre channels")
)
