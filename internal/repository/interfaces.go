// Package repository defines data access interfaces for castarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"

	"github.com/castarr/castarr/internal/models"
)

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Create creates a new channel.
	Create(ctx context.Context, channel *models.Channel) error
	// GetByID retrieves a channel by ID, or nil if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetByIDWithItems retrieves a channel with its items preloaded in stored order.
	GetByIDWithItems(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetAll retrieves all channels.
	GetAll(ctx context.Context) ([]*models.Channel, error)
	// GetByStatus retrieves all channels in the given status.
	GetByStatus(ctx context.Context, status models.ChannelStatus) ([]*models.Channel, error)
	// Update updates an existing channel.
	Update(ctx context.Context, channel *models.Channel) error
	// UpdateStatus updates only the status, error and start timestamp fields.
	UpdateStatus(ctx context.Context, id models.ULID, status models.ChannelStatus, lastError string, startedAt *models.Time) error
	// Delete deletes a channel and its items by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// ChannelItemRepository defines operations for channel item persistence.
type ChannelItemRepository interface {
	// GetByChannelID retrieves all items of a channel in stored order.
	GetByChannelID(ctx context.Context, channelID models.ULID) ([]models.ChannelItem, error)
	// ReplaceForChannel atomically replaces the item list of a channel.
	ReplaceForChannel(ctx context.Context, channelID models.ULID, items []models.ChannelItem) error
	// MarkUnavailable flags a single item as unavailable.
	MarkUnavailable(ctx context.Context, itemID models.ULID) error
	// CountByChannelID returns the number of items for a channel.
	CountByChannelID(ctx context.Context, channelID models.ULID) (int64, error)
}

// JobRepository defines operations for background job records.
type JobRepository interface {
	// Create creates a new job record.
	Create(ctx context.Context, job *models.Job) error
	// GetByID retrieves a job by ID, or nil if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	// Update updates an existing job record.
	Update(ctx context.Context, job *models.Job) error
	// GetRecent retrieves the most recent job records, newest first.
	GetRecent(ctx context.Context, limit int) ([]*models.Job, error)
}
