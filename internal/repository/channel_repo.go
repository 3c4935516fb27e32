package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/castarr/castarr/internal/models"
)

// channelRepo implements ChannelRepository using GORM.
type channelRepo struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepo{db: db}
}

// Create creates a new channel.
func (r *channelRepo) Create(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Create(channel).Error; err != nil {
		return fmt.Errorf("creating channel: %w", err)
	}
	return nil
}

// GetByID retrieves a channel by ID.
func (r *channelRepo) GetByID(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &channel, nil
}

// GetByIDWithItems retrieves a channel with its items preloaded in stored order.
func (r *channelRepo) GetByIDWithItems(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&channel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel with items: %w", err)
	}
	return &channel, nil
}

// GetAll retrieves all channels.
func (r *channelRepo) GetAll(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting all channels: %w", err)
	}
	return channels, nil
}

// GetByStatus retrieves all channels in the given status.
func (r *channelRepo) GetByStatus(ctx context.Context, status models.ChannelStatus) ([]*models.Channel, error) {
	var channels []*models.Channel
	if err := r.db.WithContext(ctx).Where("status = ?", status).Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting channels by status: %w", err)
	}
	return channels, nil
}

// Update updates an existing channel.
func (r *channelRepo) Update(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Omit("Items").Save(channel).Error; err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// UpdateStatus updates only the status, error and start timestamp fields.
func (r *channelRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.ChannelStatus, lastError string, startedAt *models.Time) error {
	updates := map[string]any{
		"status":     status,
		"last_error": lastError,
		"started_at": startedAt,
	}
	result := r.db.WithContext(ctx).Model(&models.Channel{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating channel status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrChannelNotFound
	}
	return nil
}

// Delete deletes a channel and its items by ID.
func (r *channelRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", id).Delete(&models.ChannelItem{}).Error; err != nil {
			return fmt.Errorf("deleting channel items: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Channel{}).Error; err != nil {
			return fmt.Errorf("deleting channel: %w", err)
		}
		return nil
	})
}
