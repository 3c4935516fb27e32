package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/castarr/castarr/internal/models"
)

// channelItemRepo implements ChannelItemRepository using GORM.
type channelItemRepo struct {
	db *gorm.DB
}

// NewChannelItemRepository creates a new ChannelItemRepository.
func NewChannelItemRepository(db *gorm.DB) ChannelItemRepository {
	return &channelItemRepo{db: db}
}

// GetByChannelID retrieves all items of a channel in stored order.
func (r *channelItemRepo) GetByChannelID(ctx context.Context, channelID models.ULID) ([]models.ChannelItem, error) {
	var items []models.ChannelItem
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("position ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("getting channel items: %w", err)
	}
	return items, nil
}

// ReplaceForChannel atomically replaces the item list of a channel.
// Positions are renumbered to match slice order.
func (r *channelItemRepo) ReplaceForChannel(ctx context.Context, channelID models.ULID, items []models.ChannelItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", channelID).Unscoped().Delete(&models.ChannelItem{}).Error; err != nil {
			return fmt.Errorf("clearing channel items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].BaseModel = models.BaseModel{}
			items[i].ChannelID = channelID
			items[i].Position = i
		}
		if err := tx.CreateInBatches(items, 500).Error; err != nil {
			return fmt.Errorf("inserting channel items: %w", err)
		}
		return nil
	})
}

// MarkUnavailable flags a single item as unavailable.
func (r *channelItemRepo) MarkUnavailable(ctx context.Context, itemID models.ULID) error {
	err := r.db.WithContext(ctx).
		Model(&models.ChannelItem{}).
		Where("id = ?", itemID).
		Update("available", false).Error
	if err != nil {
		return fmt.Errorf("marking item unavailable: %w", err)
	}
	return nil
}

// CountByChannelID returns the number of items for a channel.
func (r *channelItemRepo) CountByChannelID(ctx context.Context, channelID models.ULID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChannelItem{}).
		Where("channel_id = ?", channelID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting channel items: %w", err)
	}
	return count, nil
}
