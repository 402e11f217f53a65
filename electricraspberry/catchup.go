package electricraspberry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CatchupItem is an event received while the bot was asleep, persisted
// until the bot wakes up and re-buffers it.
type CatchupItem struct {
	ID               string `gorm:"primaryKey" json:"id"`
	MessageID        string `json:"message_id"`
	ChannelID        string `gorm:"index" json:"channel_id"`
	GuildID          string `json:"guild_id,omitempty"`
	AuthorID         string `json:"author_id"`
	Content          string `json:"content"`
	MessageTimestamp int64  `gorm:"index" json:"message_timestamp"`
	IsDirectMessage  bool   `json:"is_direct_message"`
	MentionsBot      bool   `json:"mentions_bot"`
	Processed        bool   `gorm:"index" json:"processed"`
	ModelUnixTime
}

// MessageEvent rebuilds the original event. Mentions and attachments
// other than the bot mention aren't retained.
func (c CatchupItem) MessageEvent() *MessageEvent {
	return &MessageEvent{
		ID:              c.MessageID,
		AuthorID:        c.AuthorID,
		ChannelID:       c.ChannelID,
		GuildID:         c.GuildID,
		Content:         c.Content,
		Timestamp:       time.UnixMilli(c.MessageTimestamp),
		IsDirectMessage: c.IsDirectMessage,
		MentionsBot:     c.MentionsBot,
	}
}

// CatchupStore is a gorm-backed CatchupQueue.
type CatchupStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewCatchupStore(db *gorm.DB, logger *slog.Logger) *CatchupStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatchupStore{
		db:     db,
		logger: logger.With(loggerNameKey, "catchup_store"),
	}
}

func (c *CatchupStore) AddToCatchupQueue(ctx context.Context, e *MessageEvent) error {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	item := &CatchupItem{
		ID:               uuid.NewString(),
		MessageID:        e.ID,
		ChannelID:        e.ChannelID,
		GuildID:          e.GuildID,
		AuthorID:         e.AuthorID,
		Content:          e.Content,
		MessageTimestamp: e.Timestamp.UnixMilli(),
		IsDirectMessage:  e.IsDirectMessage,
		MentionsBot:      e.MentionsBot,
	}
	if err := c.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("error adding to catch-up queue: %w", err)
	}
	contextLoggerOr(ctx, c.logger).DebugContext(
		ctx,
		"queued for catch-up",
		"catchup_id", item.ID,
		"message_event", e,
	)
	return nil
}

// Pending returns up to limit unprocessed items, oldest message first.
func (c *CatchupStore) Pending(ctx context.Context, limit int) ([]CatchupItem, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var items []CatchupItem
	err := c.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("message_timestamp ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("error getting pending catch-up items: %w", err)
	}
	return items, nil
}

func (c *CatchupStore) MarkProcessed(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := dbContext(ctx)
	defer cancel()

	err := c.db.WithContext(ctx).
		Model(&CatchupItem{}).
		Where("id IN ?", ids).
		Update("processed", true).Error
	if err != nil {
		return fmt.Errorf("error marking catch-up items processed: %w", err)
	}
	return nil
}

// Purge permanently deletes processed items created before the given time.
func (c *CatchupStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	rv := c.db.WithContext(ctx).
		Unscoped().
		Where("processed = ? AND created_at < ?", true, before.UnixMilli()).
		Delete(&CatchupItem{})
	if rv.Error != nil {
		return 0, fmt.Errorf("error purging catch-up items: %w", rv.Error)
	}
	return rv.RowsAffected, nil
}

// Count returns the number of unprocessed items.
func (c *CatchupStore) Count(ctx context.Context) (int64, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var n int64
	err := c.db.WithContext(ctx).Model(&CatchupItem{}).Where("processed = ?", false).Count(&n).Error
	return n, err
}
