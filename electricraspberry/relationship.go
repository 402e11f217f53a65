package electricraspberry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// UserRelationship is the bot's accumulated relationship with a user.
//
// Fields:
//   - UserID: Discord user ID
//   - Strength: Relationship strength, in [0, 1]
//   - InteractionCount: Number of recorded interactions
//   - LastInteraction: Unix milliseconds of the last recorded interaction
type UserRelationship struct {
	UserID           string  `gorm:"primaryKey" json:"user_id"`
	Strength         float64 `json:"strength"`
	InteractionCount int     `json:"interaction_count"`
	LastInteraction  int64   `json:"last_interaction"`
	ModelUnixTime
}

func (r UserRelationship) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", r.UserID),
		slog.Float64("strength", r.Strength),
		slog.Int("interaction_count", r.InteractionCount),
	)
}

// ConversationMemory is a remembered topic from a past conversation.
type ConversationMemory struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ChannelID string `gorm:"index" json:"channel_id"`
	UserID    string `gorm:"index" json:"user_id"`
	Topic     string `gorm:"index" json:"topic"`
	Summary   string `json:"summary"`
	ModelUnixTime
}

// KnowledgeStore persists relationships and conversation memories.
// It implements KnowledgeService and KnowledgeGraph.
type KnowledgeStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewKnowledgeStore(db *gorm.DB, logger *slog.Logger) *KnowledgeStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeStore{
		db:     db,
		logger: logger.With(loggerNameKey, "knowledge_store"),
	}
}

// GetUserRelationship returns the user's relationship, or nil if the
// user has never interacted with the bot.
func (k *KnowledgeStore) GetUserRelationship(ctx context.Context, userID string) (*UserRelationship, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var rel UserRelationship
	err := k.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting relationship for %s: %w", userID, err)
	}
	return &rel, nil
}

// RecordInteraction adjusts the user's relationship strength by delta
// (bounded to [0, 1]) and counts the interaction.
func (k *KnowledgeStore) RecordInteraction(
	ctx context.Context,
	userID string,
	delta float64,
) (*UserRelationship, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var rel UserRelationship
	err := k.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			err := tx.Where("user_id = ?", userID).Take(&rel).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				rel = UserRelationship{UserID: userID}
			} else if err != nil {
				return err
			}
			rel.Strength = clamp(rel.Strength+delta, 0, 1)
			rel.InteractionCount++
			rel.LastInteraction = time.Now().UnixMilli()
			return tx.Save(&rel).Error
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error recording interaction for %s: %w", userID, err)
	}
	contextLoggerOr(ctx, k.logger).DebugContext(ctx, "recorded interaction", "relationship", rel)
	return &rel, nil
}

// RememberConversation stores a memory of a conversation topic.
func (k *KnowledgeStore) RememberConversation(
	ctx context.Context,
	channelID string,
	userID string,
	topic string,
	summary string,
) error {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	memory := &ConversationMemory{
		ChannelID: channelID,
		UserID:    userID,
		Topic:     truncate(topic, 100),
		Summary:   truncate(summary, 1000),
	}
	if err := k.db.WithContext(ctx).Create(memory).Error; err != nil {
		return fmt.Errorf("error saving conversation memory: %w", err)
	}
	return nil
}

// TopicsForParticipants returns the most recently discussed topics for
// any of the given users.
func (k *KnowledgeStore) TopicsForParticipants(
	ctx context.Context,
	userIDs []string,
	limit int,
) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var topics []string
	err := k.db.WithContext(ctx).
		Model(&ConversationMemory{}).
		Where("user_id IN ? AND topic <> ''", userIDs).
		Group("topic").
		Order("MAX(created_at) DESC").
		Limit(limit).
		Pluck("topic", &topics).Error
	if err != nil {
		return nil, fmt.Errorf("error getting topics: %w", err)
	}
	return topics, nil
}

// MemoriesForChannel returns the channel's most recent memories, newest
// first.
func (k *KnowledgeStore) MemoriesForChannel(
	ctx context.Context,
	channelID string,
	limit int,
) ([]ConversationMemory, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var memories []ConversationMemory
	err := k.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&memories).Error
	if err != nil {
		return nil, fmt.Errorf("error getting memories for channel %s: %w", channelID, err)
	}
	return memories, nil
}
