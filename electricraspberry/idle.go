package electricraspberry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lmittmann/tint"
)

const (
	idleTopicLimit  = 5
	idleMemoryLimit = 3
)

// IdleRunner performs idle behaviors in channels where the bot isn't
// engaged, using the SelfRegulator to decide when and what.
type IdleRunner struct {
	regulator   *SelfRegulator
	buffers     *ChannelBufferManager
	concurrency *ConcurrencyManager
	rateLimiter *RateLimiter
	stamina     StaminaService
	graph       KnowledgeGraph
	performer   IdleBehaviorPerformer
	logger      *slog.Logger
}

func NewIdleRunner(
	regulator *SelfRegulator,
	buffers *ChannelBufferManager,
	concurrency *ConcurrencyManager,
	rateLimiter *RateLimiter,
	stamina StaminaService,
	graph KnowledgeGraph,
	performer IdleBehaviorPerformer,
	logger *slog.Logger,
) *IdleRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleRunner{
		regulator:   regulator,
		buffers:     buffers,
		concurrency: concurrency,
		rateLimiter: rateLimiter,
		stamina:     stamina,
		graph:       graph,
		performer:   performer,
		logger:      logger.With(loggerNameKey, "idle_runner"),
	}
}

// initiatesConversation reports whether the behavior starts a new
// conversation, and so is subject to the initiation schedule.
func initiatesConversation(b IdleBehaviorType) bool {
	switch b {
	case IdleOpenQuestion, IdleInterestPrompt, IdleRecallConversation:
		return true
	default:
		return false
	}
}

// Run checks every buffered channel, and performs an idle behavior in
// those the SelfRegulator selects. Errors from individual channels are
// logged and joined.
func (r *IdleRunner) Run(ctx context.Context, botID string) error {
	if r.performer == nil {
		return nil
	}
	if r.stamina != nil && r.stamina.IsSleeping() {
		return nil
	}

	var errs []error
	for _, channelID := range r.buffers.ChannelIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.regulator.ShouldPerformIdleBehavior(channelID) {
			continue
		}
		if !r.rateLimiter.CanPerformOperation(OperationIdleBehavior, channelID) {
			continue
		}

		err := r.runChannel(ctx, channelID, botID)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return err
		default:
			r.logger.ErrorContext(ctx, "error performing idle behavior", "channel_id", channelID, tint.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *IdleRunner) runChannel(ctx context.Context, channelID string, botID string) error {
	log := r.logger.With("channel_id", channelID)
	ctx = WithLogger(ctx, log)

	events := r.buffers.PeekEvents(channelID)
	ec := r.regulator.BuildEngagementContext(ctx, channelID, events, botID)
	behavior := r.regulator.GetIdleBehaviorType(ec)

	initiation := initiatesConversation(behavior)
	if initiation && r.regulator.GetTimeUntilNextInitiation(channelID) > 0 {
		// too soon to start a conversation, keep it low-key
		behavior = IdleEmojiReaction
		initiation = false
	}

	hints := IdleBehaviorHints{Engagement: ec}
	if len(events) > 0 {
		hints.LatestMessage = events[len(events)-1]
	}
	if r.graph != nil {
		topics, err := r.graph.TopicsForParticipants(ctx, ec.ParticipantIDs, idleTopicLimit)
		if err != nil {
			log.WarnContext(ctx, "error getting topics", tint.Err(err))
		}
		hints.Topics = topics

		memories, err := r.graph.MemoriesForChannel(ctx, channelID, idleMemoryLimit)
		if err != nil {
			log.WarnContext(ctx, "error getting memories", tint.Err(err))
		}
		hints.Memories = memories
	}

	err := r.concurrency.ExecuteWithResourceLock(
		ctx,
		ChannelLockKey(channelID),
		func(ctx context.Context) error {
			return r.performer.PerformIdleBehavior(ctx, channelID, behavior, hints)
		},
	)
	if err != nil {
		return fmt.Errorf("idle behavior %s: %w", behavior, err)
	}

	r.rateLimiter.RecordOperation(OperationIdleBehavior, channelID)
	r.regulator.RecordIdleBehavior(channelID)
	if initiation {
		r.regulator.RecordInitiation(channelID)
	}
	log.InfoContext(ctx, "performed idle behavior", "behavior", behavior, "engagement", ec)
	return nil
}
