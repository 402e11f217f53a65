package electricraspberry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

// catchupSource supplies events queued while the bot was asleep.
type catchupSource interface {
	Pending(ctx context.Context, limit int) ([]CatchupItem, error)
	MarkProcessed(ctx context.Context, ids ...string) error
}

// ObserverServices are the components an Observer coordinates.
// CatchupSource and Idle are optional.
type ObserverServices struct {
	Buffers       *ChannelBufferManager
	Prioritizer   *EventPrioritizer
	RateLimiter   *RateLimiter
	Concurrency   *ConcurrencyManager
	Regulator     *SelfRegulator
	Stamina       StaminaService
	Processor     ConversationProcessor
	Catchup       CatchupQueue
	CatchupSource catchupSource
	Idle          *IdleRunner
}

// Observer is the entry point for inbound message events. It buffers and
// prioritizes events, applies rate limits, and hands events to the
// ConversationProcessor one at a time per channel.
type Observer struct {
	config      *ObserverConfig
	buffers     *ChannelBufferManager
	prioritizer *EventPrioritizer
	rateLimiter *RateLimiter
	concurrency *ConcurrencyManager
	regulator   *SelfRegulator
	stamina     StaminaService
	processor   ConversationProcessor
	catchup     CatchupQueue
	catchupSrc  catchupSource
	idle        *IdleRunner
	logger      *slog.Logger
	now         func() time.Time

	botID atomic.Value // string

	// number of events currently inside the conversation processor
	inFlight atomic.Int64
}

func NewObserver(config *ObserverConfig, services ObserverServices, logger *slog.Logger) *Observer {
	if config == nil {
		config = DefaultConfig().Observer
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Observer{
		config:      config,
		buffers:     services.Buffers,
		prioritizer: services.Prioritizer,
		rateLimiter: services.RateLimiter,
		concurrency: services.Concurrency,
		regulator:   services.Regulator,
		stamina:     services.Stamina,
		processor:   services.Processor,
		catchup:     services.Catchup,
		catchupSrc:  services.CatchupSource,
		idle:        services.Idle,
		logger:      logger.With(loggerNameKey, "observer"),
		now:         time.Now,
	}
	o.botID.Store("")
	return o
}

// SetBotID sets the bot's own user ID, once it's known.
func (o *Observer) SetBotID(id string) {
	o.botID.Store(id)
}

func (o *Observer) BotID() string {
	return o.botID.Load().(string)
}

// InFlight returns the number of events currently being processed.
func (o *Observer) InFlight() int64 {
	return o.inFlight.Load()
}

func (o *Observer) sleeping() bool {
	return o.stamina != nil && o.stamina.IsSleeping()
}

// ProcessMessageEvent handles a newly received event.
//
// While the bot is asleep, events that neither mention the bot nor are
// direct messages go to the catch-up queue. Otherwise the event is
// buffered and, unless it's rate limited, processed right away under
// the channel's lock. Rate limited events stay buffered for the next
// batch sweep. Critical events are never rate limited.
func (o *Observer) ProcessMessageEvent(ctx context.Context, e *MessageEvent, channelID string) error {
	log := contextLoggerOr(ctx, o.logger).With("channel_id", channelID, "message_event", e)
	ctx = WithLogger(ctx, log)

	if o.regulator != nil {
		o.regulator.RecordChannelMessage(channelID, e.IsFromBot, e.Timestamp)
	}

	if o.sleeping() && !e.MentionsBot && !e.IsDirectMessage {
		if o.catchup == nil {
			log.DebugContext(ctx, "sleeping, no catch-up queue, dropping event")
			return nil
		}
		if err := o.catchup.AddToCatchupQueue(ctx, e); err != nil {
			return fmt.Errorf("error deferring event to catch-up queue: %w", err)
		}
		log.DebugContext(ctx, "sleeping, deferred event to catch-up queue")
		return nil
	}

	o.buffers.AddEvent(channelID, e)
	pe := o.prioritizer.PrioritizeEvent(ctx, e, channelID, o.BotID())

	if pe.Priority < PriorityCritical &&
		!o.rateLimiter.CanPerformOperation(OperationProcessMessage, channelID) {
		log.DebugContext(
			ctx,
			"rate limited, leaving event buffered",
			"priority", pe.Priority,
			"wait", o.rateLimiter.GetTimeToWait(OperationProcessMessage, channelID),
		)
		return nil
	}

	return o.process(ctx, pe, OperationProcessMessage)
}

// process claims the event and runs it through the conversation
// processor, holding the channel lock. Events already claimed are
// skipped. The operation's rate budget is re-checked and charged only
// once the lock is held and the event claimed, so a lock timeout
// leaves the budget untouched.
func (o *Observer) process(ctx context.Context, pe PrioritizedEvent, operation string) error {
	return o.concurrency.ExecuteWithResourceLock(
		ctx,
		ChannelLockKey(pe.ChannelID),
		func(ctx context.Context) error {
			if pe.Event.IsProcessed() {
				return nil
			}
			if pe.Priority < PriorityCritical &&
				!o.rateLimiter.CanPerformOperation(operation, pe.ChannelID) {
				contextLoggerOr(ctx, o.logger).DebugContext(
					ctx,
					"rate limited after acquiring lock, leaving event buffered",
					"operation", operation,
				)
				return nil
			}
			if !pe.Event.MarkProcessed() {
				return nil
			}
			o.rateLimiter.RecordOperation(operation, pe.ChannelID)
			o.inFlight.Add(1)
			defer o.inFlight.Add(-1)

			if err := o.processor.ProcessMessage(ctx, pe.Event, pe.ChannelID, pe.IsImportant()); err != nil {
				return fmt.Errorf("error processing message %s: %w", pe.Event.ID, err)
			}
			return nil
		},
	)
}

// ProcessPrioritizedEvents processes up to one batch of unprocessed
// buffered events across all channels, most urgent first.
//
// A failing event doesn't stop the batch. Processing errors are joined
// into the returned error, lock timeouts are logged and the event is
// left for a later sweep. Cancellation stops the batch immediately.
func (o *Observer) ProcessPrioritizedEvents(ctx context.Context) error {
	log := contextLoggerOr(ctx, o.logger)
	sleeping := o.sleeping()

	var batch []PrioritizedEvent
	for _, pe := range o.prioritizer.PrioritizePendingEvents(ctx, o.BotID()) {
		if pe.Event.IsProcessed() {
			continue
		}
		if sleeping && pe.Priority < PriorityCritical {
			continue
		}
		batch = append(batch, pe)
		if len(batch) >= o.config.BatchSize {
			break
		}
	}
	if len(batch) == 0 {
		return nil
	}
	log.DebugContext(ctx, "processing batch", "size", len(batch))

	var errs []error
	for i, pe := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		if pe.Priority < PriorityCritical &&
			!o.rateLimiter.CanPerformOperation(OperationProcessBatchedMessage, pe.ChannelID) {
			log.DebugContext(ctx, "rate limited batched event", "prioritized_event", pe)
			continue
		}

		err := o.process(WithLogger(ctx, log.With("prioritized_event", pe)), pe, OperationProcessBatchedMessage)
		switch {
		case err == nil:
		case errors.Is(err, ErrLockTimeout):
			log.WarnContext(ctx, "timed out waiting for channel lock", "prioritized_event", pe, tint.Err(err))
		case ctx.Err() != nil:
			return err
		default:
			log.ErrorContext(ctx, "error processing batched event", "prioritized_event", pe, tint.Err(err))
			errs = append(errs, err)
		}

		if o.config.InterEventDelay > 0 && i < len(batch)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.config.InterEventDelay):
			}
		}
	}
	return errors.Join(errs...)
}

// PerformMaintenance reclaims stale locks, evicts inactive buffers and
// stale channel activity, rolls up channel activity, re-buffers catch-up
// items if the bot is awake, and runs idle behaviors.
func (o *Observer) PerformMaintenance(ctx context.Context) error {
	log := contextLoggerOr(ctx, o.logger)

	locksRemoved := o.concurrency.CleanupStaleResources()
	windowsRemoved := o.rateLimiter.CleanupExpiredWindows()

	threshold := o.now().Add(-o.config.InactiveBufferTimeout)
	buffersRemoved := 0
	for _, b := range o.buffers.GetInactiveBuffers(threshold) {
		if o.buffers.removeIfInactive(b, threshold) {
			buffersRemoved++
		}
	}

	channelsRemoved := 0
	if o.regulator != nil {
		o.regulator.RollupActivity()
		channelsRemoved = o.regulator.EvictStaleChannels()
	}

	var errs []error
	requeued, err := o.ProcessCatchupQueue(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		errs = append(errs, err)
	}

	if o.idle != nil {
		if err = o.idle.Run(ctx, o.BotID()); err != nil {
			if ctx.Err() != nil {
				return err
			}
			errs = append(errs, err)
		}
	}

	log.DebugContext(
		ctx,
		"maintenance complete",
		"locks_removed", locksRemoved,
		"rate_windows_removed", windowsRemoved,
		"buffers_removed", buffersRemoved,
		"channels_removed", channelsRemoved,
		"catchup_requeued", requeued,
		"tracked_locks", o.concurrency.TrackedResources(),
		"buffers", o.buffers.Len(),
	)
	return errors.Join(errs...)
}

// ProcessCatchupQueue moves one batch of catch-up items back into the
// channel buffers, once the bot is awake. It returns the number of
// items re-buffered.
func (o *Observer) ProcessCatchupQueue(ctx context.Context) (int, error) {
	if o.catchupSrc == nil || o.sleeping() {
		return 0, nil
	}
	items, err := o.catchupSrc.Pending(ctx, o.config.CatchupBatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		e := item.MessageEvent()
		o.buffers.AddEvent(e.ChannelID, e)
		ids = append(ids, item.ID)
	}
	if err = o.catchupSrc.MarkProcessed(ctx, ids...); err != nil {
		return len(items), err
	}
	contextLoggerOr(ctx, o.logger).InfoContext(ctx, "re-buffered catch-up items", "count", len(items))
	return len(items), nil
}
