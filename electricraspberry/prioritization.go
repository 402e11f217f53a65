package electricraspberry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lmittmann/tint"
)

// EventPriority orders events for processing. Higher is more urgent.
type EventPriority int

const (
	PriorityLow      EventPriority = 0
	PriorityNormal   EventPriority = 100
	PriorityHigh     EventPriority = 200
	PriorityCritical EventPriority = 300
)

func (p EventPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("EventPriority(%d)", int(p))
	}
}

func (p EventPriority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PrioritizedEvent is an event with the priority assigned to it during
// one prioritization pass.
type PrioritizedEvent struct {
	Event         *MessageEvent `json:"event"`
	Priority      EventPriority `json:"priority"`
	ChannelID     string        `json:"channel_id"`
	PrioritizedAt time.Time     `json:"prioritized_at"`
}

func (p PrioritizedEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("priority", p.Priority.String()),
		slog.String("channel_id", p.ChannelID),
		slog.Any("event", p.Event),
	)
}

// IsImportant reports whether the event is High priority or above.
func (p PrioritizedEvent) IsImportant() bool {
	return p.Priority >= PriorityHigh
}

// comparePrioritizedEvents orders by priority descending, then by message
// timestamp ascending.
func comparePrioritizedEvents(a, b PrioritizedEvent) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	return a.Event.Timestamp.Compare(b.Event.Timestamp)
}

func sortPrioritizedEvents(events []PrioritizedEvent) {
	slices.SortStableFunc(events, comparePrioritizedEvents)
}

// EventPrioritizer assigns priorities to buffered events.
type EventPrioritizer struct {
	config    *PrioritizationConfig
	buffers   *ChannelBufferManager
	knowledge KnowledgeService
	logger    *slog.Logger
	now       func() time.Time
}

func NewEventPrioritizer(
	config *PrioritizationConfig,
	buffers *ChannelBufferManager,
	knowledge KnowledgeService,
	logger *slog.Logger,
) *EventPrioritizer {
	if config == nil {
		config = DefaultConfig().Prioritization
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPrioritizer{
		config:    config,
		buffers:   buffers,
		knowledge: knowledge,
		logger:    logger.With(loggerNameKey, "event_prioritizer"),
		now:       time.Now,
	}
}

// PrioritizeEvent assigns a priority to the event. The first matching
// rule wins:
//  1. Mentions the bot: Critical
//  2. Direct message: Critical
//  3. Author's relationship strength is at least the high priority
//     threshold: High
//  4. Otherwise: Normal
//
// A failed relationship lookup is logged and treated as no relationship.
func (p *EventPrioritizer) PrioritizeEvent(
	ctx context.Context,
	e *MessageEvent,
	channelID string,
	botID string,
) PrioritizedEvent {
	pe := PrioritizedEvent{
		Event:         e,
		Priority:      PriorityNormal,
		ChannelID:     channelID,
		PrioritizedAt: p.now(),
	}

	switch {
	case e.MentionsBot || (botID != "" && slices.Contains(e.MentionedUserIDs, botID)):
		pe.Priority = PriorityCritical
	case e.IsDirectMessage:
		pe.Priority = PriorityCritical
	case p.knowledge != nil:
		rel, err := p.knowledge.GetUserRelationship(ctx, e.AuthorID)
		if err != nil {
			contextLoggerOr(ctx, p.logger).WarnContext(
				ctx,
				"error getting relationship",
				"user_id", e.AuthorID,
				tint.Err(err),
			)
			break
		}
		if rel != nil && rel.Strength >= p.config.HighPriorityRelationshipThreshold {
			pe.Priority = PriorityHigh
		}
	}
	return pe
}

// PrioritizeChannelEvents prioritizes and sorts the channel's buffered
// events. The buffer isn't modified.
func (p *EventPrioritizer) PrioritizeChannelEvents(
	ctx context.Context,
	channelID string,
	botID string,
) []PrioritizedEvent {
	events := p.buffers.PeekEvents(channelID)
	prioritized := make([]PrioritizedEvent, 0, len(events))
	for _, e := range events {
		prioritized = append(prioritized, p.PrioritizeEvent(ctx, e, channelID, botID))
	}
	sortPrioritizedEvents(prioritized)
	return prioritized
}

// PrioritizeAllEvents prioritizes the events in every buffer, returning
// them in one sorted slice. Buffers aren't modified.
func (p *EventPrioritizer) PrioritizeAllEvents(ctx context.Context, botID string) []PrioritizedEvent {
	return p.prioritizeBuffered(ctx, botID, false)
}

// PrioritizePendingEvents is PrioritizeAllEvents limited to events that
// haven't been processed. Processed events are skipped before their
// relationship lookup.
func (p *EventPrioritizer) PrioritizePendingEvents(ctx context.Context, botID string) []PrioritizedEvent {
	return p.prioritizeBuffered(ctx, botID, true)
}

func (p *EventPrioritizer) prioritizeBuffered(ctx context.Context, botID string, pendingOnly bool) []PrioritizedEvent {
	var all []PrioritizedEvent
	for _, channelID := range p.buffers.ChannelIDs() {
		for _, e := range p.buffers.PeekEvents(channelID) {
			if pendingOnly && e.IsProcessed() {
				continue
			}
			all = append(all, p.PrioritizeEvent(ctx, e, channelID, botID))
		}
	}
	sortPrioritizedEvents(all)
	return all
}
