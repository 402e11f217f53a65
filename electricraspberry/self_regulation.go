package electricraspberry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const (
	minEngagementProbability = 0.05
	maxEngagementProbability = 0.95

	// weight of the newest sample in the message rate moving average
	activityAlpha = 0.3

	recentMentionWindow = 5 * time.Minute
	topicLookupLimit    = 10
)

// ActivityLevel classifies a channel's message rate.
type ActivityLevel int

const (
	ActivityInactive ActivityLevel = iota
	ActivityLow
	ActivityModerate
	ActivityHigh
	ActivityVeryHigh
)

func (a ActivityLevel) String() string {
	switch a {
	case ActivityInactive:
		return "inactive"
	case ActivityLow:
		return "low"
	case ActivityModerate:
		return "moderate"
	case ActivityHigh:
		return "high"
	case ActivityVeryHigh:
		return "very_high"
	default:
		return fmt.Sprintf("ActivityLevel(%d)", int(a))
	}
}

func (a ActivityLevel) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Classify maps a messages-per-minute rate to an ActivityLevel.
func (t ActivityThresholds) Classify(messagesPerMinute float64) ActivityLevel {
	switch {
	case messagesPerMinute >= t.VeryHigh():
		return ActivityVeryHigh
	case messagesPerMinute >= t.High:
		return ActivityHigh
	case messagesPerMinute >= t.Moderate:
		return ActivityModerate
	case messagesPerMinute >= t.Low:
		return ActivityLow
	default:
		return ActivityInactive
	}
}

// ChannelActivity is the regulator's view of one channel.
//
// Fields:
//   - ChannelID: Discord channel ID
//   - Level: Current classification of MessagesPerMinute
//   - MessagesPerMinute: Exponential moving average of the message rate
//   - AverageMessageInterval: Mean gap between messages, derived from MessagesPerMinute
//   - LastMessage: When a message was last seen in the channel
//   - LastBotMessage: When the bot last posted in the channel
//   - WindowMessageCount: Messages seen since the last activity rollup
//   - MessagesSinceBotMessage: Non-bot messages since the bot last posted
//   - RecentBotMessages: Bot messages since the last activity rollup
//   - LastInitiation: When the bot last started a conversation here
//   - NextInitiation: When the bot may next start a conversation. Zero if unscheduled.
//   - LastIdleBehavior: When an idle behavior was last performed
//   - Engaged: Set while the bot is participating in the conversation
//   - EngagementStart: When the current engagement began
type ChannelActivity struct {
	ChannelID               string        `json:"channel_id"`
	Level                   ActivityLevel `json:"level"`
	MessagesPerMinute       float64       `json:"messages_per_minute"`
	AverageMessageInterval  time.Duration `json:"average_message_interval"`
	LastMessage             time.Time     `json:"last_message"`
	LastBotMessage          time.Time     `json:"last_bot_message"`
	WindowMessageCount      int           `json:"window_message_count"`
	MessagesSinceBotMessage int           `json:"messages_since_bot_message"`
	RecentBotMessages       int           `json:"recent_bot_messages"`
	LastInitiation          time.Time     `json:"last_initiation"`
	NextInitiation          time.Time     `json:"next_initiation"`
	LastIdleBehavior        time.Time     `json:"last_idle_behavior"`
	Engaged                 bool          `json:"engaged"`
	EngagementStart         time.Time     `json:"engagement_start"`
}

type channelState struct {
	mu          sync.Mutex
	activity    ChannelActivity
	sampled     bool
	windowStart time.Time
}

// EngagementContext is a snapshot of everything that goes into one
// engagement decision.
//
// TimeSinceLastBotMessage is negative if the bot has never posted in
// the channel.
type EngagementContext struct {
	ChannelID                   string         `json:"channel_id"`
	ActivityLevel               ActivityLevel  `json:"activity_level"`
	ParticipantIDs              []string       `json:"participant_ids"`
	AverageRelationshipStrength float64        `json:"average_relationship_strength"`
	CurrentStamina              float64        `json:"current_stamina"`
	EmotionalState              EmotionalState `json:"emotional_state"`
	TopicRelevance              float64        `json:"topic_relevance"`
	TimeSinceLastBotMessage     time.Duration  `json:"time_since_last_bot_message"`
	MessagesSinceLastBotMessage int            `json:"messages_since_last_bot_message"`
	HasKnowledgeOfTopic         bool           `json:"has_knowledge_of_topic"`
	WasRecentlyMentioned        bool           `json:"was_recently_mentioned"`
	ConversationImportance      float64        `json:"conversation_importance"`
}

func (c EngagementContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("channel_id", c.ChannelID),
		slog.String("activity", c.ActivityLevel.String()),
		slog.Int("participants", len(c.ParticipantIDs)),
		slog.Float64("relationship", c.AverageRelationshipStrength),
		slog.Float64("stamina", c.CurrentStamina),
		slog.Float64("topic_relevance", c.TopicRelevance),
		slog.Duration("since_bot_message", c.TimeSinceLastBotMessage),
		slog.Bool("mentioned", c.WasRecentlyMentioned),
		slog.Float64("importance", c.ConversationImportance),
	)
}

// SelfRegulationServices are the collaborators a SelfRegulator consults.
// Graph is optional.
type SelfRegulationServices struct {
	Stamina     StaminaService
	Emotion     EmotionService
	Knowledge   KnowledgeService
	Personality PersonalityService
	Graph       KnowledgeGraph
	Random      RandomSource
}

// SelfRegulator decides whether and how quickly the bot engages with a
// channel, and when it performs idle behaviors or starts conversations.
type SelfRegulator struct {
	config      *SelfRegulationConfig
	stamina     StaminaService
	emotion     EmotionService
	knowledge   KnowledgeService
	personality PersonalityService
	graph       KnowledgeGraph
	rand        RandomSource
	logger      *slog.Logger
	now         func() time.Time

	channels sync.Map // map[string]*channelState
	stages   sync.Map // map[string]RelationshipStage
}

func NewSelfRegulator(
	config *SelfRegulationConfig,
	services SelfRegulationServices,
	logger *slog.Logger,
) *SelfRegulator {
	if config == nil {
		config = DefaultConfig().SelfRegulation
	}
	if logger == nil {
		logger = slog.Default()
	}
	if services.Random == nil {
		services.Random = NewRandomSource(config.RandomSeed)
	}
	return &SelfRegulator{
		config:      config,
		stamina:     services.Stamina,
		emotion:     services.Emotion,
		knowledge:   services.Knowledge,
		personality: services.Personality,
		graph:       services.Graph,
		rand:        services.Random,
		logger:      logger.With(loggerNameKey, "self_regulator"),
		now:         time.Now,
	}
}

func (s *SelfRegulator) state(channelID string) *channelState {
	v, ok := s.channels.Load(channelID)
	if !ok {
		v, _ = s.channels.LoadOrStore(
			channelID,
			&channelState{
				activity:    ChannelActivity{ChannelID: channelID},
				windowStart: s.now(),
			},
		)
	}
	return v.(*channelState)
}

// engagedLocked reports whether the channel has an unexpired engagement.
// Callers must hold st.mu.
func (s *SelfRegulator) engagedLocked(st *channelState, now time.Time) bool {
	a := &st.activity
	if !a.Engaged {
		return false
	}
	if now.Sub(a.EngagementStart) >= s.config.EngagementTimeout {
		a.Engaged = false
		return false
	}
	return true
}

// markEngaged starts a new engagement window in the channel.
func (s *SelfRegulator) markEngaged(channelID string) {
	st := s.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.activity.EngagementStart = s.now()
	st.activity.Engaged = true
}

// IsEngaged reports whether the bot is in an unexpired engagement in
// the channel.
func (s *SelfRegulator) IsEngaged(channelID string) bool {
	st := s.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.engagedLocked(st, s.now())
}

// ShouldEngage decides whether the bot should respond in the context's
// channel. A successful decision starts (or continues) engagement.
func (s *SelfRegulator) ShouldEngage(ec EngagementContext) bool {
	log := s.logger.With("channel_id", ec.ChannelID)

	if s.stamina != nil && s.stamina.IsSleeping() {
		log.Debug("not engaging, sleeping")
		return false
	}

	if ec.WasRecentlyMentioned {
		s.markEngaged(ec.ChannelID)
		log.Debug("engaging, recently mentioned")
		return true
	}

	if s.IsEngaged(ec.ChannelID) {
		log.Debug("engaging, conversation in progress")
		return true
	}

	p := s.CalculateEngagementProbability(ec)
	roll := s.rand.Float64()
	if roll < p {
		s.markEngaged(ec.ChannelID)
		log.Debug("engaging", "probability", p, "roll", roll)
		return true
	}
	log.Debug("not engaging", "probability", p, "roll", roll)
	return false
}

func activityEngagementFactor(level ActivityLevel) float64 {
	switch level {
	case ActivityInactive:
		return 0.5
	case ActivityLow:
		return 0.8
	case ActivityModerate:
		return 1.0
	case ActivityHigh:
		return 0.7
	case ActivityVeryHigh:
		return 0.4
	default:
		return 1.0
	}
}

// CalculateEngagementProbability returns the chance of engaging, always
// within [0.05, 0.95].
func (s *SelfRegulator) CalculateEngagementProbability(ec EngagementContext) float64 {
	p := s.config.BaseEngagementProbability

	p *= clamp(ec.CurrentStamina, 0, 100) / 100
	p *= 0.5 + clamp(ec.AverageRelationshipStrength, 0, 1)*0.5
	p *= 0.8 + clamp(ec.TopicRelevance, 0, 1)*0.4
	p *= activityEngagementFactor(ec.ActivityLevel)

	switch since := ec.TimeSinceLastBotMessage; {
	case since > time.Hour:
		p *= 0.3
	case since > 15*time.Minute:
		p *= 0.7
	}

	traits := s.traits()
	if traits.Extraversion > 0.5 {
		p *= 1 + (traits.Extraversion - 0.5)
	}
	if traits.Reserve > 0.5 {
		p *= 1 - (traits.Reserve - 0.5)
	}

	p *= 0.7 + clamp(ec.ConversationImportance, 0, 1)*0.6
	if ec.HasKnowledgeOfTopic {
		p *= 1.2
	}

	// +/- 10%
	p *= 0.9 + s.rand.Float64()*0.2

	return clamp(p, minEngagementProbability, maxEngagementProbability)
}

func activityDelayFactor(level ActivityLevel) float64 {
	switch level {
	case ActivityVeryHigh:
		return 0.6
	case ActivityHigh:
		return 0.8
	case ActivityModerate:
		return 1.0
	case ActivityLow:
		return 1.2
	case ActivityInactive:
		return 1.4
	default:
		return 1.0
	}
}

// GetResponseDelay returns how long to wait before responding, within
// the configured [min, max] range.
func (s *SelfRegulator) GetResponseDelay(ec EngagementContext) time.Duration {
	lo := float64(s.config.MinResponseDelay)
	hi := float64(s.config.MaxResponseDelay)

	delay := lo + (hi-lo)*s.rand.Float64()
	delay *= activityDelayFactor(ec.ActivityLevel)
	delay *= 1.2 - clamp(ec.AverageRelationshipStrength, 0, 1)*0.4
	delay *= 1.5 - clamp(ec.CurrentStamina, 0, 100)/100*0.5

	if ec.EmotionalState.Intensity(EmotionJoy) > 0.6 {
		delay *= 0.8
	}
	if ec.EmotionalState.Intensity(EmotionAnger) > 0.6 {
		delay *= 0.7
	}
	if ec.EmotionalState.Intensity(EmotionSadness) > 0.6 {
		delay *= 1.3
	}

	traits := s.traits()
	delay *= 1 - (traits.Impulsivity - 0.5)
	delay *= 1 + (traits.Thoughtfulness - 0.5)

	return time.Duration(clamp(delay, lo, hi))
}

// UpdateChannelActivity folds messageCount messages over interval into
// the channel's message rate average, and reclassifies its activity level.
func (s *SelfRegulator) UpdateChannelActivity(channelID string, messageCount int, interval time.Duration) {
	if interval <= 0 || messageCount < 0 {
		return
	}
	rate := float64(messageCount) / interval.Minutes()

	st := s.state(channelID)
	st.mu.Lock()
	a := &st.activity
	if st.sampled {
		a.MessagesPerMinute = activityAlpha*rate + (1-activityAlpha)*a.MessagesPerMinute
	} else {
		a.MessagesPerMinute = rate
		st.sampled = true
	}
	if a.MessagesPerMinute > 0 {
		a.AverageMessageInterval = time.Duration(float64(time.Minute) / a.MessagesPerMinute)
	} else {
		a.AverageMessageInterval = 0
	}
	previous := a.Level
	a.Level = s.config.ActivityThresholds.Classify(a.MessagesPerMinute)
	current, perMinute := a.Level, a.MessagesPerMinute
	st.mu.Unlock()

	if previous != current {
		s.logger.Debug(
			"channel activity changed",
			"channel_id", channelID,
			"from", previous,
			"to", current,
			"messages_per_minute", perMinute,
		)
	}
}

// RecordChannelMessage counts a message towards the channel's current
// activity window.
func (s *SelfRegulator) RecordChannelMessage(channelID string, fromBot bool, ts time.Time) {
	if ts.IsZero() {
		ts = s.now()
	}
	st := s.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	a := &st.activity
	a.WindowMessageCount++
	if ts.After(a.LastMessage) {
		a.LastMessage = ts
	}
	if fromBot {
		a.RecentBotMessages++
		a.MessagesSinceBotMessage = 0
		if ts.After(a.LastBotMessage) {
			a.LastBotMessage = ts
		}
	} else {
		a.MessagesSinceBotMessage++
	}
}

// RecordBotMessage records that the bot posted in the channel.
func (s *SelfRegulator) RecordBotMessage(channelID string) {
	s.RecordChannelMessage(channelID, true, s.now())
}

// RollupActivity closes every channel's activity window, feeding its
// message count into UpdateChannelActivity.
func (s *SelfRegulator) RollupActivity() {
	now := s.now()
	s.channels.Range(
		func(key, value any) bool {
			st := value.(*channelState)
			st.mu.Lock()
			count := st.activity.WindowMessageCount
			interval := now.Sub(st.windowStart)
			st.activity.WindowMessageCount = 0
			st.activity.RecentBotMessages = 0
			st.windowStart = now
			st.mu.Unlock()

			s.UpdateChannelActivity(key.(string), count, interval)
			return true
		},
	)
}

// EvictStaleChannels drops channels that haven't seen a message within
// the activity retention period and aren't engaged. It returns the
// number of channels removed.
func (s *SelfRegulator) EvictStaleChannels() int {
	now := s.now()
	cutoff := now.Add(-s.config.ActivityRetention)
	removed := 0
	s.channels.Range(
		func(key, value any) bool {
			st := value.(*channelState)
			st.mu.Lock()
			last := st.activity.LastMessage
			if last.IsZero() {
				last = st.windowStart
			}
			stale := last.Before(cutoff) && !s.engagedLocked(st, now)
			st.mu.Unlock()
			if stale && s.channels.CompareAndDelete(key, st) {
				removed++
			}
			return true
		},
	)
	if removed > 0 {
		s.logger.Info("evicted stale channel activity", "count", removed)
	}
	return removed
}

// ChannelActivity returns a copy of the channel's activity, if tracked.
func (s *SelfRegulator) ChannelActivity(channelID string) (ChannelActivity, bool) {
	v, ok := s.channels.Load(channelID)
	if !ok {
		return ChannelActivity{}, false
	}
	st := v.(*channelState)
	st.mu.Lock()
	defer st.mu.Unlock()
	s.engagedLocked(st, s.now())
	return st.activity, true
}

// TrackedChannels returns the number of channels with activity state.
func (s *SelfRegulator) TrackedChannels() int {
	n := 0
	s.channels.Range(
		func(_, _ any) bool {
			n++
			return true
		},
	)
	return n
}

// GetTimeUntilNextInitiation returns the time until the bot may start a
// conversation in the channel, scheduling one if none is pending.
func (s *SelfRegulator) GetTimeUntilNextInitiation(channelID string) time.Duration {
	now := s.now()
	st := s.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.activity.NextInitiation.IsZero() {
		lo := float64(s.config.MinInitiationDelay)
		hi := float64(s.config.MaxInitiationDelay)
		delay := time.Duration(lo + (hi-lo)*s.rand.Float64())
		st.activity.NextInitiation = now.Add(delay)
	}
	return max(0, st.activity.NextInitiation.Sub(now))
}

// RecordInitiation records that the bot started a conversation in the
// channel. The next initiation is rescheduled on demand.
func (s *SelfRegulator) RecordInitiation(channelID string) {
	now := s.now()
	st := s.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.activity.LastInitiation = now
	st.activity.NextInitiation = time.Time{}
	st.activity.Engaged = true
	st.activity.EngagementStart = now
}

// RelationshipStage returns the cached stage for the user.
func (s *SelfRegulator) RelationshipStage(userID string) RelationshipStage {
	v, ok := s.stages.Load(userID)
	if !ok {
		return StageStranger
	}
	return v.(RelationshipStage)
}

func (s *SelfRegulator) updateRelationshipStage(ctx context.Context, userID string, strength float64) {
	stage := s.config.RelationshipStages.Stage(strength)
	previous, loaded := s.stages.Swap(userID, stage)
	from := StageStranger
	if loaded {
		from = previous.(RelationshipStage)
	}
	if from != stage {
		contextLoggerOr(ctx, s.logger).InfoContext(
			ctx,
			"relationship stage changed",
			"user_id", userID,
			"from", from,
			"to", stage,
			"strength", strength,
		)
	}
}

func (s *SelfRegulator) traits() PersonalityTraits {
	if s.personality == nil {
		return DefaultPersonalityTraits()
	}
	return s.personality.GetCurrentTraits()
}

// BuildEngagementContext summarizes the channel's recent events into an
// EngagementContext. It refreshes the cached relationship stage of every
// participant along the way.
func (s *SelfRegulator) BuildEngagementContext(
	ctx context.Context,
	channelID string,
	events []*MessageEvent,
	botID string,
) EngagementContext {
	log := contextLoggerOr(ctx, s.logger)
	now := s.now()

	ec := EngagementContext{
		ChannelID:               channelID,
		TimeSinceLastBotMessage: -1,
	}

	st := s.state(channelID)
	st.mu.Lock()
	ec.ActivityLevel = st.activity.Level
	ec.MessagesSinceLastBotMessage = st.activity.MessagesSinceBotMessage
	if !st.activity.LastBotMessage.IsZero() {
		ec.TimeSinceLastBotMessage = now.Sub(st.activity.LastBotMessage)
	}
	st.mu.Unlock()

	if s.stamina != nil {
		ec.CurrentStamina = s.stamina.GetCurrentStamina()
	}
	if s.emotion != nil {
		ec.EmotionalState = s.emotion.GetCurrentEmotionalState()
	}

	var latest *MessageEvent
	for _, e := range events {
		if e.IsFromBot || (botID != "" && e.AuthorID == botID) {
			continue
		}
		if !slices.Contains(ec.ParticipantIDs, e.AuthorID) {
			ec.ParticipantIDs = append(ec.ParticipantIDs, e.AuthorID)
		}
		if (e.MentionsBot || e.IsDirectMessage) && now.Sub(e.Timestamp) <= recentMentionWindow {
			ec.WasRecentlyMentioned = true
		}
		if latest == nil || !e.Timestamp.Before(latest.Timestamp) {
			latest = e
		}
	}

	if s.knowledge != nil && len(ec.ParticipantIDs) > 0 {
		total := 0.0
		for _, userID := range ec.ParticipantIDs {
			rel, err := s.knowledge.GetUserRelationship(ctx, userID)
			if err != nil {
				log.WarnContext(ctx, "error getting relationship", "user_id", userID, tint.Err(err))
				continue
			}
			strength := 0.0
			if rel != nil {
				strength = clamp(rel.Strength, 0, 1)
			}
			total += strength
			s.updateRelationshipStage(ctx, userID, strength)
		}
		ec.AverageRelationshipStrength = total / float64(len(ec.ParticipantIDs))
	}

	ec.TopicRelevance, ec.HasKnowledgeOfTopic = s.topicRelevance(ctx, ec.ParticipantIDs, events)
	ec.ConversationImportance = conversationImportance(latest, ec.WasRecentlyMentioned)
	return ec
}

// topicRelevance scores how many known topics for the participants come
// up in the recent events.
func (s *SelfRegulator) topicRelevance(
	ctx context.Context,
	participantIDs []string,
	events []*MessageEvent,
) (float64, bool) {
	if s.graph == nil || len(participantIDs) == 0 {
		return 0.5, false
	}
	topics, err := s.graph.TopicsForParticipants(ctx, participantIDs, topicLookupLimit)
	if err != nil {
		contextLoggerOr(ctx, s.logger).WarnContext(ctx, "error looking up topics", tint.Err(err))
		return 0.5, false
	}
	if len(topics) == 0 {
		return 0.3, false
	}

	var content strings.Builder
	for _, e := range events {
		content.WriteString(strings.ToLower(e.Content))
		content.WriteByte('\n')
	}
	text := content.String()

	matches := 0
	for _, topic := range topics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic != "" && strings.Contains(text, topic) {
			matches++
		}
	}
	return clamp(0.3+0.35*float64(matches), 0, 1), matches > 0
}

func conversationImportance(latest *MessageEvent, mentioned bool) float64 {
	switch {
	case mentioned:
		return 1.0
	case latest == nil:
		return 0.3
	case strings.Contains(latest.Content, "?"):
		return 0.6
	case len(latest.AttachmentURLs) > 0:
		return 0.5
	default:
		return 0.3
	}
}
