package electricraspberry

import "fmt"

// IdleBehaviorType is a low-key action the bot takes in a channel when
// it isn't engaged in conversation.
type IdleBehaviorType int

const (
	IdleEmojiReaction IdleBehaviorType = iota
	IdleStatusChange
	IdleChannelObservation
	IdleOpenQuestion
	IdleInterestPrompt
	IdleRecallConversation
	IdleVoicePresence
)

func (t IdleBehaviorType) String() string {
	switch t {
	case IdleEmojiReaction:
		return "emoji_reaction"
	case IdleStatusChange:
		return "status_change"
	case IdleChannelObservation:
		return "channel_observation"
	case IdleOpenQuestion:
		return "open_question"
	case IdleInterestPrompt:
		return "interest_prompt"
	case IdleRecallConversation:
		return "recall_conversation"
	case IdleVoicePresence:
		return "voice_presence"
	default:
		return fmt.Sprintf("IdleBehaviorType(%d)", int(t))
	}
}

func (t IdleBehaviorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ShouldPerformIdleBehavior decides whether the channel gets an idle
// behavior now. Channels that had one recently, are inactive, or have an
// ongoing engagement never do.
func (s *SelfRegulator) ShouldPerformIdleBehavior(channelID string) bool {
	now := s.now()
	st := s.state(channelID)
	st.mu.Lock()
	lastIdle := st.activity.LastIdleBehavior
	level := st.activity.Level
	engaged := s.engagedLocked(st, now)
	st.mu.Unlock()

	switch {
	case !lastIdle.IsZero() && now.Sub(lastIdle) < s.config.IdleBehaviorInterval:
		return false
	case level == ActivityInactive:
		return false
	case engaged:
		return false
	}
	return s.rand.Float64() < s.config.IdleBehaviorProbability
}

// RecordIdleBehavior records that an idle behavior was performed in
// the channel.
func (s *SelfRegulator) RecordIdleBehavior(channelID string) {
	st := s.state(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.activity.LastIdleBehavior = s.now()
}

// idleBehaviorCandidates returns the weighted idle behaviors available
// for the context.
func idleBehaviorCandidates(ec EngagementContext) []weightedOption[IdleBehaviorType] {
	rel := clamp(ec.AverageRelationshipStrength, 0, 1)
	tired := ec.CurrentStamina < 30
	busy := ec.ActivityLevel >= ActivityHigh

	emoji := 1.0
	if busy {
		emoji *= 1.5
	}

	status := 0.8
	if tired {
		status *= 1.3
	}
	if ec.ActivityLevel <= ActivityLow {
		status *= 1.2
	}

	observation := 0.7
	if ec.ActivityLevel == ActivityLow {
		observation *= 1.4
	}

	question := 0.6
	if ec.CurrentStamina > 60 {
		question *= 1.3
	}
	if busy {
		question *= 0.5
	}

	candidates := []weightedOption[IdleBehaviorType]{
		{Value: IdleEmojiReaction, Weight: emoji},
		{Value: IdleStatusChange, Weight: status},
		{Value: IdleChannelObservation, Weight: observation},
		{Value: IdleOpenQuestion, Weight: question},
	}

	if rel > 0.4 {
		interest := 0.5 * (1 + rel)
		if tired {
			interest *= 0.5
		}
		recall := 0.4 * (1 + rel)
		if ec.HasKnowledgeOfTopic {
			recall *= 1.2
		}
		candidates = append(
			candidates,
			weightedOption[IdleBehaviorType]{Value: IdleInterestPrompt, Weight: interest},
			weightedOption[IdleBehaviorType]{Value: IdleRecallConversation, Weight: recall},
		)
	}

	if ec.ActivityLevel >= ActivityModerate {
		voice := 0.3
		if busy {
			voice *= 1.5
		}
		candidates = append(
			candidates,
			weightedOption[IdleBehaviorType]{Value: IdleVoicePresence, Weight: voice},
		)
	}
	return candidates
}

// GetIdleBehaviorType picks an idle behavior for the context with a
// weighted random draw.
func (s *SelfRegulator) GetIdleBehaviorType(ec EngagementContext) IdleBehaviorType {
	choice, _ := weightedChoice(s.rand, idleBehaviorCandidates(ec))
	return choice
}
