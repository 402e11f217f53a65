package electricraspberry

import (
	"context"
	"log/slog"
)

// ConversationProcessor generates and delivers the bot's response to
// an event. isImportant is set for High and Critical priority events.
type ConversationProcessor interface {
	ProcessMessage(ctx context.Context, e *MessageEvent, channelID string, isImportant bool) error
}

// StaminaService reports the bot's simulated energy, in [0, 100].
type StaminaService interface {
	IsSleeping() bool
	GetCurrentStamina() float64
	ConsumeStamina(amount float64)
}

type EmotionService interface {
	GetCurrentEmotionalState() EmotionalState
}

// KnowledgeService looks up the bot's relationship with a user. A nil
// relationship with a nil error means the user is unknown.
type KnowledgeService interface {
	GetUserRelationship(ctx context.Context, userID string) (*UserRelationship, error)
}

type PersonalityService interface {
	GetCurrentTraits() PersonalityTraits
}

// CatchupQueue holds events received while the bot was asleep.
type CatchupQueue interface {
	AddToCatchupQueue(ctx context.Context, e *MessageEvent) error
}

// KnowledgeGraph supplies content for idle behaviors and topic relevance.
type KnowledgeGraph interface {
	TopicsForParticipants(ctx context.Context, userIDs []string, limit int) ([]string, error)
	MemoriesForChannel(ctx context.Context, channelID string, limit int) ([]ConversationMemory, error)
}

// IdleBehaviorPerformer carries out an idle behavior in a channel.
type IdleBehaviorPerformer interface {
	PerformIdleBehavior(ctx context.Context, channelID string, behavior IdleBehaviorType, hints IdleBehaviorHints) error
}

// IdleBehaviorHints is the content available to an idle behavior.
type IdleBehaviorHints struct {
	Engagement    EngagementContext
	LatestMessage *MessageEvent
	Topics        []string
	Memories      []ConversationMemory
}

// Emotion names a tracked emotion.
type Emotion string

const (
	EmotionJoy      Emotion = "joy"
	EmotionSadness  Emotion = "sadness"
	EmotionAnger    Emotion = "anger"
	EmotionFear     Emotion = "fear"
	EmotionSurprise Emotion = "surprise"
	EmotionTrust    Emotion = "trust"
)

// EmotionalState maps emotions to their intensity, in [0, 1].
type EmotionalState map[Emotion]float64

// Intensity returns the emotion's intensity, 0 if absent.
func (s EmotionalState) Intensity(e Emotion) float64 {
	return s[e]
}

// Dominant returns the most intense emotion, and its intensity.
func (s EmotionalState) Dominant() (Emotion, float64) {
	var (
		dominant Emotion
		highest  float64
	)
	for e, v := range s {
		if v > highest || (v == highest && e < dominant) {
			dominant, highest = e, v
		}
	}
	return dominant, highest
}

// PersonalityTraits are trait intensities, each in [0, 1]. 0.5 is neutral.
type PersonalityTraits struct {
	Extraversion   float64 `yaml:"extraversion" mapstructure:"extraversion" json:"extraversion" binding:"min=0,max=1"`
	Reserve        float64 `yaml:"reserve" mapstructure:"reserve" json:"reserve" binding:"min=0,max=1"`
	Impulsivity    float64 `yaml:"impulsivity" mapstructure:"impulsivity" json:"impulsivity" binding:"min=0,max=1"`
	Thoughtfulness float64 `yaml:"thoughtfulness" mapstructure:"thoughtfulness" json:"thoughtfulness" binding:"min=0,max=1"`
	Curiosity      float64 `yaml:"curiosity" mapstructure:"curiosity" json:"curiosity" binding:"min=0,max=1"`
	Playfulness    float64 `yaml:"playfulness" mapstructure:"playfulness" json:"playfulness" binding:"min=0,max=1"`
}

func DefaultPersonalityTraits() PersonalityTraits {
	return PersonalityTraits{
		Extraversion:   0.6,
		Reserve:        0.4,
		Impulsivity:    0.5,
		Thoughtfulness: 0.6,
		Curiosity:      0.7,
		Playfulness:    0.6,
	}
}

func (p PersonalityTraits) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("extraversion", p.Extraversion),
		slog.Float64("reserve", p.Reserve),
		slog.Float64("impulsivity", p.Impulsivity),
		slog.Float64("thoughtfulness", p.Thoughtfulness),
		slog.Float64("curiosity", p.Curiosity),
		slog.Float64("playfulness", p.Playfulness),
	)
}
