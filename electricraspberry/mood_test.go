package electricraspberry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmotionTracker(t *testing.T) {
	clock := newFakeClock()
	tracker := NewEmotionTracker()
	tracker.now = clock.Now
	tracker.lastUpdate = clock.Now()

	assert.Empty(t, tracker.GetCurrentEmotionalState())

	tracker.Nudge(EmotionJoy, 0.5)
	tracker.Nudge(EmotionJoy, 0.7)
	tracker.Nudge(EmotionAnger, 0.2)

	state := tracker.GetCurrentEmotionalState()
	assert.Equal(t, 1.0, state.Intensity(EmotionJoy))
	assert.InDelta(t, 0.2, state.Intensity(EmotionAnger), 1e-9)

	emotion, intensity := state.Dominant()
	assert.Equal(t, EmotionJoy, emotion)
	assert.Equal(t, 1.0, intensity)

	// returned state is a copy
	state[EmotionFear] = 1
	assert.Zero(t, tracker.GetCurrentEmotionalState().Intensity(EmotionFear))

	clock.Advance(5 * time.Minute)
	state = tracker.GetCurrentEmotionalState()
	assert.InDelta(t, 0.9, state.Intensity(EmotionJoy), 1e-9)
	assert.InDelta(t, 0.1, state.Intensity(EmotionAnger), 1e-9)

	clock.Advance(10 * time.Minute)
	state = tracker.GetCurrentEmotionalState()
	assert.NotContains(t, state, EmotionAnger)
	assert.InDelta(t, 0.7, state.Intensity(EmotionJoy), 1e-9)

	tracker.Nudge(EmotionJoy, -2)
	assert.NotContains(t, tracker.GetCurrentEmotionalState(), EmotionJoy)
}

func TestEmotionalState_Dominant(t *testing.T) {
	e, v := EmotionalState{}.Dominant()
	assert.Equal(t, Emotion(""), e)
	assert.Zero(t, v)

	e, _ = EmotionalState{EmotionTrust: 0.4, EmotionFear: 0.4}.Dominant()
	assert.Equal(t, EmotionFear, e, "ties go to the first name alphabetically")
}

func TestStaticPersonality(t *testing.T) {
	traits := PersonalityTraits{Extraversion: 0.1}
	assert.Equal(t, traits, StaticPersonality{Traits: traits}.GetCurrentTraits())
}
