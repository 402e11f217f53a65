package electricraspberry

import (
	"maps"
	"sync"
	"time"
)

const defaultEmotionDecayPerMinute = 0.02

// StaticPersonality is a PersonalityService with fixed traits.
type StaticPersonality struct {
	Traits PersonalityTraits
}

func (p StaticPersonality) GetCurrentTraits() PersonalityTraits {
	return p.Traits
}

// EmotionTracker is an in-memory EmotionService. Emotions decay linearly
// back towards zero over time.
type EmotionTracker struct {
	decayPerMinute float64
	now            func() time.Time

	mu         sync.Mutex
	state      EmotionalState
	lastUpdate time.Time
}

func NewEmotionTracker() *EmotionTracker {
	return &EmotionTracker{
		decayPerMinute: defaultEmotionDecayPerMinute,
		now:            time.Now,
		state:          EmotionalState{},
		lastUpdate:     time.Now(),
	}
}

func (t *EmotionTracker) decayLocked() {
	now := t.now()
	elapsed := now.Sub(t.lastUpdate)
	t.lastUpdate = now
	if elapsed <= 0 {
		return
	}
	decay := t.decayPerMinute * elapsed.Minutes()
	for e, v := range t.state {
		v -= decay
		if v <= 0 {
			delete(t.state, e)
			continue
		}
		t.state[e] = v
	}
}

// GetCurrentEmotionalState returns a copy of the current emotions.
func (t *EmotionTracker) GetCurrentEmotionalState() EmotionalState {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decayLocked()
	return maps.Clone(t.state)
}

// Nudge adjusts an emotion's intensity by delta, bounded to [0, 1].
func (t *EmotionTracker) Nudge(e Emotion, delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decayLocked()
	v := clamp(t.state[e]+delta, 0, 1)
	if v == 0 {
		delete(t.state, e)
		return
	}
	t.state[e] = v
}
