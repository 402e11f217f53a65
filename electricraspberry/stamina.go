package electricraspberry

import (
	"log/slog"
	"sync"
	"time"
)

// StaminaTracker is an in-memory StaminaService. Stamina regenerates
// continuously, faster while asleep. The bot falls asleep when stamina
// drops below the sleep threshold, and wakes once it's back above the
// wake threshold. Sleep requested through Sleep lasts until Wake.
type StaminaTracker struct {
	config *StaminaConfig
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	stamina    float64
	sleeping   bool
	forced     bool
	lastUpdate time.Time
}

func NewStaminaTracker(config *StaminaConfig, logger *slog.Logger) *StaminaTracker {
	if config == nil {
		config = DefaultConfig().Stamina
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StaminaTracker{
		config:     config,
		logger:     logger.With(loggerNameKey, "stamina"),
		now:        time.Now,
		stamina:    config.Max,
		lastUpdate: time.Now(),
	}
}

// regenerateLocked applies regeneration since the last update. Callers
// must hold mu.
func (s *StaminaTracker) regenerateLocked() {
	now := s.now()
	elapsed := now.Sub(s.lastUpdate)
	s.lastUpdate = now
	if elapsed <= 0 {
		return
	}

	rate := s.config.RegenPerMinute
	if s.sleeping {
		rate = s.config.SleepRegenPerMinute
	}
	s.stamina = clamp(s.stamina+rate*elapsed.Minutes(), 0, s.config.Max)

	if s.sleeping && !s.forced && s.stamina >= s.config.WakeThreshold {
		s.sleeping = false
		s.logger.Info("waking up", "stamina", s.stamina)
	}
}

func (s *StaminaTracker) IsSleeping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regenerateLocked()
	return s.sleeping
}

func (s *StaminaTracker) GetCurrentStamina() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regenerateLocked()
	return s.stamina
}

// ConsumeStamina spends the given amount. Negative amounts are ignored.
func (s *StaminaTracker) ConsumeStamina(amount float64) {
	if amount <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regenerateLocked()
	s.stamina = clamp(s.stamina-amount, 0, s.config.Max)
	if !s.sleeping && s.stamina < s.config.SleepThreshold {
		s.sleeping = true
		s.logger.Info("falling asleep", "stamina", s.stamina)
	}
}

// Sleep puts the bot to sleep regardless of stamina. It stays asleep
// until Wake is called.
func (s *StaminaTracker) Sleep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regenerateLocked()
	s.forced = true
	if !s.sleeping {
		s.sleeping = true
		s.logger.Info("sleeping on request", "stamina", s.stamina)
	}
}

// Wake wakes the bot regardless of stamina.
func (s *StaminaTracker) Wake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regenerateLocked()
	s.forced = false
	if s.sleeping {
		s.sleeping = false
		s.logger.Info("woken on request", "stamina", s.stamina)
	}
}
