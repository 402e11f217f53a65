package electricraspberry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	OperationProcessMessage        = "ProcessMessage"
	OperationProcessBatchedMessage = "ProcessBatchedMessage"
	OperationIdleBehavior          = "IdleBehavior"
)

// RateLimiter applies two independent limits to each operation type:
// a global minimum interval between invocations, and a per-channel cap
// on invocations within a fixed window. Both must pass.
type RateLimiter struct {
	config *RateLimitConfig
	logger *slog.Logger
	now    func() time.Time

	// operation -> *atomic.Int64, unix nanos of the last invocation
	lastGlobal sync.Map
	// "operation:channelID" -> *rateWindow
	windows sync.Map
}

type rateWindow struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
	// set once the window has been removed from the map
	retired bool
}

// current returns the window's count as of now, treating an expired
// window as empty. Callers must hold mu.
func (w *rateWindow) current(now time.Time) int {
	if !now.Before(w.resetAt) {
		return 0
	}
	return w.count
}

func NewRateLimiter(config *RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if config == nil {
		config = DefaultConfig().RateLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		config: config,
		logger: logger.With(loggerNameKey, "rate_limiter"),
		now:    time.Now,
	}
}

func rateWindowKey(operation, channelID string) string {
	return operation + ":" + channelID
}

func (r *RateLimiter) globalEntry(operation string) *atomic.Int64 {
	v, ok := r.lastGlobal.Load(operation)
	if !ok {
		v, _ = r.lastGlobal.LoadOrStore(operation, &atomic.Int64{})
	}
	return v.(*atomic.Int64)
}

func (r *RateLimiter) windowEntry(operation, channelID string) *rateWindow {
	key := rateWindowKey(operation, channelID)
	v, ok := r.windows.Load(key)
	if !ok {
		v, _ = r.windows.LoadOrStore(key, &rateWindow{})
	}
	return v.(*rateWindow)
}

// windowCount returns the live count for the channel's window without
// creating one, along with the window's reset time.
func (r *RateLimiter) windowCount(operation, channelID string, now time.Time) (int, time.Time) {
	v, ok := r.windows.Load(rateWindowKey(operation, channelID))
	if !ok {
		return 0, time.Time{}
	}
	w := v.(*rateWindow)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current(now), w.resetAt
}

// globalWait returns the remaining global cooldown for the operation.
func (r *RateLimiter) globalWait(operation string, limit OperationLimit, now time.Time) time.Duration {
	if limit.GlobalMinInterval <= 0 {
		return 0
	}
	last := r.globalEntry(operation).Load()
	if last == 0 {
		return 0
	}
	elapsed := now.Sub(time.Unix(0, last))
	if elapsed >= limit.GlobalMinInterval {
		return 0
	}
	return limit.GlobalMinInterval - elapsed
}

// CanPerformOperation reports whether the operation may run now in the
// given channel. It doesn't consume any budget; see RecordOperation.
func (r *RateLimiter) CanPerformOperation(operation, channelID string) bool {
	limit := r.config.LimitFor(operation)
	now := r.now()

	if wait := r.globalWait(operation, limit, now); wait > 0 {
		r.logger.Debug(
			"global rate limit",
			"operation", operation,
			"channel_id", channelID,
			"wait", wait,
		)
		return false
	}

	count, _ := r.windowCount(operation, channelID, now)
	if count >= limit.ChannelMaxOperations {
		r.logger.Debug(
			"channel rate limit",
			"operation", operation,
			"channel_id", channelID,
			"count", count,
			"max", limit.ChannelMaxOperations,
		)
		return false
	}
	return true
}

// RecordOperation records one invocation of the operation in the channel.
func (r *RateLimiter) RecordOperation(operation, channelID string) {
	limit := r.config.LimitFor(operation)
	now := r.now()

	r.globalEntry(operation).Store(now.UnixNano())

	for {
		w := r.windowEntry(operation, channelID)
		w.mu.Lock()
		if w.retired {
			// lost a race with CleanupExpiredWindows, fetch the replacement
			w.mu.Unlock()
			continue
		}
		if !now.Before(w.resetAt) {
			w.count = 0
			w.resetAt = now.Add(limit.ChannelWindow)
		}
		w.count++
		w.mu.Unlock()
		return
	}
}

// GetTimeToWait returns how long until the operation would be allowed
// in the channel, or 0 if it's allowed now.
func (r *RateLimiter) GetTimeToWait(operation, channelID string) time.Duration {
	limit := r.config.LimitFor(operation)
	now := r.now()

	wait := r.globalWait(operation, limit, now)

	count, resetAt := r.windowCount(operation, channelID, now)
	if count >= limit.ChannelMaxOperations {
		wait = max(wait, resetAt.Sub(now))
	}
	return wait
}

// CleanupExpiredWindows removes per-channel windows whose period has
// ended, returning the number removed. An expired window holds no
// budget, so removing it doesn't change any limit.
func (r *RateLimiter) CleanupExpiredWindows() int {
	now := r.now()
	removed := 0
	r.windows.Range(
		func(key, value any) bool {
			w := value.(*rateWindow)
			w.mu.Lock()
			if !w.retired && !now.Before(w.resetAt) {
				w.retired = true
				if r.windows.CompareAndDelete(key, w) {
					removed++
				}
			}
			w.mu.Unlock()
			return true
		},
	)
	return removed
}

// TrackedWindows returns the number of per-channel windows held.
func (r *RateLimiter) TrackedWindows() int {
	n := 0
	r.windows.Range(
		func(_, _ any) bool {
			n++
			return true
		},
	)
	return n
}
