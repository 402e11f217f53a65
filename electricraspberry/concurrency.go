package electricraspberry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrLockTimeout = errors.New("timed out waiting for resource lock")

// ChannelLockKey returns the named lock key that serializes conversation
// processing in a channel.
func ChannelLockKey(channelID string) string {
	return "channel:" + channelID
}

// resourceLock is a binary lock with FIFO waiters. A retired lock has been
// removed from the directory by cleanup, and must not be handed out.
type resourceLock struct {
	sem        *semaphore.Weighted
	held       atomic.Bool
	retired    atomic.Bool
	lastAccess atomic.Int64
}

func newResourceLock(now time.Time) *resourceLock {
	l := &resourceLock{sem: semaphore.NewWeighted(1)}
	l.lastAccess.Store(now.UnixNano())
	return l
}

// ConcurrencyManager hands out named locks. Locks are created on first
// acquisition, and reclaimed by CleanupStaleResources once they've been
// unheld for longer than the configured staleness window.
type ConcurrencyManager struct {
	config *ConcurrencyConfig
	logger *slog.Logger
	now    func() time.Time
	locks  sync.Map // map[string]*resourceLock
}

func NewConcurrencyManager(config *ConcurrencyConfig, logger *slog.Logger) *ConcurrencyManager {
	if config == nil {
		config = DefaultConfig().Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConcurrencyManager{
		config: config,
		logger: logger.With(loggerNameKey, "concurrency_manager"),
		now:    time.Now,
	}
}

func (c *ConcurrencyManager) entry(key string) *resourceLock {
	v, ok := c.locks.Load(key)
	if !ok {
		v, _ = c.locks.LoadOrStore(key, newResourceLock(c.now()))
	}
	return v.(*resourceLock)
}

// AcquireResourceLock blocks until the named lock is acquired, the lock
// timeout elapses (ErrLockTimeout), or ctx is done (the context's error,
// wrapped).
func (c *ConcurrencyManager) AcquireResourceLock(ctx context.Context, key string) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.config.LockTimeout)
	defer cancel()

	for {
		l := c.entry(key)
		if err := l.sem.Acquire(waitCtx, 1); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("acquire %q: %w", key, ctxErr)
			}
			return fmt.Errorf("%w: %q after %s", ErrLockTimeout, key, c.config.LockTimeout)
		}
		if l.retired.Load() {
			l.sem.Release(1)
			continue
		}
		l.held.Store(true)
		l.lastAccess.Store(c.now().UnixNano())
		return nil
	}
}

// ReleaseResourceLock releases the named lock. Releasing a lock that
// isn't held logs a warning and does nothing.
func (c *ConcurrencyManager) ReleaseResourceLock(key string) {
	v, ok := c.locks.Load(key)
	if !ok {
		c.logger.Warn("release of untracked resource lock", "key", key)
		return
	}
	l := v.(*resourceLock)
	if !l.held.CompareAndSwap(true, false) {
		c.logger.Warn("release of unheld resource lock", "key", key)
		return
	}
	l.lastAccess.Store(c.now().UnixNano())
	l.sem.Release(1)
}

// ExecuteWithResourceLock runs fn while holding the named lock. The lock
// is released when fn returns or panics, and fn's error is returned as-is.
func (c *ConcurrencyManager) ExecuteWithResourceLock(
	ctx context.Context,
	key string,
	fn func(ctx context.Context) error,
) error {
	if err := c.AcquireResourceLock(ctx, key); err != nil {
		return err
	}
	defer c.ReleaseResourceLock(key)
	return fn(ctx)
}

// CleanupStaleResources removes locks that are unheld and haven't been
// accessed within the staleness window. It returns the number removed.
func (c *ConcurrencyManager) CleanupStaleResources() int {
	cutoff := c.now().Add(-c.config.StaleResourceTimeout).UnixNano()
	removed := 0

	c.locks.Range(
		func(key, value any) bool {
			l := value.(*resourceLock)
			if l.held.Load() || l.lastAccess.Load() >= cutoff {
				return true
			}
			if !l.sem.TryAcquire(1) {
				return true
			}
			// re-check under the lock, in case it was used in between
			if l.lastAccess.Load() < cutoff {
				l.retired.Store(true)
				if c.locks.CompareAndDelete(key, l) {
					removed++
				}
			}
			l.sem.Release(1)
			return true
		},
	)

	if removed > 0 {
		c.logger.Info("removed stale resource locks", "count", removed)
	}
	return removed
}

// TrackedResources returns the number of named locks currently tracked.
func (c *ConcurrencyManager) TrackedResources() int {
	n := 0
	c.locks.Range(
		func(_, _ any) bool {
			n++
			return true
		},
	)
	return n
}

// HeldResources returns the keys of all currently held locks, sorted.
func (c *ConcurrencyManager) HeldResources() []string {
	var keys []string
	c.locks.Range(
		func(key, value any) bool {
			if value.(*resourceLock).held.Load() {
				keys = append(keys, key.(string))
			}
			return true
		},
	)
	slices.Sort(keys)
	return keys
}
