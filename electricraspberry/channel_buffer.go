package electricraspberry

import (
	"slices"
	"sync"
	"time"
)

// ChannelBuffer is a bounded FIFO of recent events for one channel.
// When full, adding an event evicts the oldest one.
type ChannelBuffer struct {
	ChannelID string

	mu          sync.Mutex
	capacity    int
	events      []*MessageEvent
	lastEventAt time.Time
}

func newChannelBuffer(channelID string, capacity int, now time.Time) *ChannelBuffer {
	if capacity <= 0 {
		capacity = DefaultObserverBufferCapacity
	}
	return &ChannelBuffer{
		ChannelID:   channelID,
		capacity:    capacity,
		events:      make([]*MessageEvent, 0, capacity),
		lastEventAt: now,
	}
}

// Add appends the event, evicting from the front until there's room.
// It returns the number of evicted events.
func (b *ChannelBuffer) Add(e *MessageEvent, now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	if len(b.events) >= b.capacity {
		evicted = len(b.events) - b.capacity + 1
		clear(b.events[:evicted])
		b.events = append(b.events[:0], b.events[evicted:]...)
	}
	b.events = append(b.events, e)
	b.lastEventAt = now
	return evicted
}

// Peek returns a copy of the buffered events, oldest first.
func (b *ChannelBuffer) Peek() []*MessageEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.events)
}

// Drain returns the buffered events and empties the buffer.
func (b *ChannelBuffer) Drain() []*MessageEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.events
	b.events = make([]*MessageEvent, 0, b.capacity)
	return events
}

// Latest returns the most recently added event, or nil if empty.
func (b *ChannelBuffer) Latest() *MessageEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	return b.events[len(b.events)-1]
}

func (b *ChannelBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *ChannelBuffer) Capacity() int {
	return b.capacity
}

// LastEventAt returns when an event was last added, or when the buffer
// was created if it never received one.
func (b *ChannelBuffer) LastEventAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastEventAt
}

// ChannelBufferManager owns one ChannelBuffer per channel. Buffers are
// created on first use.
type ChannelBufferManager struct {
	capacity int
	buffers  sync.Map // map[string]*ChannelBuffer
	now      func() time.Time
}

func NewChannelBufferManager(capacity int) *ChannelBufferManager {
	if capacity <= 0 {
		capacity = DefaultObserverBufferCapacity
	}
	return &ChannelBufferManager{capacity: capacity, now: time.Now}
}

// AddEvent adds the event to the channel's buffer, creating the buffer
// if needed.
func (m *ChannelBufferManager) AddEvent(channelID string, e *MessageEvent) {
	m.GetBuffer(channelID).Add(e, m.now())
}

// GetBuffer returns the channel's buffer, creating it if needed.
func (m *ChannelBufferManager) GetBuffer(channelID string) *ChannelBuffer {
	if b, ok := m.buffers.Load(channelID); ok {
		return b.(*ChannelBuffer)
	}
	b, _ := m.buffers.LoadOrStore(
		channelID,
		newChannelBuffer(channelID, m.capacity, m.now()),
	)
	return b.(*ChannelBuffer)
}

// lookup returns the channel's buffer without creating one.
func (m *ChannelBufferManager) lookup(channelID string) (*ChannelBuffer, bool) {
	b, ok := m.buffers.Load(channelID)
	if !ok {
		return nil, false
	}
	return b.(*ChannelBuffer), true
}

// PeekEvents returns a snapshot of the channel's buffered events.
func (m *ChannelBufferManager) PeekEvents(channelID string) []*MessageEvent {
	b, ok := m.lookup(channelID)
	if !ok {
		return nil
	}
	return b.Peek()
}

// DrainEvents returns the channel's buffered events and empties its buffer.
func (m *ChannelBufferManager) DrainEvents(channelID string) []*MessageEvent {
	b, ok := m.lookup(channelID)
	if !ok {
		return nil
	}
	return b.Drain()
}

// RemoveBuffer removes the channel's buffer, reporting whether one existed.
func (m *ChannelBufferManager) RemoveBuffer(channelID string) bool {
	_, existed := m.buffers.LoadAndDelete(channelID)
	return existed
}

// removeIfInactive removes the buffer if it's still tracked and still
// inactive as of threshold.
func (m *ChannelBufferManager) removeIfInactive(b *ChannelBuffer, threshold time.Time) bool {
	if !b.LastEventAt().Before(threshold) {
		return false
	}
	return m.buffers.CompareAndDelete(b.ChannelID, b)
}

// GetInactiveBuffers returns buffers whose last event predates threshold.
func (m *ChannelBufferManager) GetInactiveBuffers(threshold time.Time) []*ChannelBuffer {
	var inactive []*ChannelBuffer
	m.buffers.Range(
		func(_, value any) bool {
			b := value.(*ChannelBuffer)
			if b.LastEventAt().Before(threshold) {
				inactive = append(inactive, b)
			}
			return true
		},
	)
	return inactive
}

// ChannelIDs returns the IDs of all channels with a buffer, sorted.
func (m *ChannelBufferManager) ChannelIDs() []string {
	var ids []string
	m.buffers.Range(
		func(key, _ any) bool {
			ids = append(ids, key.(string))
			return true
		},
	)
	slices.Sort(ids)
	return ids
}

// Len returns the number of tracked buffers.
func (m *ChannelBufferManager) Len() int {
	n := 0
	m.buffers.Range(
		func(_, _ any) bool {
			n++
			return true
		},
	)
	return n
}
