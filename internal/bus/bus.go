package bus

import (
	"sync"

	"github.com/jkaberg/fueltrim-hass/internal/sensors"
)

// Bus provides fan-out pub/sub semantics for *sensors.SensorData* snapshots
// arriving from the webhook. Each Subscribe call gets its own channel that
// receives every future publication; past messages are not replayed. Safe for
// concurrent publishers and subscribers.
type Bus struct {
	mu          sync.RWMutex
	closed      bool
	subscribers []chan *sensors.SensorData
}

// New creates a ready-to-use Bus.
func New() *Bus { return &Bus{} }

// Subscribe returns a read-only channel that will receive all future
// snapshots. The buffer holds a few devices' worth of positions so that a
// burst of webhooks for different trackers is not thinned out.
func (b *Bus) Subscribe() <-chan *sensors.SensorData {
	ch := make(chan *sensors.SensorData, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers the snapshot to all subscribers without blocking. A
// subscriber with a full buffer misses this snapshot and reports false.
func (b *Bus) Publish(s *sensors.SensorData) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}

	delivered := true
	for _, ch := range b.subscribers {
		select {
		case ch <- s:
		default:
			delivered = false
		}
	}
	return delivered
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
