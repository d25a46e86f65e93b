package core

import (
	"sync"
	"time"
)

// EventTaskExecuted is published after every execution that produced a result.
const EventTaskExecuted = "taskExecuted"

// Event is a notification sent to subscribers.
type Event struct {
	Type   string      `json:"type"`
	TaskID string      `json:"taskId"`
	Result *ExecResult `json:"result"`
	At     time.Time   `json:"at"`
}

const subscriberBuffer = 16

// Broadcaster fans events out to subscribers. Delivery is at-most-once: a
// subscriber whose buffer is full misses the event, and nothing is replayed
// to late subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of attached listeners.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
