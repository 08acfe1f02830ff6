package diag

import (
	"sync"

	"github.com/google/uuid"
)

// tapBuffer is the per-listener backlog before lines are skipped.
const tapBuffer = 64

// Tap fans lines out to any number of listeners. A slow listener misses
// lines rather than stalling the publisher.
type Tap struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closed      bool
}

// NewTap returns an empty Tap.
func NewTap() *Tap {
	return &Tap{subscribers: make(map[string]chan string)}
}

// Subscribe registers a listener and returns its id and channel.
func (t *Tap) Subscribe() (string, <-chan string) {
	id := uuid.NewString()
	ch := make(chan string, tapBuffer)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return id, ch
	}
	t.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes the listener and closes its channel.
func (t *Tap) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subscribers[id]; ok {
		close(ch)
		delete(t.subscribers, id)
	}
}

// Listeners returns the number of subscribed listeners.
func (t *Tap) Listeners() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Publish offers line to every listener without blocking.
func (t *Tap) Publish(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close closes every listener channel. Later subscribers get a closed channel.
func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
}
