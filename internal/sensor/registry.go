// Package sensor keeps track of the sensors attached to the gateway and the
// bounded queues frames are delivered into.
package sensor

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/canfd.gateway/internal/canfd"
	"github.com/banshee-data/canfd.gateway/internal/monitoring"
)

// Attach and Detach failures. All of them leave the registry unchanged.
var (
	ErrSubscriberExists    = errors.New("sensor: subscriber already attached")
	ErrSubscriberNotFound  = errors.New("sensor: subscriber not found")
	ErrInvalidSubscriberID = errors.New("sensor: subscriber id must be a non-negative integer")
	ErrRegistryClosed      = errors.New("sensor: registry closed")
)

// Stats counts what happened to frames routed to one subscription.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Evicted   uint64 `json:"evicted"`
	Queued    int    `json:"queued"`
}

// Subscription is one attached sensor. It is immutable apart from its queue
// and counters, so it can be shared with readers of a snapshot.
type Subscription struct {
	ID         string
	UID        uint64
	ReceiverID uint32

	queue     *Queue
	delivered atomic.Uint64
	evicted   atomic.Uint64
}

// Matches reports whether f is addressed to this subscription.
func (s *Subscription) Matches(f canfd.Frame) bool {
	return f.ReceiverID == s.ReceiverID
}

// Deliver pushes f into the subscription queue without blocking. It reports
// whether an older frame had to be evicted to make room.
func (s *Subscription) Deliver(f canfd.Frame) (bool, error) {
	evicted, err := s.queue.Push(f)
	if err != nil {
		return false, err
	}
	s.delivered.Add(1)
	if evicted {
		s.evicted.Add(1)
	}
	return evicted, nil
}

// Frames returns the read end of the subscription queue.
func (s *Subscription) Frames() <-chan canfd.Frame {
	return s.queue.C()
}

func (s *Subscription) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Evicted:   s.evicted.Load(),
		Queued:    s.queue.Len(),
	}
}

// Registry maps subscriber IDs to subscriptions. Mutations are serialised by
// a mutex; readers get an immutable copy-on-write snapshot so fan-out never
// holds a lock while pushing into queues.
type Registry struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	capacity int
	closed   bool

	snap atomic.Pointer[[]*Subscription]
}

// NewRegistry returns an empty registry whose queues hold capacity frames.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	r := &Registry{
		subs:     make(map[string]*Subscription),
		capacity: capacity,
	}
	r.snap.Store(&[]*Subscription{})
	return r
}

// Attach registers a sensor for frames whose receiver ID equals receiverID
// and returns the read end of its new queue. The ID must parse as a
// non-negative integer. Attaching an ID that is already present is rejected
// with ErrSubscriberExists; the existing subscription is left untouched.
func (r *Registry) Attach(id string, receiverID uint32) (<-chan canfd.Frame, error) {
	uid, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubscriberID, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, ok := r.subs[id]; ok {
		return nil, fmt.Errorf("%w: %q", ErrSubscriberExists, id)
	}

	sub := &Subscription{
		ID:         id,
		UID:        uid,
		ReceiverID: receiverID,
		queue:      NewQueue(r.capacity),
	}
	r.subs[id] = sub
	r.publishLocked()
	monitoring.Logf("registry: attached sensor %s for receiver id %d", id, receiverID)
	return sub.Frames(), nil
}

// Detach removes exactly the named subscription and closes its queue.
func (r *Registry) Detach(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSubscriberNotFound, id)
	}
	delete(r.subs, id)
	r.publishLocked()
	sub.queue.Close()
	monitoring.Logf("registry: detached sensor %s", id)
	return nil
}

// Clear removes every subscription and closes their queues.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

// Close clears the registry and rejects any further Attach.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.clearLocked()
}

func (r *Registry) clearLocked() {
	if len(r.subs) == 0 {
		return
	}
	for id, sub := range r.subs {
		sub.queue.Close()
		delete(r.subs, id)
	}
	r.publishLocked()
	monitoring.Logf("registry: cleared all sensors")
}

// publishLocked rebuilds the snapshot. Callers hold r.mu.
func (r *Registry) publishLocked() {
	next := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		next = append(next, sub)
	}
	sort.Slice(next, func(i, j int) bool {
		if next[i].UID != next[j].UID {
			return next[i].UID < next[j].UID
		}
		return next[i].ID < next[j].ID
	})
	r.snap.Store(&next)
}

// Snapshot returns the subscriptions present at the time of the call, ordered
// by numeric ID. The slice is shared and must not be modified.
func (r *Registry) Snapshot() []*Subscription {
	return *r.snap.Load()
}

// Lookup returns the subscription registered under id.
func (r *Registry) Lookup(id string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// Len returns the number of attached sensors.
func (r *Registry) Len() int {
	return len(r.Snapshot())
}
