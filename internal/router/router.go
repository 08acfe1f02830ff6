// Package router runs the gateway's single read-decode-dispatch loop: it
// pulls raw lines from a LineSource, decodes them into CAN-FD frames and fans
// sensor data telegrams out to the queues of every matching sensor.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/banshee-data/canfd.gateway/internal/canfd"
	"github.com/banshee-data/canfd.gateway/internal/monitoring"
	"github.com/banshee-data/canfd.gateway/internal/sensor"
	"github.com/banshee-data/canfd.gateway/internal/timeutil"
)

var (
	// ErrClassificationMismatch marks a decoded frame whose message ID is not
	// a sensor data telegram. Such frames are counted and dropped.
	ErrClassificationMismatch = errors.New("router: not a sensor data telegram")
	// ErrStopped is returned by Run on a router that has already stopped.
	ErrStopped = errors.New("router: stopped")
	// ErrAlreadyRunning is returned by a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("router: already running")
)

// TransportError wraps a failure of the line source. It stops the router.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("router: transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// LineSource is an ordered, blocking sequence of text lines. ReadLine returns
// io.EOF once the stream has ended.
type LineSource interface {
	ReadLine() (string, error)
}

// Registry is the part of the sensor registry the router needs.
type Registry interface {
	Attach(id string, receiverID uint32) (<-chan canfd.Frame, error)
	Detach(id string) error
	Snapshot() []*sensor.Subscription
}

// Observer receives per-line events for diagnostics. Methods are called from
// the router goroutine and must not block.
type Observer interface {
	// FrameDecoded is called for every successfully decoded frame.
	FrameDecoded(f canfd.Frame)
	// FrameUnrecognised is called for decoded frames that are not sensor
	// data telegrams.
	FrameUnrecognised(f canfd.Frame)
	// LineRejected is called for lines that fail to decode.
	LineRejected(line string, err error)
}

// State is the router lifecycle state.
type State int32

const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures a Router.
type Option func(*Router)

// WithObserver registers an observer for diagnostic events.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithClock sets the clock used to timestamp decoded frames.
func WithClock(c timeutil.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// Router is the sole producer for every sensor queue.
type Router struct {
	src      LineSource
	registry Registry
	observer Observer
	clock    timeutil.Clock

	state   atomic.Int32
	started atomic.Bool
	err     atomic.Pointer[error]
	stats   counters
}

// New creates a router in the Running state. Call Run to start the loop.
func New(src LineSource, registry Registry, opts ...Option) *Router {
	r := &Router{
		src:      src,
		registry: registry,
		clock:    timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state.Store(int32(Running))
	return r
}

// AttachSensor registers a sensor for frames addressed to receiverID.
func (r *Router) AttachSensor(id string, receiverID uint32) (<-chan canfd.Frame, error) {
	return r.registry.Attach(id, receiverID)
}

// DetachSensor removes the named sensor and closes its queue.
func (r *Router) DetachSensor(id string) error {
	return r.registry.Detach(id)
}

// State returns the current lifecycle state.
func (r *Router) State() State {
	return State(r.state.Load())
}

// Err returns the error the router stopped with, if any.
func (r *Router) Err() error {
	if p := r.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Run reads and dispatches lines until the source ends, fails, or ctx is
// cancelled, then moves the router to Stopped. End of stream returns nil; a
// source failure returns a *TransportError; cancellation returns ctx.Err().
//
// Run may be called once. A ReadLine that is blocked when ctx is cancelled
// keeps its goroutine until the owner closes the source.
func (r *Router) Run(ctx context.Context) error {
	if r.State() == Stopped {
		return ErrStopped
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	err := r.loop(ctx)
	if err != nil {
		r.err.Store(&err)
	}
	r.state.Store(int32(Stopped))
	return err
}

func (r *Router) loop(ctx context.Context) error {
	lineChan := make(chan string)
	readErrChan := make(chan error, 1)

	// The blocking ReadLine runs on its own goroutine so the loop below can
	// also watch for cancellation.
	go func() {
		defer close(lineChan)
		for {
			if ctx.Err() != nil {
				return
			}
			line, err := r.src.ReadLine()
			if err != nil {
				readErrChan <- err
				return
			}
			select {
			case lineChan <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("router: cancelled")
			return ctx.Err()

		case line, ok := <-lineChan:
			if ok {
				r.handleLine(line)
				continue
			}
			var err error
			select {
			case err = <-readErrChan:
			default:
				// reader saw cancellation
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				monitoring.Logf("router: end of stream after %d lines", r.stats.lines.Load())
				return nil
			}
			monitoring.Logf("router: failed to read line source: %v", err)
			return &TransportError{Err: err}
		}
	}
}

func (r *Router) handleLine(line string) {
	r.stats.lines.Add(1)

	f, ok, err := canfd.Decode(line, r.clock.Now())
	if err != nil {
		r.stats.malformed.Add(1)
		monitoring.Debugf("router: format error of the received data: %v", err)
		if r.observer != nil {
			r.observer.LineRejected(line, err)
		}
		return
	}
	if !ok {
		r.stats.empty.Add(1)
		return
	}

	r.stats.decoded.Add(1)
	r.stats.payloadBytes.Add(uint64(f.Length))
	if r.observer != nil {
		r.observer.FrameDecoded(f)
	}

	if err := Classify(f); err != nil {
		r.stats.unrecognised.Add(1)
		monitoring.Debugf("router: discarding frame id %#x: %v", f.ID, err)
		if r.observer != nil {
			r.observer.FrameUnrecognised(f)
		}
		return
	}
	r.dispatch(f)
}

// dispatch pushes f into every subscription whose receiver ID matches. The
// registry snapshot is immutable so no lock is held across the pushes.
func (r *Router) dispatch(f canfd.Frame) {
	matched := false
	for _, sub := range r.registry.Snapshot() {
		if !sub.Matches(f) {
			continue
		}
		matched = true
		evicted, err := sub.Deliver(f)
		if err != nil {
			// detached after the snapshot was taken
			continue
		}
		r.stats.delivered.Add(1)
		if evicted {
			r.stats.evicted.Add(1)
		}
	}
	if !matched {
		r.stats.unrouted.Add(1)
	}
}

// Classify accepts sensor data telegrams and rejects every other message ID
// with ErrClassificationMismatch.
func Classify(f canfd.Frame) error {
	if f.IsSensorTelegram() {
		return nil
	}
	return fmt.Errorf("%w: message id %#x", ErrClassificationMismatch, f.MessageID)
}
