// Package socketcan turns frames from a Linux SocketCAN interface into trace
// lines, so a gateway without the RPMsg bridge can listen on can0 directly.
package socketcan

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/brutella/can"

	"github.com/banshee-data/canfd.gateway/internal/canfd"
	"github.com/banshee-data/canfd.gateway/internal/monitoring"
	"github.com/banshee-data/canfd.gateway/internal/timeutil"
)

// idMask strips the EFF/RTR/ERR flag bits the kernel keeps in can_id.
const idMask = 0x1FFFFFFF

// lineBuffer is how many rendered frames may wait for the router.
const lineBuffer = 256

// ErrClosed is returned by ReadLine once the source has been closed.
var ErrClosed = errors.New("socketcan: source closed")

// Bus is the part of *can.Bus the source uses.
type Bus interface {
	SubscribeFunc(fn can.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
}

// Source renders received frames in the line format read by canfd.Decode.
type Source struct {
	bus   Bus
	clock timeutil.Clock
	start time.Time

	lines chan string
	done  chan struct{}
	err   error

	startOnce sync.Once
	closeOnce sync.Once
	closeMu   sync.Mutex
	closed    bool
}

// Open binds a source to the named interface, for example "can0".
func Open(iface string) (*Source, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan: open %s: %w", iface, err)
	}
	monitoring.Logf("socketcan: bound to %s", iface)
	return NewSource(bus, timeutil.RealClock{}), nil
}

// NewSource wraps bus. Frames are not read until the first ReadLine.
func NewSource(bus Bus, clock timeutil.Clock) *Source {
	s := &Source{
		bus:   bus,
		clock: clock,
		lines: make(chan string, lineBuffer),
		done:  make(chan struct{}),
	}
	bus.SubscribeFunc(s.handle)
	return s
}

func (s *Source) run() {
	s.start = s.clock.Now()
	go func() {
		err := s.bus.ConnectAndPublish()
		s.closeMu.Lock()
		switch {
		case s.closed:
			s.err = ErrClosed
		case err == nil:
			s.err = io.EOF
		default:
			s.err = err
		}
		s.closeMu.Unlock()
		close(s.done)
	}()
}

// handle runs on the bus read loop. It blocks while the line buffer is full
// so frames are never dropped before the router has seen them.
func (s *Source) handle(frm can.Frame) {
	n := int(frm.Length)
	if n > len(frm.Data) {
		n = len(frm.Data)
	}
	line := canfd.FormatLine(s.clock.Since(s.start), frm.ID&idMask, frm.Data[:n])
	select {
	case s.lines <- line:
	case <-s.done:
	}
}

// ReadLine returns the next rendered frame. It returns io.EOF when the bus
// disconnects cleanly, ErrClosed after Close, or the bus error otherwise.
func (s *Source) ReadLine() (string, error) {
	s.startOnce.Do(s.run)
	select {
	case line := <-s.lines:
		return line, nil
	case <-s.done:
		// lines delivered before the bus went away still count
		select {
		case line := <-s.lines:
			return line, nil
		default:
		}
		return "", s.err
	}
}

// Close disconnects the bus and unblocks ReadLine.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()
		s.startOnce.Do(func() {
			s.err = ErrClosed
			close(s.done)
		})
		err = s.bus.Disconnect()
	})
	return err
}
