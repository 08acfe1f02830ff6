package rpmsg

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

var errMockClosed = errors.New("rpmsg: mock tty closed")

// TestableTTY is an in-memory io.ReadCloser standing in for the RPMsg tty.
// With BlockReads set, Read waits for AddLines or Close instead of returning
// io.EOF on an empty buffer.
type TestableTTY struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  bytes.Buffer

	// BlockReads makes an empty buffer block rather than report io.EOF.
	BlockReads bool
	// ReadError is returned once by the next Read if set.
	ReadError error
	// CloseError is returned by Close if set.
	CloseError error

	Closed    bool
	ReadCalls int
}

// NewTestableTTY returns a TestableTTY preloaded with lines.
func NewTestableTTY(lines ...string) *TestableTTY {
	t := &TestableTTY{}
	t.cond = sync.NewCond(&t.mu)
	t.AddLines(lines...)
	return t
}

// AddLines appends newline-terminated lines and wakes a blocked reader.
func (t *TestableTTY) AddLines(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range lines {
		t.buf.WriteString(l)
		if !strings.HasSuffix(l, "\n") {
			t.buf.WriteByte('\n')
		}
	}
	t.cond.Broadcast()
}

// FailNextRead makes the next Read return err and wakes a blocked reader.
func (t *TestableTTY) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
	t.cond.Broadcast()
}

func (t *TestableTTY) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	for t.BlockReads && !t.Closed && t.ReadError == nil && t.buf.Len() == 0 {
		t.cond.Wait()
	}
	if t.Closed {
		return 0, errMockClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.buf.Len() == 0 {
		return 0, io.EOF
	}
	return t.buf.Read(p)
}

// Close marks the tty closed and wakes blocked readers.
func (t *TestableTTY) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.cond.Broadcast()
	return t.CloseError
}

// MockOpener records Open calls and hands out a fixed port.
type MockOpener struct {
	mu sync.Mutex

	Port  io.ReadCloser
	Error error
	Calls []MockOpenCall
}

// MockOpenCall records the arguments of one Open call.
type MockOpenCall struct {
	Path string
	Mode serial.Mode
}

// Open implements Opener.
func (m *MockOpener) Open(path string, mode *serial.Mode) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockOpenCall{Path: path, Mode: *mode})
	if m.Error != nil {
		return nil, m.Error
	}
	return m.Port, nil
}
