// Package rpmsg reads the newline-delimited CAN trace that the real-time
// co-processor writes to its RPMsg tty.
package rpmsg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/canfd.gateway/internal/monitoring"
)

// ErrClosed is returned by ReadLine once the device has been closed.
var ErrClosed = errors.New("rpmsg: device closed")

// maxLineLength bounds a single trace line. A full 64 byte frame is about
// 220 characters.
const maxLineLength = 16 * 1024

// LineReader splits a byte stream into lines with the trailing "\r\n" or
// "\n" removed. It is not safe for concurrent ReadLine calls.
type LineReader struct {
	scan *bufio.Scanner
}

// NewLineReader returns a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 1024), maxLineLength)
	return &LineReader{scan: scan}
}

// ReadLine blocks until the next line is available. It returns io.EOF at the
// end of the stream.
func (l *LineReader) ReadLine() (string, error) {
	if l.scan.Scan() {
		return strings.TrimRight(l.scan.Text(), "\r"), nil
	}
	if err := l.scan.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Device is an open trace source: the RPMsg tty or a captured trace file.
type Device struct {
	path   string
	port   io.ReadCloser
	lines  *LineReader
	closed atomic.Bool
	once   sync.Once
}

// Opener opens the serial port at path. Tests replace it.
type Opener func(path string, mode *serial.Mode) (io.ReadCloser, error)

func openSerial(path string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(path, mode)
}

// Open opens the tty at path with the given line settings.
func Open(path string, opts PortOptions) (*Device, error) {
	return OpenWith(openSerial, path, opts)
}

// OpenWith is Open with an explicit port opener.
func OpenWith(open Opener, path string, opts PortOptions) (*Device, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	monitoring.Logf("rpmsg: opened %s at %d baud", path, mode.BaudRate)
	return NewDevice(path, port), nil
}

// OpenFile opens a captured trace for replay. ReadLine returns io.EOF at the
// end of the file.
func OpenFile(path string) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	monitoring.Logf("rpmsg: replaying %s", path)
	return NewDevice(path, f), nil
}

// NewDevice wraps an already open stream.
func NewDevice(path string, port io.ReadCloser) *Device {
	return &Device{path: path, port: port, lines: NewLineReader(port)}
}

// Path returns the path the device was opened with.
func (d *Device) Path() string { return d.path }

// ReadLine returns the next trace line. After Close it returns ErrClosed,
// even if the underlying read reported something else.
func (d *Device) ReadLine() (string, error) {
	if d.closed.Load() {
		return "", ErrClosed
	}
	line, err := d.lines.ReadLine()
	if err != nil && d.closed.Load() {
		return "", ErrClosed
	}
	return line, err
}

// Close closes the underlying stream, unblocking a pending ReadLine. It is
// safe to call more than once.
func (d *Device) Close() error {
	var err error
	d.once.Do(func() {
		d.closed.Store(true)
		err = d.port.Close()
	})
	return err
}
