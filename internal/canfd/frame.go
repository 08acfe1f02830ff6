// Package canfd decodes the textual CAN-FD frame lines emitted by the
// co-processor over its RPMsg channel and splits the arbitration ID into the
// receiver/message/sender addressing sub-fields used by the sensor network.
package canfd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxPayload is the largest CAN-FD data field.
const MaxPayload = 64

// MessageIDSensorData is the message ID of the "sensor data telegram". It is
// the only classification the gateway fans out to sensors.
const MessageIDSensorData = 0x0010

// Arbitration ID sub-field layout. This is a gateway addressing convention
// layered over the raw ID, not part of CAN itself.
const (
	receiverMask = 0x000F // bits 0..3
	messageMask  = 0x01F0 // bits 4..8
	messageShift = 4
	senderMask   = 0x0300 // shifted by 9, so only bit 9 survives
	senderShift  = 9

	maxStdID = 0x7FF
)

// Wire line field positions (space separated, 0-indexed).
const (
	idField      = 3
	lengthField  = 5
	payloadField = 6
)

// ErrMalformed is matched (via errors.Is) by every decode failure.
var ErrMalformed = errors.New("canfd: malformed frame line")

// DecodeError describes which field of a line could not be decoded.
type DecodeError struct {
	Field string
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("canfd: malformed %s field: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("canfd: malformed %s field %q: %v", e.Field, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports every DecodeError as ErrMalformed.
func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

var errMissing = errors.New("field missing")

// Frame is one decoded CAN-FD message. Only the first Length bytes of Payload
// are valid. Frames are values: each decoded frame owns its payload buffer.
type Frame struct {
	ID         uint32
	ReceiverID uint32
	MessageID  uint32
	SenderID   uint32
	Length     int
	Payload    [MaxPayload]byte
	// Timestamp is the local receipt time; the offset field on the wire is
	// not trusted.
	Timestamp time.Time
}

// Data returns the valid payload prefix.
func (f Frame) Data() []byte {
	return f.Payload[:f.Length:f.Length]
}

// Extended reports whether the raw ID needs the 29-bit extended format.
func (f Frame) Extended() bool {
	return f.ID > maxStdID
}

// IsSensorTelegram reports whether the frame is a sensor data telegram.
func (f Frame) IsSensorTelegram() bool {
	return f.MessageID == MessageIDSensorData
}

// Split extracts the receiver, message and sender sub-fields of a raw ID.
func Split(id uint32) (receiver, message, sender uint32) {
	return id & receiverMask, (id & messageMask) >> messageShift, (id & senderMask) >> senderShift
}

// Decode parses one wire line. An empty (or whitespace only) line yields
// ok == false and a nil error: there is nothing to route. Any other problem is
// reported as a *DecodeError matching ErrMalformed.
//
// now is stamped into the frame as its receipt time.
func Decode(line string, now time.Time) (Frame, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Frame{}, false, nil
	}

	var f Frame
	if len(fields) <= idField {
		return Frame{}, false, &DecodeError{Field: "id", Err: errMissing}
	}
	id, err := strconv.ParseUint(fields[idField], 16, 32)
	if err != nil {
		return Frame{}, false, &DecodeError{Field: "id", Value: fields[idField], Err: err}
	}
	f.ID = uint32(id)
	f.ReceiverID, f.MessageID, f.SenderID = Split(f.ID)

	if len(fields) <= lengthField {
		return Frame{}, false, &DecodeError{Field: "length", Err: errMissing}
	}
	n, err := strconv.Atoi(fields[lengthField])
	if err != nil {
		return Frame{}, false, &DecodeError{Field: "length", Value: fields[lengthField], Err: err}
	}
	if n < 0 || n > MaxPayload {
		return Frame{}, false, &DecodeError{
			Field: "length",
			Value: fields[lengthField],
			Err:   fmt.Errorf("out of range 0..%d", MaxPayload),
		}
	}
	if len(fields) < payloadField+n {
		return Frame{}, false, &DecodeError{
			Field: "payload",
			Err:   fmt.Errorf("length %d needs %d byte fields, have %d", n, n, len(fields)-payloadField),
		}
	}
	for i := 0; i < n; i++ {
		b, err := strconv.ParseUint(fields[payloadField+i], 16, 8)
		if err != nil {
			return Frame{}, false, &DecodeError{
				Field: fmt.Sprintf("payload[%d]", i),
				Value: fields[payloadField+i],
				Err:   err,
			}
		}
		f.Payload[i] = byte(b)
	}
	f.Length = n
	f.Timestamp = now
	return f, true, nil
}

// FormatLine renders a frame in the wire line format. Fields 1, 2 and 4 are
// not interpreted by the decoder and are written as zero; field 0 carries the
// capture offset in microseconds.
func FormatLine(offset time.Duration, id uint32, data []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d 0 0 %X 0 %d", offset.Microseconds(), id, len(data))
	for _, d := range data {
		fmt.Fprintf(&b, " %02X", d)
	}
	return b.String()
}
