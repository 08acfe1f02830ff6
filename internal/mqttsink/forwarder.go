package mqttsink

import (
	"context"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/canfd.gateway/internal/canfd"
	"github.com/banshee-data/canfd.gateway/internal/monitoring"
)

// DefaultTopicPrefix is prepended to the sensor id to form the topic.
const DefaultTopicPrefix = "canfd/sensor"

// Publisher sends one message. *Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Message is the body published for each frame.
type Message struct {
	Sensor     string    `json:"sensor" msgpack:"sensor"`
	CanID      uint32    `json:"can_id" msgpack:"can_id"`
	Extended   bool      `json:"extended" msgpack:"extended"`
	ReceiverID uint32    `json:"receiver_id" msgpack:"receiver_id"`
	MessageID  uint32    `json:"message_id" msgpack:"message_id"`
	SenderID   uint32    `json:"sender_id" msgpack:"sender_id"`
	Length     int       `json:"length" msgpack:"length"`
	Data       string    `json:"data" msgpack:"data"`
	Timestamp  time.Time `json:"timestamp" msgpack:"timestamp"`
}

// NewMessage builds the published form of f.
func NewMessage(sensorID string, f canfd.Frame) Message {
	return Message{
		Sensor:     sensorID,
		CanID:      f.ID,
		Extended:   f.Extended(),
		ReceiverID: f.ReceiverID,
		MessageID:  f.MessageID,
		SenderID:   f.SenderID,
		Length:     f.Length,
		Data:       strings.ToUpper(hex.EncodeToString(f.Data())),
		Timestamp:  f.Timestamp,
	}
}

// Forwarder drains sensor queues into a Publisher.
type Forwarder struct {
	pub      Publisher
	prefix   string
	encoding Encoding

	published atomic.Uint64
	failed    atomic.Uint64
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithEncoding sets the payload encoding. The default is JSON.
func WithEncoding(e Encoding) ForwarderOption {
	return func(f *Forwarder) { f.encoding = e }
}

// NewForwarder returns a forwarder publishing under prefix. An empty prefix
// uses DefaultTopicPrefix.
func NewForwarder(pub Publisher, prefix string, opts ...ForwarderOption) *Forwarder {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	f := &Forwarder{pub: pub, prefix: prefix, encoding: EncodingJSON}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Topic returns the topic frames for sensorID are published on.
func (f *Forwarder) Topic(sensorID string) string {
	return f.prefix + "/" + sensorID
}

// Run publishes every frame read from frames until the queue is closed,
// which returns nil, or ctx is done. Publish failures are logged and the
// frame is dropped.
func (f *Forwarder) Run(ctx context.Context, sensorID string, frames <-chan canfd.Frame) error {
	topic := f.Topic(sensorID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				monitoring.Logf("mqttsink: queue for sensor %s closed", sensorID)
				return nil
			}
			payload, err := f.encoding.Marshal(NewMessage(sensorID, frame))
			if err != nil {
				f.failed.Add(1)
				monitoring.Logf("mqttsink: failed to encode frame for %s: %v", sensorID, err)
				continue
			}
			if err := f.pub.Publish(topic, payload); err != nil {
				f.failed.Add(1)
				monitoring.Logf("mqttsink: failed to publish to %s: %v", topic, err)
				continue
			}
			f.published.Add(1)
		}
	}
}

// Published returns the number of frames handed to the broker.
func (f *Forwarder) Published() uint64 { return f.published.Load() }

// Failed returns the number of frames that could not be published.
func (f *Forwarder) Failed() uint64 { return f.failed.Load() }
