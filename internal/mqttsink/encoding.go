package mqttsink

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the wire form of published messages.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding maps a config value to an Encoding. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("mqttsink: unknown encoding %q (want json or msgpack)", s)
	}
}

// Marshal encodes m. msgpack payloads carry the same field names as JSON.
func (e Encoding) Marshal(m Message) ([]byte, error) {
	switch e {
	case EncodingMsgpack:
		return msgpack.Marshal(m)
	case "", EncodingJSON:
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("mqttsink: unknown encoding %q", string(e))
	}
}
