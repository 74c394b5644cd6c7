package transport

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a Message into its self-describing wire form. The
// reference transports (Loopback, UDP) use JSON; the interface contract
// only requires that RequestID round-trips, so alternative transports may
// swap in any codec that preserves it.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a Message previously produced by Encode.
func Decode(data []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
