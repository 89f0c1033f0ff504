package event

import (
	"encoding/json"
	"fmt"
)

// PayloadVersion is the current payload envelope version written on append.
const PayloadVersion uint32 = 1

// Envelope wraps event payload bytes with a format version so payload shapes
// can evolve without rewriting stored events.
type Envelope struct {
	Version uint32          `json:"v"`
	Data    json.RawMessage `json:"data"`
}

// MarshalPayload encodes data into a versioned payload envelope.
func MarshalPayload(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload data: %w", err)
	}
	payload, err := json.Marshal(Envelope{Version: PayloadVersion, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal payload envelope: %w", err)
	}
	return payload, nil
}

// UnmarshalPayload decodes a versioned payload envelope and returns it.
func UnmarshalPayload(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal payload envelope: %w", err)
	}
	if envelope.Version == 0 {
		return Envelope{}, fmt.Errorf("payload envelope version is missing")
	}
	return envelope, nil
}

// DecodePayload decodes the payload envelope and unmarshals its data into
// target. Callers branch on Envelope.Version before decoding when older
// payload shapes are still in the log.
func DecodePayload(payload []byte, target any) (uint32, error) {
	envelope, err := UnmarshalPayload(payload)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return 0, fmt.Errorf("unmarshal payload data: %w", err)
	}
	return envelope.Version, nil
}
