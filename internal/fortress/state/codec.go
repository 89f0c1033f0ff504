package state

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion identifies the snapshot blob format written by Codec. Bump it
// whenever the State shape changes incompatibly; older snapshots are then
// ignored and replay falls back to the full log.
const SchemaVersion uint32 = 1

// Codec serializes State for snapshot storage.
type Codec struct{}

// SchemaVersion reports the blob format version written by Encode.
func (Codec) SchemaVersion() uint32 { return SchemaVersion }

// Encode serializes state into a snapshot blob.
func (Codec) Encode(current any) ([]byte, error) {
	state, ok := current.(State)
	if !ok {
		return nil, fmt.Errorf("expected fortress state, got %T", current)
	}
	return json.Marshal(state)
}

// Decode restores state from a snapshot blob.
func (Codec) Decode(blob []byte) (any, error) {
	var state State
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("unmarshal fortress state: %w", err)
	}
	if state.Modules == nil {
		state.Modules = map[string]int{}
	}
	return state, nil
}
