// Package event defines the immutable event envelope recorded in the save
// store and the canonical hashing that links events into a per-stream chain.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type identifies the type of a save event.
type Type string

// Character events.
const (
	// TypeCharacterCreated records the creation of a player character.
	TypeCharacterCreated Type = "character.created"
	// TypeCharacterRenamed records a character name change.
	TypeCharacterRenamed Type = "character.renamed"
)

// Inventory events.
const (
	// TypeItemAdded records an item entering the character inventory.
	TypeItemAdded Type = "item.added"
	// TypeItemRemoved records an item leaving the character inventory.
	TypeItemRemoved Type = "item.removed"
)

// Score events.
// Score mutations are non-commutative: "set" after "add" must apply last,
// which is why replay order is load-bearing.
const (
	// TypeScoreAdded records points added to the running score.
	TypeScoreAdded Type = "score.added"
	// TypeScoreSet records the score being set to an absolute value.
	TypeScoreSet Type = "score.set"
)

// Progress events.
const (
	// TypeSectorEntered records the player entering a fortress sector.
	TypeSectorEntered Type = "sector.entered"
	// TypeFortressUpgraded records a fortress module upgrade.
	TypeFortressUpgraded Type = "fortress.upgraded"
)

// Event represents an immutable entry in the append-only save log.
type Event struct {
	// StreamID is the save stream this event belongs to (one game save).
	StreamID string
	// Seq is the event sequence number within the stream (starts at 1,
	// gapless). Assigned by storage on append.
	Seq uint64
	// Type identifies the kind of event.
	Type Type
	// Payload holds versioned event data as serialized bytes.
	Payload []byte
	// RecordedAt is when the event was appended.
	RecordedAt time.Time
	// Hash is the content-addressed identity (SHA-256 truncated to 128-bit).
	// Assigned by storage on append.
	Hash string
	// PrevHash is the chain hash of the preceding event, empty at seq 1.
	// Assigned by storage on append.
	PrevHash string
	// ChainHash links this event's content hash to its predecessor's chain
	// hash. Assigned by storage on append.
	ChainHash string
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "item", "score").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// EventHash computes the content hash for a single event.
//
// The envelope covers every caller-supplied field plus the assigned sequence
// so a stored event cannot be altered without detection. Field ordering is
// fixed here and nowhere else.
func EventHash(evt Event) (string, error) {
	if strings.TrimSpace(evt.StreamID) == "" {
		return "", fmt.Errorf("stream id is required")
	}
	if !evt.Type.IsValid() {
		return "", fmt.Errorf("event type is required")
	}
	envelope := strings.Join([]string{
		evt.StreamID,
		strconv.FormatUint(evt.Seq, 10),
		string(evt.Type),
		strconv.FormatInt(evt.RecordedAt.UTC().UnixMilli(), 10),
		string(evt.Payload),
	}, "\x1f")
	return truncatedSHA256(envelope), nil
}

// ChainHash computes the hash linking an event to its predecessor. The first
// event in a stream links to the empty string.
func ChainHash(evt Event, prevHash string) (string, error) {
	contentHash := evt.Hash
	if contentHash == "" {
		computed, err := EventHash(evt)
		if err != nil {
			return "", err
		}
		contentHash = computed
	}
	return truncatedSHA256(prevHash + "\x1f" + contentHash), nil
}

func truncatedSHA256(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:16])
}
