// Package state holds the game-side fold: the reducer and codec that turn a
// save stream into playable fortress state. The store never imports this
// package; game logic hands the reducer in at replay time.
package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shawndeggans/space-fortress/internal/savegame/event"
)

// State is the materialized view of one save stream.
type State struct {
	// Character is the player character name, empty until created.
	Character string `json:"character"`
	// Inventory holds item names in sorted order.
	Inventory []string `json:"inventory"`
	// Score is the running score.
	Score int64 `json:"score"`
	// Sector is the last fortress sector the player entered.
	Sector string `json:"sector"`
	// Modules maps fortress module names to their upgrade level.
	Modules map[string]int `json:"modules"`
}

// HasItem reports whether the inventory contains the item.
func (s State) HasItem(item string) bool {
	for _, held := range s.Inventory {
		if held == item {
			return true
		}
	}
	return false
}

// CharacterPayload carries character lifecycle event data.
type CharacterPayload struct {
	Name string `json:"name"`
}

// ItemPayload carries inventory event data.
type ItemPayload struct {
	Item string `json:"item"`
}

// ScorePayload carries score event data. Points is used by score.added,
// Score by score.set.
type ScorePayload struct {
	Points int64 `json:"points,omitempty"`
	Score  int64 `json:"score,omitempty"`
}

// SectorPayload carries progress event data.
type SectorPayload struct {
	Sector string `json:"sector"`
}

// UpgradePayload carries fortress upgrade event data.
type UpgradePayload struct {
	Module string `json:"module"`
	Level  int    `json:"level"`
}

// Reducer folds save events into State. It rejects transitions that no valid
// play session can produce; a rejection aborts the replay so corruption never
// masquerades as game state.
type Reducer struct{}

// Zero returns the state an empty stream folds from.
func (Reducer) Zero() any {
	return State{Modules: map[string]int{}}
}

// Apply folds one event into state.
func (Reducer) Apply(current any, evt event.Event) (any, error) {
	state := current.(State)
	switch evt.Type {
	case event.TypeCharacterCreated:
		var payload CharacterPayload
		if _, err := event.DecodePayload(evt.Payload, &payload); err != nil {
			return nil, err
		}
		if state.Character != "" {
			return nil, fmt.Errorf("character already created")
		}
		if strings.TrimSpace(payload.Name) == "" {
			return nil, fmt.Errorf("character name is required")
		}
		state.Character = payload.Name

	case event.TypeCharacterRenamed:
		var payload CharacterPayload
		if _, err := event.DecodePayload(evt.Payload, &payload); err != nil {
			return nil, err
		}
		if state.Character == "" {
			return nil, fmt.Errorf("cannot rename before character creation")
		}
		if strings.TrimSpace(payload.Name) == "" {
			return nil, fmt.Errorf("character name is required")
		}
		state.Character = payload.Name

	case event.TypeItemAdded:
		var payload ItemPayload
		if _, err := event.DecodePayload(evt.Payload, &payload); err != nil {
			return nil, err
		}
		if payload.Item == "" {
			return nil, fmt.Errorf("item name is required")
		}
		state.Inventory = insertSorted(state.Inventory, payload.Item)

	case event.TypeItemRemoved:
		var payload ItemPayload
		if _, err := event.DecodePayload(evt.Payload, &payload); err != nil {
			return nil, err
		}
		if !state.HasItem(payload.Item) {
			return nil, fmt.Errorf("item %q is not in the inventory", payload.Item)
		}
		state.Inventory = removeItem(state.Inventory, payload.Item)

	case event.TypeScoreAdded:
		var payload ScorePayload
		if _, err := event.DecodePayload(evt.Payload, &payload); err != nil {
			return nil, err
		}
		state.Score += payload.Points

	case event.TypeScoreSet:
		var payload ScorePayload
		if _, err := event.DecodePayload(evt.Payload, &payload); err != nil {
			return nil, err
		}
		state.Score = payload.Score

	case event.TypeSectorEntered:
		var payload SectorPayload
		if _, err := event.DecodePayload(evt.Payload, &payload); err != nil {
			return nil, err
		}
		if payload.Sector == "" {
			return nil, fmt.Errorf("sector name is required")
		}
		state.Sector = payload.Sector

	case event.TypeFortressUpgraded:
		var payload UpgradePayload
		if _, err := event.DecodePayload(evt.Payload, &payload); err != nil {
			return nil, err
		}
		if payload.Module == "" {
			return nil, fmt.Errorf("module name is required")
		}
		if payload.Level <= state.Modules[payload.Module] {
			return nil, fmt.Errorf("module %q cannot downgrade to level %d", payload.Module, payload.Level)
		}
		modules := make(map[string]int, len(state.Modules)+1)
		for name, level := range state.Modules {
			modules[name] = level
		}
		modules[payload.Module] = payload.Level
		state.Modules = modules

	default:
		return nil, fmt.Errorf("unknown event type %q", evt.Type)
	}
	return state, nil
}

func insertSorted(items []string, item string) []string {
	next := make([]string, 0, len(items)+1)
	next = append(next, items...)
	next = append(next, item)
	sort.Strings(next)
	return next
}

func removeItem(items []string, item string) []string {
	next := make([]string, 0, len(items))
	removed := false
	for _, held := range items {
		if !removed && held == item {
			removed = true
			continue
		}
		next = append(next, held)
	}
	return next
}
