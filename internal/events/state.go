// Package events defines the host state-change model shared by the event
// sources and the coordinator.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventTypeStateChanged is the host event type carrying entity transitions.
const EventTypeStateChanged = "state_changed"

// EntityState is a snapshot of one entity as reported by the host.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed,omitzero"`
	LastUpdated time.Time      `json:"last_updated,omitzero"`
}

// StateChangedEvent is one entity transition. OldState is nil when the
// entity was just added, NewState is nil when it was removed.
type StateChangedEvent struct {
	EntityID  string       `json:"entity_id"`
	OldState  *EntityState `json:"old_state"`
	NewState  *EntityState `json:"new_state"`
	Origin    string       `json:"origin,omitempty"`
	TimeFired time.Time    `json:"time_fired,omitzero"`
}

// ValueChanged reports whether both snapshots exist and their state values
// differ. Attribute-only updates return false.
func (e *StateChangedEvent) ValueChanged() bool {
	if e == nil || e.OldState == nil || e.NewState == nil {
		return false
	}
	return e.OldState.State != e.NewState.State
}

// Envelope is the host's generic event wrapper.
type Envelope struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// DecodeStateChanged decodes a host event envelope into a StateChangedEvent.
// Envelopes of any other event type are rejected.
func DecodeStateChanged(raw []byte) (*StateChangedEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if env.EventType != EventTypeStateChanged {
		return nil, fmt.Errorf("unexpected event type %q", env.EventType)
	}

	var ev StateChangedEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode state_changed data: %w", err)
	}
	ev.Origin = env.Origin
	ev.TimeFired = env.TimeFired
	return &ev, nil
}
