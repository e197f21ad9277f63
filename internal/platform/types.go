package platform

import (
	"encoding/json"
	"time"
)

// EntityState is one entity as reported by the platform's state API.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// ServiceField describes one field a service accepts.
type ServiceField struct {
	Required    bool           `json:"required"`
	Description string         `json:"description"`
	Example     any            `json:"example"`
	Selector    map[string]any `json:"selector"`
}

// ServiceDef describes one callable service within a domain.
type ServiceDef struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Fields      map[string]ServiceField `json:"fields"`
	Target      map[string]any          `json:"target"`
}

// ServiceDomain groups the services of one domain.
//
// The platform's /api/services endpoint has two wire shapes: a list of
// {domain, services} objects and a plain map of domain to services. The
// client normalizes both into this type.
type ServiceDomain struct {
	Domain   string                `json:"domain"`
	Services map[string]ServiceDef `json:"services"`
}

// InstanceInfo is the platform metadata from /api/config.
type InstanceInfo struct {
	Version      string `json:"version"`
	LocationName string `json:"location_name"`
	TimeZone     string `json:"time_zone"`
	State        string `json:"state"`
}

// Event is one inbound event from the stream.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChange is the payload of a state_changed event.
type StateChange struct {
	EntityID string       `json:"entity_id"`
	OldState *EntityState `json:"old_state"`
	NewState *EntityState `json:"new_state"`
}

// DecodeStateChange extracts the state-change payload from an event.
// Returns false if the event is not a state_changed event.
func DecodeStateChange(ev Event) (StateChange, bool) {
	if ev.EventType != "state_changed" {
		return StateChange{}, false
	}
	var sc StateChange
	if err := json.Unmarshal(ev.Data, &sc); err != nil {
		return StateChange{}, false
	}
	return sc, true
}

// EventHandler is the callback signature for inbound stream events.
//
// Handlers run on the stream client's receive goroutine and must not block
// for extended periods; hand heavy work to another goroutine.
type EventHandler func(ev Event)
