// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/experience-degrader/internal/logic"
)

// Topic is the MQTT topic for degradation events.
const Topic = "experience/degradation/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "experience/degradation/system"

// TopicState is the retained MQTT topic carrying the compact current state.
const TopicState = "experience/degradation/state"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a degradation event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(session string, event logic.Event) error

	// PublishState sends the compact current state as a retained message.
	PublishState(session string, state logic.State, at time.Time) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Degradation EventPayload `json:"degradation"`
}

// EventPayload contains the degradation event details.
type EventPayload struct {
	Timestamp   string  `json:"timestamp"`
	Session     string  `json:"session"`
	Event       string  `json:"event"`
	Phase       string  `json:"phase"`
	Level       float64 `json:"level"`
	ScrollLoops int     `json:"scroll_loops"`
	From        string  `json:"from,omitempty"`
	To          string  `json:"to,omitempty"`
	Transition  uint64  `json:"transition,omitempty"`
	Message     string  `json:"message,omitempty"`
	Loops       int     `json:"loops,omitempty"`
	Source      string  `json:"source,omitempty"`
}

// FormatPayload creates the JSON payload for a degradation event.
func FormatPayload(session string, event logic.Event) ([]byte, error) {
	payload := Payload{
		Degradation: EventPayload{
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			Session:     session,
			Event:       string(event.Type),
			Phase:       string(event.Phase),
			Level:       event.Level,
			ScrollLoops: event.Total,
			From:        string(event.From),
			To:          string(event.To),
			Transition:  event.Transition,
			Message:     event.Message,
			Loops:       event.Loops,
			Source:      string(event.Source),
		},
	}
	return json.Marshal(payload)
}

// StatePayload is the retained compact state message.
type StatePayload struct {
	State StateInner `json:"state"`
}

// StateInner contains the compact state.
type StateInner struct {
	Timestamp     string  `json:"timestamp"`
	Session       string  `json:"session"`
	Phase         string  `json:"phase"`
	Level         float64 `json:"level"`
	Percent       int     `json:"percent"`
	ScrollLoops   int     `json:"scroll_loops"`
	TimeSpent     int     `json:"time_spent_seconds"`
	Interactions  int     `json:"interactions"`
	Cycles        int     `json:"cycles"`
	Transitioning bool    `json:"transitioning"`
}

// FormatStatePayload creates the JSON payload for the retained state topic.
func FormatStatePayload(session string, s logic.State, at time.Time) ([]byte, error) {
	payload := StatePayload{
		State: StateInner{
			Timestamp:     at.UTC().Format(time.RFC3339),
			Session:       session,
			Phase:         string(s.Phase),
			Level:         s.Level,
			Percent:       int(math.Round(s.Level * 100)),
			ScrollLoops:   s.ScrollLoops,
			TimeSpent:     s.TimeSpent,
			Interactions:  s.Interactions,
			Cycles:        s.Cycles,
			Transitioning: s.IsTransitioning,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
