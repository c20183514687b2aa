package mqtt

import (
	"sync"
	"time"

	"github.com/sweeney/experience-degrader/internal/logic"
)

// PublishedEvent is one event recorded by FakePublisher.
type PublishedEvent struct {
	Session string
	Event   logic.Event
}

// PublishedState is one retained state recorded by FakePublisher.
type PublishedState struct {
	Session string
	State   logic.State
	At      time.Time
}

// FakePublisher is an in-memory Publisher and ConnectionStatus.
// Recording is synchronized; read the exported fields once publishing has
// stopped, or use the accessor methods while it may still be running.
type FakePublisher struct {
	mu sync.Mutex

	// Recorded traffic, in publish order. Payloads and SystemPayloads hold
	// the formatted JSON for the entry at the same index.
	Events         []PublishedEvent
	Payloads       [][]byte
	States         []PublishedState
	SystemEvents   []SystemEvent
	SystemPayloads [][]byte

	// PublishError fails Publish and PublishState without recording.
	PublishError error
	// PublishSystemError fails PublishSystem without recording.
	PublishSystemError error

	Closed    bool
	Connected bool
}

// NewFakePublisher returns an empty, disconnected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return new(FakePublisher)
}

func (f *FakePublisher) Publish(session string, event logic.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.PublishError; err != nil {
		return err
	}

	payload, err := FormatPayload(session, event)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, PublishedEvent{Session: session, Event: event})
	f.Payloads = append(f.Payloads, payload)
	return nil
}

func (f *FakePublisher) PublishState(session string, state logic.State, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.PublishError; err != nil {
		return err
	}
	f.States = append(f.States, PublishedState{Session: session, State: state, At: at})
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.PublishSystemError; err != nil {
		return err
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// EventTypes lists the published event types in order.
func (f *FakePublisher) EventTypes() []logic.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]logic.EventType, 0, len(f.Events))
	for _, e := range f.Events {
		out = append(out, e.Event.Type)
	}
	return out
}

// SystemEventNames lists the published system event names in order.
func (f *FakePublisher) SystemEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.SystemEvents))
	for _, e := range f.SystemEvents {
		out = append(out, e.Event)
	}
	return out
}

// Reset forgets all recorded traffic and injected failures.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events, f.Payloads, f.States = nil, nil, nil
	f.SystemEvents, f.SystemPayloads = nil, nil
	f.PublishError, f.PublishSystemError = nil, nil
	f.Closed, f.Connected = false, false
}
