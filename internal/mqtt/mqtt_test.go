package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/experience-degrader/internal/clock"
	"github.com/sweeney/experience-degrader/internal/engine"
	"github.com/sweeney/experience-degrader/internal/logic"
)

var t0 = time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)

func TestTopics(t *testing.T) {
	if Topic != "experience/degradation/events" {
		t.Errorf("unexpected topic: %s", Topic)
	}
	if TopicSystem != "experience/degradation/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
	if TopicState != "experience/degradation/state" {
		t.Errorf("unexpected state topic: %s", TopicState)
	}
}

func TestFormatPayloadScrollLoop(t *testing.T) {
	event := logic.Event{
		Timestamp: t0,
		Type:      logic.EventScrollLoop,
		Level:     0.035,
		Phase:     logic.PhasePristine,
		Loops:     1,
		Source:    logic.LoopFromScroll,
		Total:     1,
	}

	payload, err := FormatPayload("sess-1", event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"degradation":{"timestamp":"2026-02-10T08:30:00Z","session":"sess-1","event":"SCROLL_LOOP","phase":"pristine","level":0.035,"scroll_loops":1,"loops":1,"source":"scroll"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadPhaseTransition(t *testing.T) {
	event := logic.Event{
		Timestamp:  t0,
		Type:       logic.EventPhaseTransition,
		Level:      0.5,
		Phase:      logic.PhaseChaotic,
		From:       logic.PhasePristine,
		To:         logic.PhaseChaotic,
		Transition: 3,
		Message:    "hold on",
		Total:      40,
	}

	payload, err := FormatPayload("sess-1", event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	d := parsed.Degradation
	if d.Event != "PHASE_TRANSITION" || d.From != "pristine" || d.To != "chaotic" {
		t.Errorf("unexpected transition fields: %+v", d)
	}
	if d.Transition != 3 || d.Message != "hold on" || d.ScrollLoops != 40 {
		t.Errorf("unexpected detail fields: %+v", d)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	event := logic.Event{Timestamp: time.Date(2026, 2, 10, 10, 30, 0, 0, loc), Type: logic.EventReset}

	payload, _ := FormatPayload("s", event)
	var parsed Payload
	json.Unmarshal(payload, &parsed)

	if parsed.Degradation.Timestamp != "2026-02-10T08:30:00Z" {
		t.Errorf("timestamp should be converted to UTC, got %s", parsed.Degradation.Timestamp)
	}
}

func TestFormatStatePayload(t *testing.T) {
	s := logic.InitialState()
	s.Level = 0.5
	s.Phase = logic.PhaseChaotic
	s.ScrollLoops = 40
	s.IsTransitioning = true

	payload, err := FormatStatePayload("sess-1", s, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"state":{"timestamp":"2026-02-10T08:30:00Z","session":"sess-1","phase":"chaotic","level":0.5,"percent":50,"scroll_loops":40,"time_spent_seconds":0,"interactions":0,"cycles":0,"transitioning":true}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	event := SystemEvent{
		Timestamp: t0,
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadReconnectedOmitsReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: t0, Event: "RECONNECTED"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()
	ev := logic.Event{Timestamp: t0, Type: logic.EventCycleComplete}

	if err := f.Publish("s", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := f.PublishSystem(SystemEvent{Timestamp: t0, Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("PublishSystem: %v", err)
	}
	if err := f.PublishState("s", logic.InitialState(), t0); err != nil {
		t.Fatalf("PublishState: %v", err)
	}

	if len(f.Events) != 1 || f.Events[0].Session != "s" || f.Events[0].Event.Type != logic.EventCycleComplete {
		t.Errorf("unexpected events: %+v", f.Events)
	}
	if len(f.Payloads) != 1 {
		t.Errorf("expected 1 payload, got %d", len(f.Payloads))
	}
	if len(f.SystemEvents) != 1 || !f.SystemEvents[0].Retained {
		t.Errorf("unexpected system events: %+v", f.SystemEvents)
	}
	if len(f.States) != 1 {
		t.Errorf("expected 1 state, got %d", len(f.States))
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")
	f.PublishSystemError = errors.New("broker down")

	if err := f.Publish("s", logic.Event{}); err == nil {
		t.Error("expected Publish error")
	}
	if err := f.PublishState("s", logic.State{}, t0); err == nil {
		t.Error("expected PublishState error")
	}
	if err := f.PublishSystem(SystemEvent{}); err == nil {
		t.Error("expected PublishSystem error")
	}
	if len(f.Events) != 0 || len(f.SystemEvents) != 0 || len(f.States) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish("s", logic.Event{})
	f.PublishSystem(SystemEvent{Event: "HEARTBEAT"})
	f.Close()
	f.Connected = true

	f.Reset()

	if len(f.Events) != 0 || len(f.SystemEvents) != 0 || f.Closed || f.Connected {
		t.Error("Reset should clear everything")
	}
}

func TestObserverForwardsEngineEvents(t *testing.T) {
	f := NewFakePublisher()
	fc := clock.NewFake(t0)
	e := engine.New(engine.WithClock(fc), engine.WithSeed(1), engine.WithObserver(NewObserver(f, nil)))

	e.AddDamage(40)
	fc.Advance(logic.TransitionDuration)
	e.Reset()

	got := f.EventTypes()
	want := []logic.EventType{
		logic.EventScrollLoop,
		logic.EventPhaseTransition,
		logic.EventTransitionSettled,
		logic.EventReset,
	}
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}

	// State refreshed on the transition and on reset.
	if len(f.States) != 2 {
		t.Fatalf("expected 2 retained states, got %d", len(f.States))
	}
	if f.States[0].State.Phase != logic.PhaseChaotic {
		t.Errorf("first state phase: got %s, want chaotic", f.States[0].State.Phase)
	}
	if f.States[1].State.Phase != logic.PhasePristine || f.States[1].Session != e.Session() {
		t.Errorf("reset state: %+v", f.States[1])
	}
}

func TestObserverSurvivesPublishErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")
	o := NewObserver(f, nil)

	o.Observe(engine.Update{Session: "s", Events: []logic.Event{{Type: logic.EventPhaseTransition}}})
}

// fakeToken completes immediately.
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type sentMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeClient stands in for paho.Client.
type fakeClient struct {
	mu          sync.Mutex
	open        bool
	sent        []sentMsg
	publishErr  error
	timeout     bool
	disconnects int
}

func (c *fakeClient) Connect() paho.Token { return &fakeToken{} }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr == nil && !c.timeout {
		c.sent = append(c.sent, sentMsg{topic: topic, qos: qos, retained: retained, payload: string(payload.([]byte))})
	}
	return &fakeToken{err: c.publishErr, timeout: c.timeout}
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.open = false
}

func (c *fakeClient) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.sent {
		out = append(out, m.topic)
	}
	return out
}

func newTestPublisher() (*RealPublisher, *fakeClient) {
	c := &fakeClient{}
	p := newPublisher(nil)
	p.client = c
	return p, c
}

func TestRealPublisherQoSAndRetain(t *testing.T) {
	p, c := newTestPublisher()
	c.setOpen(true)

	p.Publish("s", logic.Event{Timestamp: t0, Type: logic.EventScrollLoop})
	p.PublishState("s", logic.InitialState(), t0)
	p.PublishSystem(SystemEvent{Timestamp: t0, Event: "STARTUP", Retained: true})
	p.PublishSystem(SystemEvent{Timestamp: t0, Event: "HEARTBEAT"})

	want := []sentMsg{
		{topic: Topic, qos: 0, retained: false},
		{topic: TopicState, qos: 1, retained: true},
		{topic: TopicSystem, qos: 1, retained: true},
		{topic: TopicSystem, qos: 1, retained: false},
	}
	if len(c.sent) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(c.sent))
	}
	for i, w := range want {
		got := c.sent[i]
		if got.topic != w.topic || got.qos != w.qos || got.retained != w.retained {
			t.Errorf("message %d: got %s/%d/%v, want %s/%d/%v", i, got.topic, got.qos, got.retained, w.topic, w.qos, w.retained)
		}
	}
}

func TestRealPublisherBuffersWhileDisconnected(t *testing.T) {
	p, c := newTestPublisher()

	p.Publish("s", logic.Event{Timestamp: t0, Type: logic.EventScrollLoop})
	p.PublishState("s", logic.InitialState(), t0)
	if p.Buffered() != 2 {
		t.Fatalf("Buffered: got %d, want 2", p.Buffered())
	}
	if len(c.topics()) != 0 {
		t.Fatal("nothing should be sent while disconnected")
	}

	c.setOpen(true)
	p.onConnect()

	if p.Buffered() != 0 {
		t.Errorf("buffer should drain on connect, got %d", p.Buffered())
	}
	got := c.topics()
	if len(got) != 2 || got[0] != Topic || got[1] != TopicState {
		t.Errorf("replay order: got %v", got)
	}
}

func TestRealPublisherAnnouncesReconnect(t *testing.T) {
	p, c := newTestPublisher()
	c.setOpen(true)

	p.onConnect()
	if len(c.topics()) != 0 {
		t.Fatalf("first connect should not announce, sent %v", c.topics())
	}

	c.setOpen(false)
	p.PublishSystem(SystemEvent{Timestamp: t0, Event: "HEARTBEAT"})
	c.setOpen(true)
	p.onConnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) != 2 {
		t.Fatalf("expected replay + RECONNECTED, got %d messages", len(c.sent))
	}
	var parsed SystemPayload
	if err := json.Unmarshal([]byte(c.sent[1].payload), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != "RECONNECTED" {
		t.Errorf("expected RECONNECTED, got %s", parsed.System.Event)
	}
	if c.sent[1].retained {
		t.Error("RECONNECTED should not be retained")
	}
}

func TestRealPublisherErrors(t *testing.T) {
	p, c := newTestPublisher()
	c.setOpen(true)

	c.publishErr = errors.New("not authorized")
	if err := p.Publish("s", logic.Event{}); err == nil {
		t.Error("expected publish error")
	}

	c.publishErr = nil
	c.timeout = true
	if err := p.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestRealPublisherClose(t *testing.T) {
	p, c := newTestPublisher()
	c.setOpen(true)

	if !p.IsConnected() {
		t.Error("expected connected")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.disconnects != 1 || p.IsConnected() {
		t.Error("Close should disconnect the client")
	}
}
