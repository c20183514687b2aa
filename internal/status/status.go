// Package status provides a thread-safe status tracker for the
// experience-degrader daemon. It is read by the HTTP handlers and the
// MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/experience-degrader/internal/engine"
	"github.com/sweeney/experience-degrader/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	HTTPAddr     string
	Broker       string
	HeartbeatMs  int64
	NativeScroll bool
	JournalPath  string // empty = journal disabled
	AutoStart    bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State           logic.State
	Session         string
	StartTime       time.Time
	Now             time.Time
	MQTTConnected   bool
	ViewportClients int
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     logic.InitialState(),
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the engine state and session.
func (t *Tracker) Update(session string, s logic.State) {
	t.mu.Lock()
	t.snap.Session = session
	t.snap.State = s
	t.mu.Unlock()
}

// Observe implements engine.Observer.
func (t *Tracker) Observe(u engine.Update) {
	t.Update(u.Session, u.State)
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetViewportClients sets the number of pages streaming viewport samples.
func (t *Tracker) SetViewportClients(n int) {
	t.mu.Lock()
	t.snap.ViewportClients = n
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
