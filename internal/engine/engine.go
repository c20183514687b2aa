// Package engine runs the degradation model live: it serializes mutations,
// drives the periodic time and ambient glitch ticks, schedules the deferred
// transition settles and glitch relaxations, and follows native scroll
// samples. Observers see every change in mutation order.
package engine

import (
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/experience-degrader/internal/clock"
	"github.com/sweeney/experience-degrader/internal/logic"
	"github.com/sweeney/experience-degrader/internal/viewport"
)

// Update is delivered to observers after every mutation that changed state.
type Update struct {
	Session string
	State   logic.State
	Events  []logic.Event
}

// Observer receives updates. Observers are called one at a time, in
// mutation order, without the state lock held. Observe must not call Engine
// mutators.
type Observer interface {
	Observe(u Update)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(u Update)

// Observe calls f(u).
func (f ObserverFunc) Observe(u Update) { f(u) }

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for timestamps and timers.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRand sets the randomness for ambient glitches and transition messages.
func WithRand(r logic.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithSeed seeds the engine's randomness deterministically.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithViewport sets the native scroll source followed while time tracking runs.
func WithViewport(src viewport.Source) Option {
	return func(e *Engine) { e.source = src }
}

// Engine owns the single degradation state of a running experience.
// It is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	d         *logic.Degrader
	rng       logic.Rand
	clock     clock.Clock
	logger    *zap.Logger
	observers []Observer
	session   string

	// Periodic ticks. epoch changes on every start, stop and reset so a
	// callback from an earlier run exits without re-arming.
	tracking    bool
	epoch       uint64
	tickTimer   clock.Timer
	glitchTimer clock.Timer

	// Deferred one-shots.
	settleTimer clock.Timer
	spikes      map[uint64]pendingSpike
	spikeSeq    uint64

	source viewport.Source
	native *nativeTracker

	// Updates waiting for delivery, guarded by mu.
	pending []Update
}

type pendingSpike struct {
	spike logic.Spike
	timer clock.Timer
}

// New creates an Engine in the initial state. Nothing runs until
// StartTimeTracking is called.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:   clock.Real{},
		logger:  zap.NewNop(),
		spikes:  make(map[uint64]pendingSpike),
		session: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		seed := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	e.d = logic.NewDegrader(e.rng)
	return e
}

// UpdateScroll applies a normalized scroll progress in [0,1].
func (e *Engine) UpdateScroll(progress float64) {
	e.mutate(func(now time.Time) logic.Effects {
		return e.d.UpdateScroll(progress, now)
	})
}

// AddInteraction records amount discrete interactions.
func (e *Engine) AddInteraction(amount int) {
	e.mutate(func(now time.Time) logic.Effects {
		return e.d.AddInteraction(amount, now)
	})
}

// AddDamage injects amount scroll loops with a single glitch spike.
func (e *Engine) AddDamage(amount int) {
	e.mutate(func(now time.Time) logic.Effects {
		return e.d.AddDamage(amount, now)
	})
}

// CompleteCycle records a completed cycle.
func (e *Engine) CompleteCycle() {
	e.mutate(func(now time.Time) logic.Effects {
		return e.d.CompleteCycle(now)
	})
}

// StartTimeTracking starts the one-second time tick and the ambient glitch
// tick, and follows the configured viewport source. Calling it while
// tracking is already running does nothing.
func (e *Engine) StartTimeTracking() {
	e.mu.Lock()
	if e.tracking {
		e.mu.Unlock()
		return
	}
	before := e.d.State()
	e.tracking = true
	e.epoch++
	epoch := e.epoch
	e.d.SetActive(true)
	e.tickTimer = e.clock.AfterFunc(logic.TimeTickInterval, func() { e.tick(epoch) })
	e.glitchTimer = e.clock.AfterFunc(logic.GlitchTickInterval, func() { e.glitch(epoch) })
	if e.source != nil {
		e.startNativeLocked(e.source)
	}
	e.unlockAndNotify(before, nil)

	e.logger.Info("time tracking started")
}

// StopTimeTracking stops the periodic ticks and native scroll tracking.
// Pending glitch relaxations are applied and an in-progress transition is
// settled immediately, so no deferred work touches the state afterwards.
// Safe to call when tracking is not running.
func (e *Engine) StopTimeTracking() {
	e.mu.Lock()
	nt := e.detachNativeLocked()
	before := e.d.State()
	wasTracking := e.tracking
	e.stopTicksLocked()
	e.d.SetActive(false)
	events := e.flushLocked(e.clock.Now())
	e.unlockAndNotify(before, events)
	nt.wait()

	if wasTracking {
		e.logger.Info("time tracking stopped")
	}
}

// Reset stops all tracking, cancels every deferred callback and restores
// the initial state under a new session ID.
func (e *Engine) Reset() {
	e.mu.Lock()
	nt := e.detachNativeLocked()
	before := e.d.State()
	e.stopTicksLocked()
	e.cancelDeferredLocked()
	fx := e.d.Reset(e.clock.Now())
	e.session = uuid.NewString()
	session := e.session
	e.unlockAndNotify(before, fx.Events)
	nt.wait()

	e.logger.Info("degradation reset", zap.String("session", session))
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() logic.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.d.State()
}

// Session returns the current session ID. It changes on Reset.
func (e *Engine) Session() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// mutate applies fn under the lock, schedules its deferred work and
// notifies observers.
func (e *Engine) mutate(fn func(now time.Time) logic.Effects) logic.Effects {
	e.mu.Lock()
	before := e.d.State()
	fx := fn(e.clock.Now())
	e.scheduleLocked(fx)
	e.unlockAndNotify(before, fx.Events)
	return fx
}

func (e *Engine) scheduleLocked(fx logic.Effects) {
	if fx.Settle != 0 {
		if e.settleTimer != nil {
			e.settleTimer.Stop()
		}
		n := fx.Settle
		e.settleTimer = e.clock.AfterFunc(logic.TransitionDuration, func() { e.settle(n) })
	}
	if fx.Spike != nil {
		e.spikeSeq++
		id := e.spikeSeq
		e.spikes[id] = pendingSpike{
			spike: *fx.Spike,
			timer: e.clock.AfterFunc(fx.Spike.Delay, func() { e.relax(id) }),
		}
	}
}

func (e *Engine) tick(epoch uint64) {
	e.mu.Lock()
	if !e.tracking || e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	before := e.d.State()
	fx := e.d.Tick(e.clock.Now())
	e.scheduleLocked(fx)
	e.tickTimer = e.clock.AfterFunc(logic.TimeTickInterval, func() { e.tick(epoch) })
	e.unlockAndNotify(before, fx.Events)
}

func (e *Engine) glitch(epoch uint64) {
	e.mu.Lock()
	if !e.tracking || e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	before := e.d.State()
	fx := e.d.AmbientGlitch()
	e.scheduleLocked(fx)
	e.glitchTimer = e.clock.AfterFunc(logic.GlitchTickInterval, func() { e.glitch(epoch) })
	e.unlockAndNotify(before, fx.Events)
}

func (e *Engine) settle(transition uint64) {
	e.mu.Lock()
	before := e.d.State()
	fx := e.d.Settle(transition, e.clock.Now())
	e.unlockAndNotify(before, fx.Events)
}

func (e *Engine) relax(id uint64) {
	e.mu.Lock()
	p, ok := e.spikes[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.spikes, id)
	before := e.d.State()
	e.d.Relax(p.spike)
	e.unlockAndNotify(before, nil)
}

func (e *Engine) stopTicksLocked() {
	e.tracking = false
	e.epoch++
	if e.tickTimer != nil {
		e.tickTimer.Stop()
		e.tickTimer = nil
	}
	if e.glitchTimer != nil {
		e.glitchTimer.Stop()
		e.glitchTimer = nil
	}
}

// flushLocked applies pending relaxations in scheduling order and settles
// the current transition.
func (e *Engine) flushLocked(now time.Time) []logic.Event {
	for _, id := range slices.Sorted(maps.Keys(e.spikes)) {
		p := e.spikes[id]
		p.timer.Stop()
		e.d.Relax(p.spike)
		delete(e.spikes, id)
	}

	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
	s := e.d.State()
	if !s.IsTransitioning {
		return nil
	}
	return e.d.Settle(s.Transition, now).Events
}

func (e *Engine) cancelDeferredLocked() {
	for id, p := range e.spikes {
		p.timer.Stop()
		delete(e.spikes, id)
	}
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
}

// unlockAndNotify queues an update if anything changed, releases mu and
// delivers the queue. mu is never held while waiting for observers, so a
// slow observer delays other mutators' returns but not reads or timers.
func (e *Engine) unlockAndNotify(before logic.State, events []logic.Event) {
	state := e.d.State()
	if state == before && len(events) == 0 {
		e.mu.Unlock()
		return
	}
	e.pending = append(e.pending, Update{Session: e.session, State: state, Events: events})
	e.mu.Unlock()
	e.deliver()
}

// deliver hands queued updates to the observers in mutation order. Whoever
// holds notifyMu drains the queue, so every update queued before a caller
// entered deliver has been observed by the time it returns.
func (e *Engine) deliver() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	for {
		e.mu.Lock()
		batch := e.pending
		e.pending = nil
		e.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, u := range batch {
			for _, o := range e.observers {
				o.Observe(u)
			}
		}
	}
}
