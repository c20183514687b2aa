// Package logic contains the pure degradation model: state, level formula,
// phase thresholds, smoothed visual parameters and scroll loop detection.
// This package does no I/O and starts no goroutines or timers.
// Time is always injectable via time.Time parameters; randomness via Rand.
package logic

import "time"

// Phase is the discrete bucket of the degradation level.
type Phase string

const (
	PhasePristine  Phase = "pristine"
	PhaseGlitching Phase = "glitching"
	PhaseUnstable  Phase = "unstable"
	PhaseChaotic   Phase = "chaotic"
	PhaseBroken    Phase = "broken"
)

// Direction is the last observed scroll direction.
type Direction string

const (
	DirectionNone Direction = "none"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// EventType identifies something observers may want to publish.
type EventType string

const (
	EventPhaseTransition   EventType = "PHASE_TRANSITION"
	EventTransitionSettled EventType = "TRANSITION_SETTLED"
	EventScrollLoop        EventType = "SCROLL_LOOP"
	EventScrollReset       EventType = "SCROLL_RESET"
	EventCycleComplete     EventType = "CYCLE_COMPLETE"
	EventReset             EventType = "RESET"
)

// LoopSource says which input path registered a scroll loop.
type LoopSource string

const (
	LoopFromScroll LoopSource = "scroll"
	LoopFromNative LoopSource = "native"
	LoopFromDamage LoopSource = "damage"
)

// State is the full degradation state. It is a value type; copies are
// independent of the Degrader that produced them.
type State struct {
	Level float64
	Phase Phase

	ScrollProgress      float64
	LastScrollProgress  float64
	ScrollDirection     Direction
	TotalScrollDistance float64
	ScrollLoops         int

	TimeSpent    int // seconds
	Interactions int
	Cycles       int

	IsTransitioning   bool
	TransitionFrom    Phase // "" when not transitioning
	TransitionTo      Phase
	Transition        uint64 // number of the latest transition, 0 before the first
	TransitionMessage string

	GlitchIntensity float64
	RotationChaos   float64
	ColorShift      float64
	TextCorruption  float64

	IsActive       bool
	LastDamageTime time.Time
}

// InitialState returns the state a fresh engine starts from.
func InitialState() State {
	return State{
		Phase:           PhasePristine,
		ScrollDirection: DirectionNone,
	}
}

// Event describes a notable change produced by a mutation.
type Event struct {
	Timestamp  time.Time
	Type       EventType
	Level      float64
	Phase      Phase
	From       Phase
	To         Phase
	Transition uint64
	Message    string
	Loops      int        // loops added (SCROLL_LOOP only)
	Source     LoopSource // SCROLL_LOOP only
	Total      int        // ScrollLoops after the event
}

// SpikeKind distinguishes the two transient glitch boosts.
type SpikeKind string

const (
	SpikeDamage  SpikeKind = "damage"
	SpikeAmbient SpikeKind = "ambient"
)

// Spike is a transient glitch boost that must be relaxed later.
type Spike struct {
	Kind     SpikeKind
	Original float64 // glitch intensity before the boost
	Delay    time.Duration
}

// Effects lists what a mutation produced and what its caller has to schedule.
type Effects struct {
	Events []Event

	// Settle, if non-zero, is the transition number whose flags must be
	// cleared after TransitionDuration.
	Settle uint64

	// Spike, if set, must be passed to Relax after Spike.Delay.
	Spike *Spike

	// ScrollTop asks the native scroll source to move the viewport to the top.
	ScrollTop bool
}

// Viewport is one native scroll sample in pixels.
type Viewport struct {
	ScrollY      float64
	ScrollHeight float64
	InnerHeight  float64
}

// Rand is the randomness the model needs. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}
