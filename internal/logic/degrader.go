package logic

import (
	"math"
	"time"
)

// Scroll loop detection parameters.
const (
	scrollNoiseFloor     = 0.002
	scrollDistanceScale  = 1000
	scrollChangesPerLoop = 2

	nativeNoisePx        = 10
	nativeDistanceScale  = 0.05
	nativeChangesPerLoop = 3
	bottomLoopProgress   = 0.98
)

// Transient glitch boosts.
const (
	damageBoost      = 0.15
	damageBoostCap   = 0.7
	damageRelaxFloor = 0.1
	damageRelaxDecay = 0.8

	ambientMinLevel    = 0.1
	ambientProbability = 0.4
	ambientBoost       = 0.25
	ambientRelaxDecay  = 0.7
)

// Degrader owns a State and applies every mutation to it, recomputing the
// level, phase and smoothed parameters before returning.
// Not safe for concurrent use; callers must synchronize.
type Degrader struct {
	state State
	rng   Rand

	// Direction tracking shared by both scroll input paths.
	lastDirection    Direction
	directionChanges int
	lastScrollY      float64

	// transitions numbers transitions across resets so a stale settle
	// never matches a newer transition.
	transitions uint64
}

// NewDegrader creates a Degrader in the initial state.
func NewDegrader(rng Rand) *Degrader {
	return &Degrader{
		state:         InitialState(),
		rng:           rng,
		lastDirection: DirectionNone,
	}
}

// State returns a copy of the current state.
func (d *Degrader) State() State {
	return d.state
}

// UpdateScroll applies a normalized scroll progress sample.
// Samples closer than the noise floor to the last accepted one are ignored.
func (d *Degrader) UpdateScroll(progress float64, now time.Time) Effects {
	progress = clamp01(progress)
	delta := progress - d.state.ScrollProgress
	if math.Abs(delta) < scrollNoiseFloor {
		return Effects{}
	}

	var fx Effects
	d.state.TotalScrollDistance += math.Abs(delta) * scrollDistanceScale

	dir := directionOf(delta)
	if d.countDirectionChange(dir, scrollChangesPerLoop) {
		d.registerLoops(1, LoopFromScroll, now, &fx)
	}
	d.state.ScrollDirection = dir
	d.state.LastScrollProgress = d.state.ScrollProgress
	d.state.ScrollProgress = progress

	d.recalculate(now, &fx)
	return d.finish(fx)
}

// ObserveViewport applies a native viewport sample in pixels.
// Reaching the bottom while still moving down counts as a loop and asks the
// caller to move the viewport back to the top.
func (d *Degrader) ObserveViewport(v Viewport, now time.Time) Effects {
	maxScroll := v.ScrollHeight - v.InnerHeight
	if maxScroll <= 0 {
		return Effects{}
	}

	progress := clamp01(v.ScrollY / maxScroll)
	delta := v.ScrollY - d.lastScrollY

	var fx Effects
	if progress >= bottomLoopProgress && delta > 0 {
		d.registerLoops(1, LoopFromNative, now, &fx)
		fx.ScrollTop = true
		fx.Events = append(fx.Events, Event{Timestamp: now, Type: EventScrollReset})
		d.lastScrollY = 0
		d.lastDirection = DirectionNone
		d.directionChanges = 0
		d.recalculate(now, &fx)
		return d.finish(fx)
	}

	d.state.TotalScrollDistance += math.Abs(delta) * nativeDistanceScale

	if math.Abs(delta) > nativeNoisePx {
		dir := directionOf(delta)
		if d.countDirectionChange(dir, nativeChangesPerLoop) {
			d.registerLoops(1, LoopFromNative, now, &fx)
		}
		d.state.ScrollDirection = dir
	}

	d.lastScrollY = v.ScrollY
	d.state.LastScrollProgress = d.state.ScrollProgress
	d.state.ScrollProgress = progress

	d.recalculate(now, &fx)
	return d.finish(fx)
}

// AddInteraction records discrete interactions. Non-positive amounts are ignored.
func (d *Degrader) AddInteraction(amount int, now time.Time) Effects {
	if amount <= 0 {
		return Effects{}
	}
	var fx Effects
	d.state.Interactions += amount
	d.recalculate(now, &fx)
	return d.finish(fx)
}

// AddDamage injects scroll loops directly. A single glitch spike fires
// regardless of amount. Non-positive amounts are ignored.
func (d *Degrader) AddDamage(amount int, now time.Time) Effects {
	if amount <= 0 {
		return Effects{}
	}
	var fx Effects
	d.registerLoops(amount, LoopFromDamage, now, &fx)
	d.recalculate(now, &fx)
	return d.finish(fx)
}

// CompleteCycle records one completed cycle.
func (d *Degrader) CompleteCycle(now time.Time) Effects {
	var fx Effects
	d.state.Cycles++
	fx.Events = append(fx.Events, Event{Timestamp: now, Type: EventCycleComplete})
	d.recalculate(now, &fx)
	return d.finish(fx)
}

// Tick accounts for one elapsed second of tracked time.
func (d *Degrader) Tick(now time.Time) Effects {
	var fx Effects
	d.state.TimeSpent++
	d.recalculate(now, &fx)
	return d.finish(fx)
}

// AmbientGlitch rolls for a random glitch spike. The chance grows with the
// level; below ambientMinLevel nothing happens and no randomness is consumed.
func (d *Degrader) AmbientGlitch() Effects {
	if d.state.Level <= ambientMinLevel || d.rng == nil {
		return Effects{}
	}
	if d.rng.Float64() >= d.state.Level*ambientProbability {
		return Effects{}
	}

	original := d.state.GlitchIntensity
	d.state.GlitchIntensity = math.Min(original+ambientBoost, 1)
	jitter := time.Duration(d.rng.Float64()*ambientRelaxJitterMs) * time.Millisecond
	return Effects{Spike: &Spike{
		Kind:     SpikeAmbient,
		Original: original,
		Delay:    ambientRelaxMin + jitter,
	}}
}

// Relax undoes part of a spike once its delay has elapsed.
func (d *Degrader) Relax(s Spike) {
	g := d.state.GlitchIntensity
	switch s.Kind {
	case SpikeDamage:
		g = math.Max(s.Original+damageRelaxFloor, g*damageRelaxDecay)
	case SpikeAmbient:
		g = math.Max(s.Original, g*ambientRelaxDecay)
	}
	d.state.GlitchIntensity = clamp01(g)
}

// Settle clears the transition flags if transition is still the current one.
func (d *Degrader) Settle(transition uint64, now time.Time) Effects {
	if !d.state.IsTransitioning || d.state.Transition != transition {
		return Effects{}
	}
	from, to := d.state.TransitionFrom, d.state.TransitionTo
	d.state.IsTransitioning = false
	d.state.TransitionFrom = ""
	d.state.TransitionTo = ""
	d.state.TransitionMessage = ""

	fx := Effects{Events: []Event{{
		Timestamp:  now,
		Type:       EventTransitionSettled,
		From:       from,
		To:         to,
		Transition: transition,
	}}}
	return d.finish(fx)
}

// SetActive records whether time tracking is running.
func (d *Degrader) SetActive(active bool) {
	d.state.IsActive = active
}

// Reset restores the initial state and clears direction tracking.
func (d *Degrader) Reset(now time.Time) Effects {
	d.state = InitialState()
	d.lastDirection = DirectionNone
	d.directionChanges = 0
	d.lastScrollY = 0
	return d.finish(Effects{Events: []Event{{Timestamp: now, Type: EventReset}}})
}

// countDirectionChange tracks direction flips and reports whether enough
// of them accumulated to count as one loop.
func (d *Degrader) countDirectionChange(dir Direction, perLoop int) bool {
	loop := false
	if d.lastDirection != DirectionNone && dir != d.lastDirection {
		d.directionChanges++
		if d.directionChanges >= perLoop {
			d.directionChanges = 0
			loop = true
		}
	}
	d.lastDirection = dir
	return loop
}

func (d *Degrader) registerLoops(n int, source LoopSource, now time.Time, fx *Effects) {
	d.state.ScrollLoops += n
	fx.Events = append(fx.Events, Event{
		Timestamp: now,
		Type:      EventScrollLoop,
		Loops:     n,
		Source:    source,
	})
	d.scrollDamage(now, fx)
}

// scrollDamage boosts the glitch intensity; the caller relaxes it later.
func (d *Degrader) scrollDamage(now time.Time, fx *Effects) {
	d.state.LastDamageTime = now
	original := d.state.GlitchIntensity
	d.state.GlitchIntensity = math.Min(original+damageBoost, damageBoostCap)
	fx.Spike = &Spike{Kind: SpikeDamage, Original: original, Delay: DamageRelaxDelay}
}

func (d *Degrader) recalculate(now time.Time, fx *Effects) {
	s := &d.state
	level := CalculateLevel(s.ScrollLoops, s.TotalScrollDistance, s.TimeSpent, s.Interactions)

	old := s.Phase
	s.Level = level
	next := PhaseFor(level)
	if next != old {
		d.beginTransition(old, next, now, fx)
	}
	s.Phase = next

	s.GlitchIntensity = approach(s.GlitchIntensity, glitchTarget(level), glitchRate)
	s.RotationChaos = approach(s.RotationChaos, rotationTarget(level), rotationRate)
	s.ColorShift = approach(s.ColorShift, colorTarget(level), colorRate)
	s.TextCorruption = approach(s.TextCorruption, corruptionTarget(level), corruptionRate)
}

func (d *Degrader) beginTransition(from, to Phase, now time.Time, fx *Effects) {
	d.transitions++
	s := &d.state
	s.IsTransitioning = true
	s.TransitionFrom = from
	s.TransitionTo = to
	s.Transition = d.transitions
	s.TransitionMessage = d.pickMessage(to)
	s.LastDamageTime = now

	fx.Settle = d.transitions
	fx.Events = append(fx.Events, Event{
		Timestamp:  now,
		Type:       EventPhaseTransition,
		From:       from,
		To:         to,
		Transition: d.transitions,
		Message:    s.TransitionMessage,
	})
}

func (d *Degrader) pickMessage(p Phase) string {
	msgs := phaseMessages[p]
	if len(msgs) == 0 || d.rng == nil {
		return ""
	}
	return msgs[d.rng.IntN(len(msgs))]
}

// finish stamps every event with the post-mutation level and phase.
func (d *Degrader) finish(fx Effects) Effects {
	for i := range fx.Events {
		fx.Events[i].Level = d.state.Level
		fx.Events[i].Phase = d.state.Phase
		fx.Events[i].Total = d.state.ScrollLoops
	}
	return fx
}

func directionOf(delta float64) Direction {
	if delta > 0 {
		return DirectionDown
	}
	return DirectionUp
}
