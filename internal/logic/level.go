package logic

import (
	"math"
	"time"

	"github.com/tanema/gween/ease"
)

// Level factor caps and normalizers. Each factor is min(x/norm, cap), so
// it saturates at norm×cap: 20 loops, 30000 distance, 360s, 30 interactions.
const (
	loopFactorCap        = 0.5
	loopNorm             = 40
	distanceFactorCap    = 0.2
	distanceNorm         = 150000
	timeFactorCap        = 0.2
	secondsNorm          = 1800
	interactionFactorCap = 0.1
	interactionNorm      = 300
)

// Phase thresholds. A level equal to a threshold belongs to the higher phase.
const (
	GlitchingThreshold = 0.12
	UnstableThreshold  = 0.30
	ChaoticThreshold   = 0.50
	BrokenThreshold    = 0.75
)

// Timing of the deferred and periodic work the engine schedules.
const (
	TransitionDuration   = 3500 * time.Millisecond
	DamageRelaxDelay     = 400 * time.Millisecond
	TimeTickInterval     = time.Second
	GlitchTickInterval   = 400 * time.Millisecond
	ambientRelaxMin      = 80 * time.Millisecond
	ambientRelaxJitterMs = 150
)

// CalculateLevel combines the four clamped factors into a level in [0,1].
func CalculateLevel(scrollLoops int, totalScrollDistance float64, timeSpent, interactions int) float64 {
	loop := math.Min(float64(scrollLoops)/loopNorm, loopFactorCap)
	distance := math.Min(totalScrollDistance/distanceNorm, distanceFactorCap)
	elapsed := math.Min(float64(timeSpent)/secondsNorm, timeFactorCap)
	interaction := math.Min(float64(interactions)/interactionNorm, interactionFactorCap)
	return clamp01(loop + distance + elapsed + interaction)
}

// PhaseFor maps a level onto its phase.
func PhaseFor(level float64) Phase {
	switch {
	case level < GlitchingThreshold:
		return PhasePristine
	case level < UnstableThreshold:
		return PhaseGlitching
	case level < ChaoticThreshold:
		return PhaseUnstable
	case level < BrokenThreshold:
		return PhaseChaotic
	default:
		return PhaseBroken
	}
}

// Smoothing targets and approach rates of the visual parameters.

func glitchTarget(level float64) float64 {
	if level <= 0.15 {
		return 0
	}
	// Eased quadratic ramp from 0 at 0.15 to 0.5 at 1.0. gween works in
	// float32, so the target carries about 1e-7 of rounding error.
	return float64(ease.InQuad(float32(level-0.15), 0, 0.5, 0.85))
}

func rotationTarget(level float64) float64 {
	if level <= 0.25 {
		return 0
	}
	return (level - 0.25) * 20
}

func colorTarget(level float64) float64 {
	return level * 25
}

func corruptionTarget(level float64) float64 {
	if level <= 0.5 {
		return 0
	}
	return (level - 0.5) * 0.4
}

const (
	glitchRate     = 0.1
	rotationRate   = 0.1
	colorRate      = 0.05
	corruptionRate = 0.08
)

// approach moves current a fixed fraction of the way towards target.
func approach(current, target, rate float64) float64 {
	return current + (target-current)*rate
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
