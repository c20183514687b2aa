package engine

import "github.com/sweeney/experience-degrader/internal/logic"

// Level returns the current degradation level.
func (e *Engine) Level() float64 { return e.Snapshot().Level }

// Phase returns the current phase.
func (e *Engine) Phase() logic.Phase { return e.Snapshot().Phase }

// ScrollLoops returns the number of loops counted so far.
func (e *Engine) ScrollLoops() int { return e.Snapshot().ScrollLoops }

// ScrollProgress returns the last accepted scroll progress.
func (e *Engine) ScrollProgress() float64 { return e.Snapshot().ScrollProgress }

// TotalScrollDistance returns the accumulated scroll distance.
func (e *Engine) TotalScrollDistance() float64 { return e.Snapshot().TotalScrollDistance }

// TimeSpent returns the tracked seconds.
func (e *Engine) TimeSpent() int { return e.Snapshot().TimeSpent }

// IsActive reports whether time tracking is running.
func (e *Engine) IsActive() bool { return e.Snapshot().IsActive }

// IsTransitioning reports whether a phase transition is in progress.
func (e *Engine) IsTransitioning() bool { return e.Snapshot().IsTransitioning }

// TransitionMessage returns the message of the in-progress transition, if any.
func (e *Engine) TransitionMessage() string { return e.Snapshot().TransitionMessage }

// Thresholds returns the coarse threshold flags for the current level.
func (e *Engine) Thresholds() logic.Thresholds { return logic.ThresholdsFor(e.Snapshot().Level) }

// Factors returns the visual effect scalars for the current state.
func (e *Engine) Factors() logic.Factors { return logic.FactorsFor(e.Snapshot()) }

// CSSVariables returns the presentation custom properties for the current state.
func (e *Engine) CSSVariables() []logic.CSSVariable { return logic.CSSVariables(e.Snapshot()) }
