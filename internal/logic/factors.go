package logic

import (
	"math"
	"strconv"
)

// Thresholds are coarse boolean views of the level.
type Thresholds struct {
	Subtle      bool // level >= 0.1
	Noticeable  bool // level >= 0.25
	Significant bool // level >= 0.5
	Severe      bool // level >= 0.75
}

// ThresholdsFor evaluates the thresholds for a level.
func ThresholdsFor(level float64) Thresholds {
	return Thresholds{
		Subtle:      level >= 0.1,
		Noticeable:  level >= 0.25,
		Significant: level >= 0.5,
		Severe:      level >= 0.75,
	}
}

// Factors are the visual effect scalars derived from a state.
type Factors struct {
	Shake          float64 // px
	Blur           float64 // px
	Rotation       float64 // deg
	Drift          float64 // px
	Opacity        float64
	Scale          float64
	HueShift       float64 // deg
	Glitch         float64
	TextCorruption float64
	Skew           float64 // deg
	Contrast       float64
	Saturate       float64
	Invert         float64
	Noise          float64
	Scanlines      float64
	Chromatic      float64 // px
}

// FactorsFor derives the visual effect scalars from s.
func FactorsFor(s State) Factors {
	l := s.Level
	f := Factors{
		Shake:          math.Min(l*8, 6),
		Blur:           math.Min(l*4, 3),
		Rotation:       s.RotationChaos * 0.5,
		Drift:          math.Min(l*15, 10),
		Opacity:        math.Max(1-l*0.3, 0.6),
		Scale:          math.Max(1-l*0.1, 0.85),
		HueShift:       s.ColorShift,
		Glitch:         s.GlitchIntensity,
		TextCorruption: s.TextCorruption,
		Skew:           math.Min(l*6, 4),
		Contrast:       1 + l*0.3,
		Saturate:       1 + l*0.5,
		Noise:          math.Min(l*0.2, 0.1),
		Chromatic:      s.GlitchIntensity * 4,
	}
	if l > 0.7 {
		f.Invert = (l - 0.7) * 0.2
	}
	if l > 0.2 {
		f.Scanlines = (l - 0.2) * 0.2
	}
	return f
}

// CSSVariable is one custom property for the presentation layer.
type CSSVariable struct {
	Name  string
	Value string
}

// CSSVariables renders s as --degradation-* custom properties in a fixed order.
func CSSVariables(s State) []CSSVariable {
	f := FactorsFor(s)
	return []CSSVariable{
		{"--degradation-level", num(s.Level)},
		{"--degradation-percent", strconv.Itoa(int(math.Round(s.Level*100))) + "%"},
		{"--degradation-shake", num(f.Shake) + "px"},
		{"--degradation-blur", num(f.Blur) + "px"},
		{"--degradation-rotation", num(f.Rotation) + "deg"},
		{"--degradation-hue", num(f.HueShift) + "deg"},
		{"--degradation-glitch", num(s.GlitchIntensity)},
		{"--degradation-skew", num(f.Skew) + "deg"},
		{"--degradation-chromatic", num(f.Chromatic) + "px"},
		{"--degradation-noise", num(f.Noise)},
		{"--degradation-scanlines", num(f.Scanlines)},
		{"--degradation-contrast", num(f.Contrast)},
		{"--degradation-saturate", num(f.Saturate)},
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
