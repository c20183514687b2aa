// Package viewport provides native scroll samples from the browser.
// The real implementation is a websocket hub fed by the experience page.
// The fake implementation allows testing without a browser.
package viewport

import (
	"github.com/sweeney/experience-degrader/internal/logic"
)

// Sample is one viewport reading in CSS pixels.
type Sample struct {
	ScrollY      float64 `json:"scroll_y"`
	ScrollHeight float64 `json:"scroll_height"`
	InnerHeight  float64 `json:"inner_height"`
}

// Viewport converts the sample for the degradation model.
func (s Sample) Viewport() logic.Viewport {
	return logic.Viewport{
		ScrollY:      s.ScrollY,
		ScrollHeight: s.ScrollHeight,
		InnerHeight:  s.InnerHeight,
	}
}

// Source delivers viewport samples and can move the viewport.
type Source interface {
	// Samples returns the channel samples arrive on. It is closed by Close.
	Samples() <-chan Sample

	// ScrollTo asks every attached viewport to scroll to top (px).
	ScrollTo(top float64) error

	// Close releases the source and closes the samples channel.
	Close() error
}

// Message is sent from the server to attached pages.
type Message struct {
	Type    string            `json:"type"` // "scroll_to" or "state"
	Top     *float64          `json:"top,omitempty"`
	Phase   string            `json:"phase,omitempty"`
	Level   float64           `json:"level,omitempty"`
	Text    string            `json:"message,omitempty"`
	CSSVars map[string]string `json:"css,omitempty"`
}

// StateMessage builds the live state push for a page.
func StateMessage(s logic.State) Message {
	vars := logic.CSSVariables(s)
	css := make(map[string]string, len(vars))
	for _, v := range vars {
		css[v.Name] = v.Value
	}
	return Message{
		Type:    "state",
		Phase:   string(s.Phase),
		Level:   s.Level,
		Text:    s.TransitionMessage,
		CSSVars: css,
	}
}

// inbound is what pages send.
type inbound struct {
	Type string `json:"type"` // "viewport"
	Sample
}
