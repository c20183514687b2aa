package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/experience-degrader/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event           string            `json:"event,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	Session         string            `json:"session"`
	Phase           string            `json:"phase"`
	Level           float64           `json:"level"`
	Percent         int               `json:"percent"`
	Active          bool              `json:"active"`
	Transitioning   bool              `json:"transitioning"`
	Transition      *TransitionJSON   `json:"transition,omitempty"`
	Scroll          ScrollJSON        `json:"scroll"`
	TimeSpent       int               `json:"time_spent_seconds"`
	Interactions    int               `json:"interactions"`
	Cycles          int               `json:"cycles"`
	Effects         EffectsJSON       `json:"effects"`
	Factors         FactorsJSON       `json:"factors"`
	Thresholds      ThresholdsJSON    `json:"thresholds"`
	CSS             map[string]string `json:"css"`
	ViewportClients int               `json:"viewport_clients"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	StartTime       string            `json:"start_time"`
	Timestamp       string            `json:"timestamp"`
	MQTT            MQTTStatus        `json:"mqtt"`
	Config          ConfigJSON        `json:"config"`
}

// TransitionJSON describes an in-progress phase transition.
type TransitionJSON struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
}

// ScrollJSON reports scroll accounting.
type ScrollJSON struct {
	Progress      float64 `json:"progress"`
	Direction     string  `json:"direction"`
	TotalDistance float64 `json:"total_distance"`
	Loops         int     `json:"loops"`
}

// EffectsJSON reports the smoothed effect parameters.
type EffectsJSON struct {
	GlitchIntensity float64 `json:"glitch_intensity"`
	RotationChaos   float64 `json:"rotation_chaos"`
	ColorShift      float64 `json:"color_shift"`
	TextCorruption  float64 `json:"text_corruption"`
}

// FactorsJSON is the JSON representation of the visual factors.
type FactorsJSON struct {
	Shake          float64 `json:"shake"`
	Blur           float64 `json:"blur"`
	Rotation       float64 `json:"rotation"`
	Drift          float64 `json:"drift"`
	Opacity        float64 `json:"opacity"`
	Scale          float64 `json:"scale"`
	HueShift       float64 `json:"hue_shift"`
	Glitch         float64 `json:"glitch"`
	TextCorruption float64 `json:"text_corruption"`
	Skew           float64 `json:"skew"`
	Contrast       float64 `json:"contrast"`
	Saturate       float64 `json:"saturate"`
	Invert         float64 `json:"invert"`
	Noise          float64 `json:"noise"`
	Scanlines      float64 `json:"scanlines"`
	Chromatic      float64 `json:"chromatic"`
}

// ThresholdsJSON is the JSON representation of the threshold flags.
type ThresholdsJSON struct {
	Subtle      bool `json:"subtle"`
	Noticeable  bool `json:"noticeable"`
	Significant bool `json:"significant"`
	Severe      bool `json:"severe"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HTTPAddr     string `json:"http_addr"`
	Broker       string `json:"broker"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	NativeScroll bool   `json:"native_scroll"`
	Journal      bool   `json:"journal"`
	AutoStart    bool   `json:"auto_start"`
}

func buildInner(snap Snapshot) StatusInner {
	s := snap.State
	f := logic.FactorsFor(s)
	th := logic.ThresholdsFor(s.Level)

	css := make(map[string]string)
	for _, v := range logic.CSSVariables(s) {
		css[v.Name] = v.Value
	}

	inner := StatusInner{
		Session:       snap.Session,
		Phase:         string(s.Phase),
		Level:         s.Level,
		Percent:       int(math.Round(s.Level * 100)),
		Active:        s.IsActive,
		Transitioning: s.IsTransitioning,
		Scroll: ScrollJSON{
			Progress:      s.ScrollProgress,
			Direction:     string(s.ScrollDirection),
			TotalDistance: s.TotalScrollDistance,
			Loops:         s.ScrollLoops,
		},
		TimeSpent:    s.TimeSpent,
		Interactions: s.Interactions,
		Cycles:       s.Cycles,
		Effects: EffectsJSON{
			GlitchIntensity: s.GlitchIntensity,
			RotationChaos:   s.RotationChaos,
			ColorShift:      s.ColorShift,
			TextCorruption:  s.TextCorruption,
		},
		Factors: FactorsJSON{
			Shake:          f.Shake,
			Blur:           f.Blur,
			Rotation:       f.Rotation,
			Drift:          f.Drift,
			Opacity:        f.Opacity,
			Scale:          f.Scale,
			HueShift:       f.HueShift,
			Glitch:         f.Glitch,
			TextCorruption: f.TextCorruption,
			Skew:           f.Skew,
			Contrast:       f.Contrast,
			Saturate:       f.Saturate,
			Invert:         f.Invert,
			Noise:          f.Noise,
			Scanlines:      f.Scanlines,
			Chromatic:      f.Chromatic,
		},
		Thresholds: ThresholdsJSON{
			Subtle:      th.Subtle,
			Noticeable:  th.Noticeable,
			Significant: th.Significant,
			Severe:      th.Severe,
		},
		CSS:             css,
		ViewportClients: snap.ViewportClients,
		UptimeSeconds:   int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:       snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:       snap.Now.UTC().Format(time.RFC3339),
		MQTT:            MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			HTTPAddr:     snap.Config.HTTPAddr,
			Broker:       snap.Config.Broker,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			NativeScroll: snap.Config.NativeScroll,
			Journal:      snap.Config.JournalPath != "",
			AutoStart:    snap.Config.AutoStart,
		},
	}
	if s.IsTransitioning {
		inner.Transition = &TransitionJSON{
			From:    string(s.TransitionFrom),
			To:      string(s.TransitionTo),
			Message: s.TransitionMessage,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
