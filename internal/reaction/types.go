// Package reaction implements the audience-reaction pipeline: per-user
// sample windows, cohort aggregation, and the effect priority ladder.
package reaction

// State names (boolean per-moment reactions reported by the client).
const (
	StateSmiling       = "isSmiling"
	StateSurprised     = "isSurprised"
	StateConcentrating = "isConcentrating"
	StateHandUp        = "isHandUp"
)

// Event names (per-second counted reactions reported by the client).
const (
	EventNod            = "nod"
	EventShakeHead      = "shakeHead"
	EventSwayVertical   = "swayVertical"
	EventSwayHorizontal = "swayHorizontal"
	EventCheer          = "cheer"
	EventClap           = "clap"
)

// StateNames is the canonical state set in a fixed order. Incoming payloads
// are filtered against it: unknown names are dropped, missing names default
// to false.
var StateNames = []string{
	StateSmiling,
	StateSurprised,
	StateConcentrating,
	StateHandUp,
}

// EventNames is the canonical event set in a fixed order. Same filtering
// rules as StateNames; missing names default to 0.
var EventNames = []string{
	EventNod,
	EventShakeHead,
	EventSwayVertical,
	EventSwayHorizontal,
	EventCheer,
	EventClap,
}

// Effect types the ladder (and manual injection) can produce.
const (
	EffectSparkle       = "sparkle"
	EffectWave          = "wave"
	EffectExcitement    = "excitement"
	EffectBounce        = "bounce"
	EffectCheer         = "cheer"
	EffectShimmer       = "shimmer"
	EffectFocus         = "focus"
	EffectGroove        = "groove"
	EffectClappingIcons = "clapping_icons"
)

const (
	// WindowSize is the number of samples retained per user (one per second).
	WindowSize = 3

	// ActiveWindowMS is the inactivity ceiling: a user is active at tick time t
	// iff t - last_arrival <= ActiveWindowMS and the window is non-empty.
	// 3000 in, 3001 out.
	ActiveWindowMS = WindowSize * 1000

	// EffectDurationMS is the fixed display duration for ladder effects.
	EffectDurationMS = 2000
)

// Sample is one client-second of reactions, stamped with the server clock at
// ingress. Immutable once stored; States/Events hold only canonical names.
type Sample struct {
	UserID       string
	ReceivedAtMS int64
	States       map[string]bool
	Events       map[string]int
	VideoTime    *float64
	SessionID    string
}

// NewSample filters raw client maps against the canonical name sets and
// stamps the sample with the server receive time. Unknown names are ignored,
// missing names default to false/0, negative counts are floored at 0.
func NewSample(userID string, receivedAtMS int64, states map[string]bool, events map[string]int, videoTime *float64, sessionID string) Sample {
	s := Sample{
		UserID:       userID,
		ReceivedAtMS: receivedAtMS,
		States:       make(map[string]bool, len(StateNames)),
		Events:       make(map[string]int, len(EventNames)),
		VideoTime:    videoTime,
		SessionID:    sessionID,
	}
	for _, name := range StateNames {
		s.States[name] = states[name]
	}
	for _, name := range EventNames {
		if n := events[name]; n > 0 {
			s.Events[name] = n
		} else {
			s.Events[name] = 0
		}
	}
	return s
}

// Effect is one broadcast decision: a visual style, an intensity in [0,1],
// and a display duration. Debug is set for aggregator decisions and nil for
// manual injections; SessionID/VideoTime travel the other way (manual only).
type Effect struct {
	Type       string
	Intensity  float64
	DurationMS int
	ServerMS   int64
	SessionID  string
	VideoTime  *float64
	Debug      *EffectDebug
}

// EffectDebug carries the aggregates that justified a decision.
type EffectDebug struct {
	ActiveUsers  int                `json:"activeUsers"`
	RatioState   map[string]float64 `json:"ratioState"`
	DensityEvent map[string]float64 `json:"densityEvent"`
}

// EffectFrame is the wire form of an effect broadcast.
type EffectFrame struct {
	Type       string       `json:"type"`
	EffectType string       `json:"effectType"`
	Intensity  float64      `json:"intensity"`
	DurationMS int          `json:"durationMs"`
	Timestamp  int64        `json:"timestamp"`
	Debug      *EffectDebug `json:"debug,omitempty"`
}

// Frame converts an Effect to its wire form.
func (e Effect) Frame() EffectFrame {
	return EffectFrame{
		Type:       "effect",
		EffectType: e.Type,
		Intensity:  e.Intensity,
		DurationMS: e.DurationMS,
		Timestamp:  e.ServerMS,
		Debug:      e.Debug,
	}
}
