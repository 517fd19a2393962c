package reaction

// Aggregates holds one tick's cohort statistics over the active users.
type Aggregates struct {
	ActiveUsers  int
	RatioState   map[string]float64
	DensityEvent map[string]float64
}

// ComputeAggregates derives the per-state ratios and per-event densities from
// an active-user snapshot.
//
// ratio_state[s]  = users with s=true in any window sample / active users.
// density_event[e] = total count of e across all window samples /
// (active users * WindowSize), i.e. events per user per second. The divisor
// stays |A|*W even for windows still filling up, so very recent joiners
// contribute less density.
func ComputeAggregates(active map[string][]Sample) Aggregates {
	agg := Aggregates{
		ActiveUsers:  len(active),
		RatioState:   make(map[string]float64, len(StateNames)),
		DensityEvent: make(map[string]float64, len(EventNames)),
	}
	if agg.ActiveUsers == 0 {
		for _, name := range StateNames {
			agg.RatioState[name] = 0
		}
		for _, name := range EventNames {
			agg.DensityEvent[name] = 0
		}
		return agg
	}

	for _, name := range StateNames {
		count := 0
		for _, win := range active {
			for _, sample := range win {
				if sample.States[name] {
					count++
					break
				}
			}
		}
		agg.RatioState[name] = float64(count) / float64(agg.ActiveUsers)
	}

	for _, name := range EventNames {
		total := 0
		for _, win := range active {
			for _, sample := range win {
				total += sample.Events[name]
			}
		}
		agg.DensityEvent[name] = float64(total) / float64(agg.ActiveUsers*WindowSize)
	}

	return agg
}

// rule is one rung of the priority ladder: fire effect when the named ratio
// or density meets the threshold (inclusive).
type rule struct {
	state     string // set for ratio-based rungs
	event     string // set for density-based rungs
	threshold float64
	effect    string
	intensity func(v float64) float64
}

func identity(v float64) float64 { return v }

func scaledBy(divisor float64) func(float64) float64 {
	return func(v float64) float64 { return v / divisor }
}

// ladder is the authoritative effect arbitration order. Evaluated top-down;
// the first rung whose value meets its threshold wins the tick.
var ladder = []rule{
	{state: StateHandUp, threshold: 0.30, effect: EffectCheer, intensity: identity},
	{state: StateSurprised, threshold: 0.30, effect: EffectExcitement, intensity: identity},
	{event: EventClap, threshold: 0.15, effect: EffectClappingIcons, intensity: scaledBy(0.8)},
	{event: EventSwayVertical, threshold: 0.20, effect: EffectBounce, intensity: identity},
	{event: EventShakeHead, threshold: 0.20, effect: EffectShimmer, intensity: identity},
	{event: EventSwayHorizontal, threshold: 0.20, effect: EffectGroove, intensity: identity},
	{event: EventCheer, threshold: 0.15, effect: EffectWave, intensity: scaledBy(0.8)},
	{event: EventNod, threshold: 0.30, effect: EffectWave, intensity: scaledBy(0.5)},
	{state: StateSmiling, threshold: 0.35, effect: EffectSparkle, intensity: identity},
	{state: StateConcentrating, threshold: 0.40, effect: EffectFocus, intensity: identity},
}

// Decide runs the priority ladder over one tick's aggregates and returns the
// winning effect, or nil when no rung fires (or no users are active).
// Intensity is clamped to [0,1] after the rung's formula.
func Decide(agg Aggregates, nowMS int64) *Effect {
	if agg.ActiveUsers == 0 {
		return nil
	}
	for _, r := range ladder {
		var value float64
		if r.state != "" {
			value = agg.RatioState[r.state]
		} else {
			value = agg.DensityEvent[r.event]
		}
		if value < r.threshold {
			continue
		}
		return &Effect{
			Type:       r.effect,
			Intensity:  clamp01(r.intensity(value)),
			DurationMS: EffectDurationMS,
			ServerMS:   nowMS,
			Debug: &EffectDebug{
				ActiveUsers:  agg.ActiveUsers,
				RatioState:   agg.RatioState,
				DensityEvent: agg.DensityEvent,
			},
		}
	}
	return nil
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
