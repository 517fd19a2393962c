package reaction

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mizuir0/live-reaction-system/internal/logging"
	"github.com/Mizuir0/live-reaction-system/internal/metrics"
)

// Broadcaster fans an encoded frame out to every connected viewer. Per-
// subscriber failures are absorbed by the implementation; a slow viewer must
// never block the tick.
type Broadcaster interface {
	Broadcast(data []byte)
}

// EffectSink records effect decisions durably. Failures are returned to the
// caller, which logs and proceeds — persistence never stops the pipeline.
type EffectSink interface {
	LogEffect(e Effect) error
}

// Aggregator drives the 1 Hz decision loop: snapshot active windows, compute
// cohort aggregates, run the priority ladder, persist and broadcast at most
// one effect. A single goroutine runs ticks back to back, so ticks never
// overlap; if one overruns, the ticker drops the missed beats.
type Aggregator struct {
	store  *WindowStore
	hub    Broadcaster
	sink   EffectSink
	logger zerolog.Logger

	interval time.Duration
	nowMS    func() int64 // injectable clock for tests
}

func NewAggregator(store *WindowStore, hub Broadcaster, sink EffectSink, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:    store,
		hub:      hub,
		sink:     sink,
		logger:   logger.With().Str("component", "aggregator").Logger(),
		interval: time.Second,
		nowMS:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Run executes ticks until the context is cancelled. Call in its own
// goroutine at boot.
func (a *Aggregator) Run(ctx context.Context) {
	defer logging.RecoverPanic(a.logger, "aggregator", nil)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", a.interval).Msg("Aggregator started")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Aggregator stopped")
			return
		case <-ticker.C:
			a.runTick()
		}
	}
}

// runTick wraps one tick with panic recovery and timing. A panic inside a
// tick is logged and the next tick still runs.
func (a *Aggregator) runTick() {
	defer logging.RecoverPanic(a.logger, "aggregator.tick", nil)

	start := time.Now()
	active := a.tickOnce(a.nowMS())
	elapsed := time.Since(start)

	metrics.RecordTick(elapsed, active)
	if elapsed >= a.interval {
		a.logger.Warn().
			Dur("tick_duration", elapsed).
			Dur("budget", a.interval).
			Msg("Aggregation tick overran its budget")
	}
}

// tickOnce performs one aggregation pass at the given tick time and returns
// the active user count it saw.
func (a *Aggregator) tickOnce(nowMS int64) int {
	active := a.store.SnapshotActive(nowMS)
	if len(active) == 0 {
		a.logger.Debug().Msg("Idle tick (no active users)")
		return 0
	}

	agg := ComputeAggregates(active)
	effect := Decide(agg, nowMS)
	if effect == nil {
		a.logger.Debug().
			Int("active_users", agg.ActiveUsers).
			Msg("No effect threshold met")
		return agg.ActiveUsers
	}

	// Persist the decision before broadcasting so the record survives send
	// failures. A persistence failure is logged and the broadcast proceeds.
	if err := a.sink.LogEffect(*effect); err != nil {
		metrics.RecordPersistenceError("log_effect")
		logging.LogError(a.logger, err, "Failed to log effect", map[string]any{
			"effect_type": effect.Type,
		})
	}

	data, err := json.Marshal(effect.Frame())
	if err != nil {
		logging.LogError(a.logger, err, "Failed to marshal effect frame", map[string]any{
			"effect_type": effect.Type,
		})
		return agg.ActiveUsers
	}
	a.hub.Broadcast(data)
	metrics.RecordEffect(effect.Type)

	a.logger.Info().
		Str("effect_type", effect.Type).
		Float64("intensity", effect.Intensity).
		Int("duration_ms", effect.DurationMS).
		Int("active_users", agg.ActiveUsers).
		Msg("Effect broadcast")

	return agg.ActiveUsers
}
