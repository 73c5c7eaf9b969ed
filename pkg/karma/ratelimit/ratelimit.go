// Package ratelimit implements the Rate Limiter (C5): a DB-authoritative
// check that the reactor's recent absolute weighted karma output stays
// under rate * power(reactor), composed from a per-target chain and a
// global chain, with an optional (non-authoritative) Redis accelerator.
package ratelimit

import (
	"context"
	"time"

	"karmicbot/pkg/karma/engine"
	"karmicbot/pkg/karma/store"
)

// Limit is a single (rate, window) pair, e.g. "3 per hour".
type Limit struct {
	Rate   float64
	Window time.Duration
}

// DefaultGlobalLimits matches spec §4.5's documented defaults.
var DefaultGlobalLimits = []Limit{
	{Rate: 10, Window: time.Hour},
	{Rate: 20, Window: 24 * time.Hour},
}

// DefaultPerTargetLimits matches spec §4.5's documented defaults.
var DefaultPerTargetLimits = []Limit{
	{Rate: 3, Window: time.Hour},
	{Rate: 5, Window: 24 * time.Hour},
}

// Accelerator is the optional non-authoritative counter cache. Record adds
// each committed |delta| to it; Check never reads it and always queries the
// store. Counters are not expired or reconciled with the store. A nil
// Accelerator makes Record a no-op.
type Accelerator interface {
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
}

// ErrThrottled is returned (wrapped with the offending Limit) when a check
// fails; callers use errors.As to recover which window tripped.
type ErrThrottled struct {
	Scope string // "global" or "per_target"
	Limit Limit
	Total float64
	Max   float64
}

func (e *ErrThrottled) Error() string {
	return "ratelimit: throttled"
}

// Limiter evaluates C5's two chains in series: per-target first, then
// global, matching the decorator stacking order in the source throttle
// implementation (ThrottlePerTarget applied innermost).
type Limiter struct {
	store           store.Store
	perTargetLimits []Limit
	globalLimits    []Limit
	accel           Accelerator
}

// New builds a Limiter. A nil/empty limit slice falls back to the package
// defaults.
func New(s store.Store, perTarget, global []Limit, accel Accelerator) *Limiter {
	if len(perTarget) == 0 {
		perTarget = DefaultPerTargetLimits
	}
	if len(global) == 0 {
		global = DefaultGlobalLimits
	}
	return &Limiter{store: s, perTargetLimits: perTarget, globalLimits: global, accel: accel}
}

// Check runs the per-target chain then the global chain. reactorKarma is
// the reactor's current karma (used to compute power()); now is the
// reference time windows are measured back from.
func (l *Limiter) Check(ctx context.Context, reactorID, targetID, chatID int64, reactorKarma float64, now time.Time) error {
	power := engine.Power(reactorKarma)

	for _, lim := range l.perTargetLimits {
		total, err := l.store.SumAbsWeightedKarma(ctx, reactorID, chatID, targetID, now.Add(-lim.Window))
		if err != nil {
			return err
		}
		max := lim.Rate * power
		if total >= max {
			return &ErrThrottled{Scope: "per_target", Limit: lim, Total: total, Max: max}
		}
	}

	for _, lim := range l.globalLimits {
		total, err := l.store.SumAbsWeightedKarma(ctx, reactorID, chatID, 0, now.Add(-lim.Window))
		if err != nil {
			return err
		}
		max := lim.Rate * power
		if total >= max {
			return &ErrThrottled{Scope: "global", Limit: lim, Total: total, Max: max}
		}
	}

	return nil
}

// Record updates the accelerator after a karma change actually commits.
// Acceleration is advisory only (spec §5): a failure here is logged by the
// caller and never blocks the pipeline.
func (l *Limiter) Record(ctx context.Context, key string, absDelta float64) error {
	if l.accel == nil {
		return nil
	}
	_, err := l.accel.IncrByFloat(ctx, key, absDelta)
	return err
}
