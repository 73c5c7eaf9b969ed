// Package restriction implements the Auto-Restriction Policy (C7): the
// decision table that turns a karma transition into either a
// first-crossing notice or an escalating auto-mute.
package restriction

import (
	"math"
	"time"
)

// Input is the karma transition C7 decides on.
type Input struct {
	KarmaBefore    float64
	KarmaAfter     float64
	PriorAutoMutes int
	Base           time.Duration
	// BackoffFactor is the exponentiation base for escalation (spec §6's
	// auto_restriction.backoff_factor, default 2.0).
	BackoffFactor float64
}

// Decision is C7's verdict.
type Decision struct {
	// FirstCrossing is true when karma just went non-negative -> negative
	// for the first time; notify only, do not restrict.
	FirstCrossing bool
	// AutoMute is true when the target should be auto-muted.
	AutoMute       bool
	Duration       time.Duration
	PriorAutoMutes int
}

// Decide applies spec §4.7's decision table. Callers are expected to only
// call this when ChatSettings.karmic_restrictions is true.
func Decide(in Input) Decision {
	if in.KarmaBefore >= 0 && in.KarmaAfter < 0 {
		return Decision{FirstCrossing: true, PriorAutoMutes: in.PriorAutoMutes}
	}

	if in.KarmaBefore < 0 && in.KarmaAfter < in.KarmaBefore && in.PriorAutoMutes >= 1 {
		base := in.Base
		if base <= 0 {
			base = DefaultBaseDuration
		}
		factor := in.BackoffFactor
		if factor <= 0 {
			factor = DefaultBackoffFactor
		}
		duration := time.Duration(float64(base) * math.Pow(factor, float64(in.PriorAutoMutes)))
		return Decision{
			AutoMute:       true,
			Duration:       duration,
			PriorAutoMutes: in.PriorAutoMutes,
		}
	}

	return Decision{PriorAutoMutes: in.PriorAutoMutes}
}

// DefaultBaseDuration is the fallback base used when no configured base is
// supplied (10 minutes, chosen as a conservative first escalation step).
const DefaultBaseDuration = 10 * time.Minute

// DefaultBackoffFactor matches spec §6's documented default.
const DefaultBackoffFactor = 2.0
