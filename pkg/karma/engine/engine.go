// Package engine implements the Karma Engine (C6): the transactional
// computation that turns a classified reaction sign into a committed
// KarmaEvent, plus the power() weighting function shared with C5.
package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"karmicbot/pkg/karma/model"
	"karmicbot/pkg/karma/restriction"
	"karmicbot/pkg/karma/store"
)

// ReactionCoefficient is the fixed multiplier applied to a single
// reaction's weighted power (spec §4.6 step 3).
const ReactionCoefficient = 0.1

// Sentinel errors for the three rejection paths of spec §4.6.
var (
	ErrCantChangeKarma      = errors.New("cant_change_karma")
	ErrDontOffendRestricted = errors.New("dont_offend_restricted")
	ErrSubZeroKarma         = errors.New("sub_zero_karma")
)

// Power is the monotonic, non-negative weighting function applied to a
// reactor's own karma (spec §4.6 step 2). A reactor with no UserKarma row
// gets P=1.0, the same value Power(0) returns, so the function is
// continuous at the no-row boundary.
func Power(karma float64) float64 {
	return 1 + math.Log1p(math.Max(karma, 0))
}

// Policy carries the host-configurable knobs spec §4.6 leaves open.
type Policy struct {
	// CanBeBot allows a bot to be a karma target (default false).
	CanBeBot bool
	// EnforceSubZeroGuard enables step 6's reciprocal bookkeeping rule:
	// a negative reaction is rejected if it would drive the reactor's own
	// karma below zero. Off by default; see DESIGN.md Open Question 1.
	EnforceSubZeroGuard bool
}

// Input describes a single classified reaction event ready for C6.
type Input struct {
	Reactor   model.User
	Target    model.User
	Chat      model.Chat
	Sign      int // already summed per spec §4.8 step 4; nonzero
	Comment   string
	Date      time.Time
	// RestrictionSettings gates whether C7 runs at all.
	AutoRestrictionEnabled bool
	// AutoRestrictionBase is the base duration for C7's exponential
	// backoff (spec §4.7).
	AutoRestrictionBase time.Duration
	// AutoRestrictionBackoffFactor is C7's escalation exponent base
	// (default 2.0 when zero).
	AutoRestrictionBackoffFactor float64
}

// Result is the committed outcome of Apply (spec §4.6 step 9).
type Result struct {
	KarmaEventID      int64
	KarmaAfter        float64
	KarmaBefore       float64
	DeltaApplied      float64
	WasAutoRestricted bool
	AutoRestrictCount int
	ModeratorEventID  int64
	// WasFirstCrossing is true when this change crossed karma from
	// non-negative to negative for the first time (C7 notify-only case).
	WasFirstCrossing bool
}

// Engine wraps the store with the C6 transaction and C7 policy.
type Engine struct {
	store  store.Store
	policy Policy
}

func New(s store.Store, policy Policy) *Engine {
	return &Engine{store: s, policy: policy}
}

// Apply runs the full C6 computation and, when applicable, C7's
// auto-restriction decision, as a single logical operation against the
// store (the store is responsible for the transactional atomicity of the
// write itself, per spec §5's row-lock requirement).
func (e *Engine) Apply(ctx context.Context, in Input) (Result, error) {
	if in.Sign == 0 {
		return Result{}, errors.New("engine: sign must be nonzero")
	}
	if in.Reactor.ID == in.Target.ID {
		return Result{}, ErrCantChangeKarma
	}
	if in.Target.IsBot && !e.policy.CanBeBot {
		return Result{}, ErrCantChangeKarma
	}

	reactorKarma, _, err := e.store.KarmaOf(ctx, in.Reactor.ID, in.Chat.ID)
	if err != nil {
		return Result{}, err
	}
	reactorPower := Power(reactorKarma)
	delta := float64(in.Sign) * reactorPower * ReactionCoefficient

	if delta < 0 {
		restricted, err := e.store.ActiveRestriction(ctx, in.Target.ID, in.Chat.ID, in.Date)
		if err != nil {
			return Result{}, err
		}
		if restricted {
			return Result{}, ErrDontOffendRestricted
		}
	}

	if e.policy.EnforceSubZeroGuard && delta < 0 {
		if reactorKarma+delta < 0 {
			return Result{}, ErrSubZeroKarma
		}
	}

	targetKarmaBefore, _, err := e.store.KarmaOf(ctx, in.Target.ID, in.Chat.ID)
	if err != nil {
		return Result{}, err
	}
	targetKarmaAfter := targetKarmaBefore + delta

	var modEvent *model.ModeratorEvent
	var decision restriction.Decision
	if in.AutoRestrictionEnabled {
		priorAutoMutes, err := e.store.CountPriorAutoMutes(ctx, in.Target.ID, in.Chat.ID)
		if err != nil {
			return Result{}, err
		}
		decision = restriction.Decide(restriction.Input{
			KarmaBefore:    targetKarmaBefore,
			KarmaAfter:     targetKarmaAfter,
			PriorAutoMutes: priorAutoMutes,
			Base:           in.AutoRestrictionBase,
			BackoffFactor:  in.AutoRestrictionBackoffFactor,
		})
		if decision.AutoMute {
			modEvent = &model.ModeratorEvent{
				UserID:   in.Target.ID,
				ChatID:   in.Chat.ID,
				Type:     model.EventAutoMute,
				Date:     in.Date,
				Duration: &decision.Duration,
				Comment:  "auto-restriction: karma trending down",
			}
		}
	}

	outcome, err := e.store.ApplyKarmaChange(ctx, store.ApplyKarmaChangeInput{
		ReactorUserID:        in.Reactor.ID,
		TargetUserID:         in.Target.ID,
		ChatID:               in.Chat.ID,
		Delta:                delta,
		Comment:              in.Comment,
		Date:                 in.Date,
		CreateModeratorEvent: modEvent,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		KarmaEventID:      outcome.KarmaEventID,
		KarmaBefore:       outcome.KarmaBefore,
		KarmaAfter:        outcome.KarmaAfter,
		DeltaApplied:      outcome.DeltaApplied,
		WasAutoRestricted: decision.AutoMute,
		AutoRestrictCount: decision.PriorAutoMutes + boolToInt(decision.AutoMute),
		ModeratorEventID:  outcome.ModeratorEventID,
		WasFirstCrossing:  decision.FirstCrossing,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
