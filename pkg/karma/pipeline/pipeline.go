// Package pipeline implements the Reaction Pipeline (C8): the orchestrator
// that threads a single inbound reaction update through C1-C7 and C9,
// absorbing every expected failure internally per spec §7.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"karmicbot/pkg/karma/authors"
	"karmicbot/pkg/karma/engine"
	"karmicbot/pkg/karma/gate"
	"karmicbot/pkg/karma/model"
	"karmicbot/pkg/karma/percentile"
	"karmicbot/pkg/karma/ratelimit"
	"karmicbot/pkg/karma/store"
	"karmicbot/pkg/karma/transport"
	"karmicbot/pkg/karma/trigger"
	"karmicbot/pkg/karma/undo"
)

var groupLikeChatTypes = map[string]bool{
	"group":      true,
	"supergroup": true,
}

// Settings carries the host-configurable knobs from spec §6.
type Settings struct {
	RequiredPercentile           float64
	AutoRestrictionBase          time.Duration
	AutoRestrictionBackoffFactor float64
	TimeToCancel                 time.Duration
	EnginePolicy                 engine.Policy
}

// Pipeline wires C1-C7 and C9 behind a single Process entry point.
type Pipeline struct {
	store      store.Store
	authors    *authors.Registry
	percentile *percentile.Service
	gate       *gate.Gate
	limiter    *ratelimit.Limiter
	engine     *engine.Engine
	transport  transport.Transport
	undo       *undo.Manager
	settings   Settings
}

func New(
	s store.Store,
	a *authors.Registry,
	p *percentile.Service,
	g *gate.Gate,
	l *ratelimit.Limiter,
	e *engine.Engine,
	t transport.Transport,
	u *undo.Manager,
	settings Settings,
) *Pipeline {
	return &Pipeline{store: s, authors: a, percentile: p, gate: g, limiter: l, engine: e, transport: t, undo: u, settings: settings}
}

// Outcome reports what Process actually did, for tests and logging; it is
// never an error the caller must handle (spec §7's absorption policy).
type Outcome struct {
	Applied      bool
	Abort        error
	Result       engine.Result
	CancelToken  string
	NotifyMsgID  string
}

// Process runs the full C8 sequence for one reaction update. It never
// returns an error to the caller: every expected failure is absorbed,
// logged where spec §7 calls for it, and reflected only in the returned
// Outcome.
func (p *Pipeline) Process(ctx context.Context, update model.ReactionUpdate) Outcome {
	out, err := p.process(ctx, update)
	if err != nil {
		log.Printf("[pipeline] unexpected error processing reaction in chat %d: %v", update.ChatExternalID, err)
		return Outcome{Abort: err}
	}
	return out
}

func (p *Pipeline) process(ctx context.Context, update model.ReactionUpdate) (Outcome, error) {
	if !groupLikeChatTypes[update.ChatType] {
		return Outcome{Abort: ErrKarmaCountingOff}, nil
	}

	chat, err := p.store.GetOrCreateChat(ctx, update.ChatExternalID)
	if err != nil {
		return Outcome{}, err
	}
	settings, err := p.store.ChatSettings(ctx, chat.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !settings.KarmaCounting {
		return Outcome{Abort: ErrKarmaCountingOff}, nil
	}

	reactor, err := p.store.GetOrCreateUser(ctx, update.ReactorExternalID, false)
	if err != nil {
		return Outcome{}, err
	}

	targetUserID, found, err := p.authors.GetAuthor(ctx, chat.ID, update.MessageID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return Outcome{Abort: ErrUnknownAuthor}, nil
	}

	if targetUserID == reactor.ID {
		return Outcome{Abort: ErrIneligibleTarget}, nil
	}

	sign, comment := summarizeReactions(update.NewReactions, update.OldReactions)
	if sign == 0 {
		return Outcome{Abort: ErrNoNetSign}, nil
	}

	inTop, err := p.percentile.InTopPercentile(ctx, reactor.ID, chat.ID, p.settings.RequiredPercentile)
	if err != nil {
		return Outcome{}, err
	}
	if !inTop {
		p.notifyTransient(ctx, update.ChatExternalID, "your percentile is too high to change karma right now")
		return Outcome{Abort: ErrLowPercentile}, nil
	}

	member, err := p.gate.IsMember(ctx, update.ChatExternalID, update.ReactorExternalID)
	if err != nil {
		return Outcome{}, err
	}
	if !member {
		return Outcome{Abort: ErrNotAMember}, nil
	}
	notRestricted, err := p.gate.NotRestricted(ctx, reactor.ID, chat.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !notRestricted {
		return Outcome{Abort: ErrRestrictedReactor}, nil
	}

	reactorKarma, _, err := p.store.KarmaOf(ctx, reactor.ID, chat.ID)
	if err != nil {
		return Outcome{}, err
	}
	if err := p.limiter.Check(ctx, reactor.ID, targetUserID, chat.ID, reactorKarma, update.Date); err != nil {
		var throttled *ratelimit.ErrThrottled
		if isThrottled(err, &throttled) {
			p.notifyTransient(ctx, update.ChatExternalID, "rate limit reached, try again later")
			return Outcome{Abort: ErrRateLimited}, nil
		}
		return Outcome{}, err
	}

	target := model.User{ID: targetUserID}
	result, err := p.engine.Apply(ctx, engine.Input{
		Reactor:                      reactor,
		Target:                       target,
		Chat:                         chat,
		Sign:                         sign,
		Comment:                      comment,
		Date:                         update.Date,
		AutoRestrictionEnabled:       settings.KarmicRestrictions,
		AutoRestrictionBase:          p.settings.AutoRestrictionBase,
		AutoRestrictionBackoffFactor: p.settings.AutoRestrictionBackoffFactor,
	})
	if err != nil {
		if isExpectedEngineError(err) {
			return Outcome{Abort: err}, nil
		}
		return Outcome{}, err
	}

	if err := p.limiter.Record(ctx, fmt.Sprintf("accel:%d:%d", reactor.ID, chat.ID), absFloat(result.DeltaApplied)); err != nil {
		log.Printf("[pipeline] record rate-limit accelerator: %v", err)
	}

	if result.WasAutoRestricted && p.transport != nil {
		ev, evFound, evErr := p.store.GetModeratorEvent(ctx, result.ModeratorEventID)
		targetUser, userFound, userErr := p.store.GetUser(ctx, targetUserID)
		if evErr == nil && evFound && ev.Duration != nil && userErr == nil && userFound {
			until := ev.Date.Add(*ev.Duration)
			if err := p.transport.RestrictChatMember(ctx, update.ChatExternalID, targetUser.ExternalID, until); err != nil {
				log.Printf("[pipeline] apply auto-mute: %v", err)
			}
		}
	}

	notifyText := formatNotification(reactor, target, result)
	var cancelToken, msgID string
	if p.undo != nil {
		var targetExternalID int64
		if result.ModeratorEventID != 0 {
			if targetUser, ok, err := p.store.GetUser(ctx, targetUserID); err == nil && ok {
				targetExternalID = targetUser.ExternalID
			}
		}
		cancelToken, err = p.undo.Issue(ctx, undo.Payload{
			ReactorExternalID:         update.ReactorExternalID,
			KarmaEventID:              result.KarmaEventID,
			RollbackDelta:             result.DeltaApplied,
			ModeratorEventID:          result.ModeratorEventID,
			ModeratorTargetExternalID: targetExternalID,
			ChatExternalID:            update.ChatExternalID,
		})
		if err != nil {
			log.Printf("[pipeline] issue cancel token: %v", err)
		}
	}
	if p.transport != nil {
		msgID, err = p.transport.SendMessage(ctx, update.ChatExternalID, notifyText, transport.SendOptions{
			DisableNotify: true,
			CancelToken:   cancelToken,
		})
		if err != nil {
			log.Printf("[pipeline] send notification: %v", err)
		}
		if msgID != "" && cancelToken != "" && p.undo != nil {
			if err := p.undo.AttachMessage(ctx, cancelToken, msgID); err != nil {
				log.Printf("[pipeline] attach message to cancel token: %v", err)
			}
		}
		if msgID != "" && p.settings.TimeToCancel > 0 {
			scheduleSelfDelete(p.transport, update.ChatExternalID, msgID, p.settings.TimeToCancel)
		}
	}

	return Outcome{Applied: true, Result: result, CancelToken: cancelToken, NotifyMsgID: msgID}, nil
}

func isThrottled(err error, target **ratelimit.ErrThrottled) bool {
	t, ok := err.(*ratelimit.ErrThrottled)
	if ok {
		*target = t
	}
	return ok
}

func isExpectedEngineError(err error) bool {
	switch err {
	case engine.ErrCantChangeKarma, engine.ErrDontOffendRestricted, engine.ErrSubZeroKarma:
		return true
	default:
		return false
	}
}

// summarizeReactions implements spec §4.8 step 4: classify added reactions
// with their sign, removed reactions with the negated sign, sum, and
// accumulate the raw tokens into a human-readable comment.
func summarizeReactions(added, removed []model.Reaction) (int, string) {
	sum := 0
	var tokens []string
	for _, r := range added {
		sign := trigger.Classify(r.Token)
		sum += int(sign)
		if sign != trigger.Neutral {
			tokens = append(tokens, r.Token)
		}
	}
	for _, r := range removed {
		sign := trigger.Classify(r.Token)
		sum -= int(sign)
		if sign != trigger.Neutral {
			tokens = append(tokens, r.Token)
		}
	}
	comment := ""
	if len(tokens) > 0 {
		comment = "(reaction " + strings.Join(tokens, " ") + ")"
	}
	return sum, comment
}

func formatNotification(reactor, target model.User, result engine.Result) string {
	sign := "+"
	if result.DeltaApplied < 0 {
		sign = ""
	}
	text := fmt.Sprintf("karma: %s%.2f -> %.2f", sign, result.DeltaApplied, result.KarmaAfter)
	if result.WasFirstCrossing {
		text += "\nkarma just went negative for the first time"
	}
	if result.WasAutoRestricted {
		text += fmt.Sprintf("\nauto-restricted (escalation #%d)", result.AutoRestrictCount)
	}
	return text
}

func (p *Pipeline) notifyTransient(ctx context.Context, chatExternalID int64, text string) {
	if p.transport == nil {
		return
	}
	msgID, err := p.transport.SendMessage(ctx, chatExternalID, text, transport.SendOptions{DisableNotify: true})
	if err != nil {
		log.Printf("[pipeline] send transient notice: %v", err)
		return
	}
	scheduleSelfDelete(p.transport, chatExternalID, msgID, 10*time.Second)
}

// scheduleSelfDelete fires a best-effort delayed delete; failures are
// logged, never retried (spec §5).
func scheduleSelfDelete(t transport.Transport, chatExternalID int64, messageID string, after time.Duration) {
	if messageID == "" {
		return
	}
	go func() {
		time.Sleep(after)
		if err := t.DeleteMessage(context.Background(), chatExternalID, messageID); err != nil {
			log.Printf("[pipeline] self-delete message %s: %v", messageID, err)
		}
	}()
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
