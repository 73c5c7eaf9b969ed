// Package moderation supplements the core karma pipeline with the
// operator-issued warn/mute/ban events original_source's moderator.py
// exposes as `!ro`/`!mute`/`!ban` commands. Spec.md's Non-goals explicitly
// scope out the command handlers themselves (the parsing, permission
// checks, argument grammar); this package keeps only what C4 and C9
// already depend on: writing the ModeratorEvent, applying the transport
// restriction, and issuing a cancel control symmetric with C9's karma
// undo.
package moderation

import (
	"context"
	"time"

	"karmicbot/pkg/karma/model"
	"karmicbot/pkg/karma/store"
	"karmicbot/pkg/karma/transport"
	"karmicbot/pkg/karma/undo"
)

// Service writes moderator events and applies their transport effect.
type Service struct {
	store     store.Store
	transport transport.Transport
	undo      *undo.Manager
}

func New(s store.Store, t transport.Transport, u *undo.Manager) *Service {
	return &Service{store: s, transport: t, undo: u}
}

// Action describes an operator-issued moderation action.
type Action struct {
	ModeratorID        int64
	UserID             int64
	ChatID             int64
	ChatExternalID     int64
	UserExternalID     int64
	Type               model.ModeratorEventType
	Duration           *time.Duration // nil = no expiry (e.g. BAN)
	Comment            string
	Date               time.Time
	NotifyMessageID    string
}

// Record writes the ModeratorEvent, applies the transport restriction
// (mute/ban), and issues a cancel token an admin can use to undo the
// action, mirroring original_source's `cancel_warn` callback symmetry
// across warn/mute/ban.
func (s *Service) Record(ctx context.Context, a Action) (moderatorEventID int64, cancelToken string, err error) {
	ev := model.ModeratorEvent{
		Moderator: a.ModeratorID,
		UserID:    a.UserID,
		ChatID:    a.ChatID,
		Type:      a.Type,
		Date:      a.Date,
		Duration:  a.Duration,
		Comment:   a.Comment,
	}
	id, err := s.store.CreateModeratorEvent(ctx, ev)
	if err != nil {
		return 0, "", err
	}

	if a.Type == model.EventMute || a.Type == model.EventBan {
		until := time.Time{}
		if a.Duration != nil {
			until = a.Date.Add(*a.Duration)
		} else if a.Type == model.EventBan {
			until = a.Date.AddDate(100, 0, 0) // effectively permanent
		}
		if err := s.transport.RestrictChatMember(ctx, a.ChatExternalID, a.UserExternalID, until); err != nil {
			return id, "", err
		}
	}

	if s.undo == nil {
		return id, "", nil
	}
	token, err := s.undo.Issue(ctx, undo.Payload{
		ReactorExternalID:         a.ModeratorID,
		ModeratorEventID:          id,
		ModeratorTargetExternalID: a.UserExternalID,
		ChatExternalID:            a.ChatExternalID,
		NotificationMessageID:     a.NotifyMessageID,
	})
	if err != nil {
		return id, "", err
	}
	return id, token, nil
}

// Warn records a WARN event (no transport restriction).
func (s *Service) Warn(ctx context.Context, moderatorID, userID, chatID, chatExternalID, userExternalID int64, comment string, now time.Time) (int64, string, error) {
	return s.Record(ctx, Action{
		ModeratorID: moderatorID, UserID: userID, ChatID: chatID,
		ChatExternalID: chatExternalID, UserExternalID: userExternalID,
		Type: model.EventWarn, Comment: comment, Date: now,
	})
}

// Mute records a MUTE event and applies a timed transport restriction.
func (s *Service) Mute(ctx context.Context, moderatorID, userID, chatID, chatExternalID, userExternalID int64, duration time.Duration, comment string, now time.Time) (int64, string, error) {
	return s.Record(ctx, Action{
		ModeratorID: moderatorID, UserID: userID, ChatID: chatID,
		ChatExternalID: chatExternalID, UserExternalID: userExternalID,
		Type: model.EventMute, Duration: &duration, Comment: comment, Date: now,
	})
}

// Ban records a BAN event and applies an indefinite transport restriction.
func (s *Service) Ban(ctx context.Context, moderatorID, userID, chatID, chatExternalID, userExternalID int64, comment string, now time.Time) (int64, string, error) {
	return s.Record(ctx, Action{
		ModeratorID: moderatorID, UserID: userID, ChatID: chatID,
		ChatExternalID: chatExternalID, UserExternalID: userExternalID,
		Type: model.EventBan, Comment: comment, Date: now,
	})
}
