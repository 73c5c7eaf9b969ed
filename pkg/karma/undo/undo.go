// Package undo implements Reversal/Undo (C9): an opaque, time-limited
// cancel token backing the inline "cancel" control attached to every karma
// notification.
package undo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"karmicbot/pkg/karma/store"
	"karmicbot/pkg/karma/transport"
)

// DefaultTTL matches spec §6's time_to_cancel_actions default.
const DefaultTTL = 60 * time.Second

// ErrUnauthorized is returned when a user other than the original reactor
// attempts to activate a cancel control.
var ErrUnauthorized = errors.New("undo: only the original reactor may cancel")

// ErrExpiredOrUsed is returned when the token is unknown to the cache --
// either it expired, was never issued, or was already consumed.
var ErrExpiredOrUsed = errors.New("undo: cancel control expired or already used")

// Cache is the narrow Redis surface the undo manager needs.
type Cache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, key string) error
}

// Payload is what a cancel token resolves to (spec §6, §4.9).
type Payload struct {
	ReactorExternalID        int64
	KarmaEventID             int64
	RollbackDelta            float64
	ModeratorEventID         int64 // 0 if none
	ModeratorTargetExternalID int64 // external ID of the user a ModeratorEvent restricts, if any
	ChatExternalID           int64
	NotificationMessageID    string
}

const keyPrefix = "karma:undo:"

// Manager issues and resolves cancel tokens.
type Manager struct {
	cache     Cache
	store     store.Store
	transport transport.Transport
	ttl       time.Duration
}

func New(c Cache, s store.Store, t transport.Transport, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{cache: c, store: s, transport: t, ttl: ttl}
}

// Issue stores a new cancel payload and returns its opaque token.
func (m *Manager) Issue(ctx context.Context, p Payload) (string, error) {
	token := uuid.NewString()
	if err := m.cache.SetJSON(ctx, keyPrefix+token, p, m.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// AttachMessage records which message a cancel token's button lives on,
// once known. Issue necessarily runs before the notification is sent (the
// button needs the token to exist first), so the message ID is patched in
// afterward; a failure here just means Cancel won't also delete the
// notification, which is not load-bearing for the reversal itself.
func (m *Manager) AttachMessage(ctx context.Context, token, messageID string) error {
	var p Payload
	if err := m.cache.GetJSON(ctx, keyPrefix+token, &p); err != nil {
		return err
	}
	p.NotificationMessageID = messageID
	return m.cache.SetJSON(ctx, keyPrefix+token, p, m.ttl)
}

// Cancel activates a cancel control: it is rejected unless byExternalID
// matches the token's original reactor (spec §4.9). It first invalidates
// the token, so a second activation fails with ErrExpiredOrUsed (idempotent
// per P3), then reverses the karma event (if the token carries one), lifts
// any associated moderator event, and deletes the notification message.
func (m *Manager) Cancel(ctx context.Context, token string, byExternalID int64) error {
	var p Payload
	if err := m.cache.GetJSON(ctx, keyPrefix+token, &p); err != nil {
		return ErrExpiredOrUsed
	}

	if byExternalID != p.ReactorExternalID {
		return ErrUnauthorized
	}

	// Invalidate first: a racing second activation should see no token
	// rather than double-apply the reversal.
	if err := m.cache.Delete(ctx, keyPrefix+token); err != nil {
		return err
	}

	if p.KarmaEventID != 0 {
		if err := m.store.ReverseKarmaEvent(ctx, p.KarmaEventID, -p.RollbackDelta); err != nil {
			return err
		}
	}

	if p.ModeratorEventID != 0 {
		if err := m.cancelModeratorEvent(ctx, p); err != nil {
			return err
		}
	}

	if p.NotificationMessageID != "" {
		if err := m.transport.DeleteMessage(ctx, p.ChatExternalID, p.NotificationMessageID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) cancelModeratorEvent(ctx context.Context, p Payload) error {
	ev, found, err := m.store.GetModeratorEvent(ctx, p.ModeratorEventID)
	if err != nil {
		return err
	}
	if !found || !ev.Active(time.Now()) {
		return nil
	}
	if err := m.store.DeleteModeratorEvent(ctx, ev.ID); err != nil {
		return err
	}
	return m.transport.RestrictChatMember(ctx, p.ChatExternalID, p.ModeratorTargetExternalID, time.Time{})
}

// CancelModeratorEvent is the supplemented moderator-side cancellation path
// (warn/mute/ban "cancel" button from original_source's moderator.py),
// independent of any karma event.
func (m *Manager) CancelModeratorEvent(ctx context.Context, chatExternalID int64, userExternalID int64, moderatorEventID int64) error {
	ev, found, err := m.store.GetModeratorEvent(ctx, moderatorEventID)
	if err != nil {
		return err
	}
	if !found || !ev.Active(time.Now()) {
		return ErrExpiredOrUsed
	}
	if err := m.store.DeleteModeratorEvent(ctx, ev.ID); err != nil {
		return err
	}
	return m.transport.RestrictChatMember(ctx, chatExternalID, userExternalID, time.Time{})
}
