// Package transport defines the outbound boundary the karma pipeline calls
// through (spec §6): membership queries, restriction, messaging, and
// deletion. The chat platform adapter itself (Discord, in this module) is
// the Transport Adapter spec.md explicitly scopes out of the core; only
// this interface is assumed by C4, C7, C8, and C9.
package transport

import (
	"context"
	"time"

	"karmicbot/pkg/karma/model"
)

// SendOptions controls an outbound notification (spec §6 send_message).
type SendOptions struct {
	ReplyToMessageID string
	DisableNotify    bool
	// CancelToken, if non-empty, attaches an inline "cancel" control that
	// the adapter renders as platform-appropriate UI (e.g. a button).
	CancelToken string
}

// Transport is the boundary the karma pipeline depends on; it never talks
// to a platform SDK directly.
// All IDs here are the platform's own (external) identifiers, not the
// internal primary keys the store uses.
type Transport interface {
	// GetChatMember queries the reactor's current membership status. A
	// transport error must be treated as fail-closed (block) by the caller.
	GetChatMember(ctx context.Context, chatExternalID, userExternalID int64) (model.ChatMemberStatus, error)

	// SendMessage posts a notification, returning a platform message ID
	// usable with DeleteMessage.
	SendMessage(ctx context.Context, chatExternalID int64, htmlText string, opts SendOptions) (messageID string, err error)

	// RestrictChatMember applies (or, if until.IsZero(), lifts) a
	// restriction on userExternalID in chatExternalID until the given time.
	RestrictChatMember(ctx context.Context, chatExternalID, userExternalID int64, until time.Time) error

	// DeleteMessage removes a previously sent message (TTL cleanup, undo).
	DeleteMessage(ctx context.Context, chatExternalID int64, messageID string) error
}
