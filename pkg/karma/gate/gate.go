// Package gate implements the Membership & Restriction Gate (C4): two
// independent checks a reactor must pass before a reaction is allowed to
// move karma.
package gate

import (
	"context"
	"time"

	"karmicbot/pkg/karma/store"
	"karmicbot/pkg/karma/transport"
)

// Gate wires the store (for restriction lookups) and the transport (for
// live membership queries).
type Gate struct {
	store     store.Store
	transport transport.Transport
}

func New(s store.Store, t transport.Transport) *Gate {
	return &Gate{store: s, transport: t}
}

// IsMember checks the reactor's current membership status via the
// transport. A transport error fails closed: the reactor is treated as not
// a member (spec §4.4).
func (g *Gate) IsMember(ctx context.Context, chatExternalID, userExternalID int64) (bool, error) {
	status, err := g.transport.GetChatMember(ctx, chatExternalID, userExternalID)
	if err != nil {
		return false, nil
	}
	return status.IsPresent(), nil
}

// NotRestricted reports whether the user has no currently-active
// ModeratorEvent in the chat (I4).
func (g *Gate) NotRestricted(ctx context.Context, userID, chatID int64) (bool, error) {
	restricted, err := g.store.ActiveRestriction(ctx, userID, chatID, time.Now())
	if err != nil {
		return false, err
	}
	return !restricted, nil
}

// Allow runs both sub-checks; both must pass for the reaction to proceed.
// userID/chatID are the internal store IDs used for the restriction
// lookup; chatExternalID/userExternalID are the platform IDs used for the
// live membership query.
func (g *Gate) Allow(ctx context.Context, chatExternalID, userExternalID, userID, chatID int64) (bool, error) {
	member, err := g.IsMember(ctx, chatExternalID, userExternalID)
	if err != nil {
		return false, err
	}
	if !member {
		return false, nil
	}
	return g.NotRestricted(ctx, userID, chatID)
}
