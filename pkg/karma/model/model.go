// Package model holds the plain data types shared across the karma engine:
// the persisted entities from spec §3 and the inbound event DTOs from §6.
package model

import "time"

// User is a stable external identity. Created on first sighting, never
// destroyed (spec §3).
type User struct {
	ID          int64 // internal primary key
	ExternalID  int64 // stable external identifier (tg_id in the source spec)
	DisplayName string
	IsBot       bool
}

// Chat is a group conversation. Created on first sighting.
type Chat struct {
	ID         int64 // internal primary key
	ExternalID int64 // stable external identifier
}

// ChatSettings are per-chat feature flags with lifecycle tied to Chat.
type ChatSettings struct {
	ChatID             int64
	KarmaCounting      bool
	KarmicRestrictions bool
}

// UserKarma is the (User x Chat) -> karma relation. Unique per pair.
type UserKarma struct {
	UserID int64
	ChatID int64
	Karma  float64
}

// KarmaEvent is an immutable, append-only karma ledger entry.
type KarmaEvent struct {
	ID                int64
	UserFrom          int64
	UserTo            int64
	ChatID            int64
	HowChangeSigned   float64
	HowChangeWeighted float64
	Date              time.Time
	Comment           string
	Reverted          bool
}

// ModeratorEventType enumerates the kinds of moderator action.
type ModeratorEventType string

const (
	EventWarn     ModeratorEventType = "WARN"
	EventMute     ModeratorEventType = "MUTE"
	EventBan      ModeratorEventType = "BAN"
	EventAutoMute ModeratorEventType = "AUTO_MUTE"
)

// ModeratorEvent records a moderation action, consumed by C4 (active
// restriction check) and the undo path.
type ModeratorEvent struct {
	ID         int64
	Moderator  int64 // 0 for system-originated events (AUTO_MUTE)
	UserID     int64
	ChatID     int64
	Type       ModeratorEventType
	Date       time.Time
	Duration   *time.Duration // nil means no expiry (permanent, e.g. BAN)
	Comment    string
	Deleted    bool
}

// Active reports whether the event still restricts the user at `now`.
func (e ModeratorEvent) Active(now time.Time) bool {
	if e.Deleted {
		return false
	}
	if e.Duration == nil {
		return true
	}
	return e.Date.Add(*e.Duration).After(now) || e.Date.Add(*e.Duration).Equal(now)
}

// MessageAuthor records who authored a message, unique per (chat,
// message_id). Rolling retention (§4.2).
type MessageAuthor struct {
	ChatID    int64
	MessageID int64
	UserID    int64
	Date      time.Time
}

// ChatMemberStatus mirrors the transport's membership status enum.
type ChatMemberStatus int

const (
	MemberUnknown ChatMemberStatus = iota
	MemberCreator
	MemberAdministrator
	MemberMember
	MemberRestricted
	MemberLeftOrBanned
)

// IsPresent reports whether the status counts as "currently a member" per
// spec §4.4.
func (s ChatMemberStatus) IsPresent() bool {
	switch s {
	case MemberCreator, MemberAdministrator, MemberMember, MemberRestricted:
		return true
	default:
		return false
	}
}

// Reaction is a single classified trigger token attached to a
// ReactionUpdate (an emoji or, in principle, a text token).
type Reaction struct {
	Token string
}

// ReactionUpdate is the inbound event that drives the reaction pipeline
// (spec §6).
type ReactionUpdate struct {
	ChatExternalID    int64
	ChatType          string // "group", "supergroup", etc.
	MessageID         int64
	ReactorExternalID int64
	NewReactions      []Reaction
	OldReactions      []Reaction
	Date              time.Time
}

// MessageSeen feeds the message-author registry (C2) via the
// message-observer collaborator.
type MessageSeen struct {
	ChatExternalID int64
	ChatType       string
	MessageID      int64
	FromExternalID int64
	Date           time.Time
}

// CancelKind enumerates the callback payload kinds handled by C9.
type CancelKind string

const (
	CancelKarma     CancelKind = "karma_cancel"
	CancelModerator CancelKind = "moderator_cancel"
)

// CancelCallback is the opaque structured payload behind the inline
// "cancel" control (spec §6, §9).
type CancelCallback struct {
	Kind              CancelKind
	FromExternalID    int64
	KarmaEventID      int64
	RollbackKarma     float64
	ModeratorEventID  int64 // 0 if none
}
