// Package store defines the persistence contract the karma engine assumes:
// transactional writes on karma, and the lookups C2–C7 and C9 need. It is
// the boundary spec.md calls "the database driver itself... only its
// transactional contract is assumed" — callers depend only on this
// interface, never on the underlying SurrealDB client.
package store

import (
	"context"
	"time"

	"karmicbot/pkg/karma/model"
)

// KarmaOutcome is the result of a committed karma change (spec §4.6 step 9).
type KarmaOutcome struct {
	KarmaEventID      int64
	KarmaBefore       float64
	KarmaAfter        float64
	DeltaApplied      float64
	ModeratorEventID  int64 // 0 if none was created
}

// Store is the transactional persistence contract used by the karma
// pipeline. Implementations must give ApplyKarmaChange serializable
// semantics per (target, chat) — see spec §5.
type Store interface {
	// GetOrCreateUser returns the internal user row for an external ID,
	// creating it (with is_bot) on first sighting.
	GetOrCreateUser(ctx context.Context, externalID int64, isBot bool) (model.User, error)

	// GetUser fetches a user row by internal ID, used when a caller only
	// has the internal ID (e.g. C2's target resolution) and needs the
	// platform's external ID back (e.g. to address a transport call).
	GetUser(ctx context.Context, id int64) (model.User, bool, error)

	// GetOrCreateChat returns the internal chat row for an external ID,
	// creating it (and its default ChatSettings) on first sighting.
	GetOrCreateChat(ctx context.Context, externalID int64) (model.Chat, error)

	// ChatSettings returns the settings row for a chat.
	ChatSettings(ctx context.Context, chatID int64) (model.ChatSettings, error)

	// StoreMessageAuthor upserts a (chat, message_id) -> user mapping (C2).
	StoreMessageAuthor(ctx context.Context, chatID, messageID, userID int64, date time.Time) error

	// GetMessageAuthor looks up the author of a message. found is false if
	// the row does not exist; the row's age is not checked.
	GetMessageAuthor(ctx context.Context, chatID, messageID int64) (userID int64, found bool, err error)

	// CleanupMessageAuthors deletes MessageAuthor rows older than the
	// cutoff and returns how many rows were deleted (spec §4.2, I5).
	CleanupMessageAuthors(ctx context.Context, cutoff time.Time) (int64, error)

	// KarmaOf returns a user's karma in a chat, and whether a UserKarma row
	// exists at all (NONE case of percentile, spec §4.3).
	KarmaOf(ctx context.Context, userID, chatID int64) (karma float64, found bool, err error)

	// Percentile returns the fraction of users in the chat with strictly
	// higher karma than userID, or found=false per spec §4.3's NONE case.
	Percentile(ctx context.Context, userID, chatID int64) (percentile float64, found bool, err error)

	// ActiveRestriction reports whether userID currently has any active
	// (non-null duration, non-expired, non-deleted) ModeratorEvent in
	// chatID (spec §4.4, I4).
	ActiveRestriction(ctx context.Context, userID, chatID int64, now time.Time) (bool, error)

	// SumAbsWeightedKarma sums |how_change_weighted| of non-reverted
	// KarmaEvents from userFrom in chatID since `since`, optionally
	// filtered to a single target (targetID != 0), for C5.
	SumAbsWeightedKarma(ctx context.Context, userFrom, chatID, targetID int64, since time.Time) (float64, error)

	// ApplyKarmaChange performs the C6 transaction: load-or-create both
	// UserKarma rows, write a KarmaEvent, update the target's karma, and
	// (if created is non-nil) create the associated ModeratorEvent — all
	// atomically. Returns the committed outcome.
	ApplyKarmaChange(ctx context.Context, in ApplyKarmaChangeInput) (KarmaOutcome, error)

	// CountPriorAutoMutes counts previous AUTO_MUTE ModeratorEvents for a
	// user in a chat (C7's escalation counter).
	CountPriorAutoMutes(ctx context.Context, userID, chatID int64) (int, error)

	// CreateModeratorEvent writes a standalone ModeratorEvent (used by the
	// supplemented warn/mute/ban paths).
	CreateModeratorEvent(ctx context.Context, ev model.ModeratorEvent) (int64, error)

	// GetModeratorEvent fetches a single ModeratorEvent by ID.
	GetModeratorEvent(ctx context.Context, id int64) (model.ModeratorEvent, bool, error)

	// DeleteModeratorEvent soft-deletes (marks Deleted) a ModeratorEvent,
	// lifting the restriction it represented.
	DeleteModeratorEvent(ctx context.Context, id int64) error

	// GetKarmaEvent fetches a single KarmaEvent by ID.
	GetKarmaEvent(ctx context.Context, id int64) (model.KarmaEvent, bool, error)

	// ReverseKarmaEvent (C9): writes an inverse KarmaEvent with the given
	// delta against the original event's (user_to, chat), updates
	// UserKarma, and marks the original event reverted. Idempotent: a
	// second call on an already-reverted event is a no-op.
	ReverseKarmaEvent(ctx context.Context, karmaEventID int64, rollbackDelta float64) error
}

// ApplyKarmaChangeInput is the input to the C6 transaction.
type ApplyKarmaChangeInput struct {
	ReactorUserID int64
	TargetUserID  int64
	ChatID        int64
	Delta         float64 // the already-computed signed, weighted delta (sign * power * coefficient)
	Comment       string
	Date          time.Time

	// CreateModeratorEvent, if non-nil, is written in the same
	// transaction as the karma change (C7's AUTO_MUTE).
	CreateModeratorEvent *model.ModeratorEvent
}
