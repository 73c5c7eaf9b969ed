// Package authors implements the Message Author Registry (C2): the bot
// stores a (chat, message_id) -> user mapping for every observed message so
// that later reaction events -- which Telegram/Discord never annotate with
// the original author -- can be resolved back to a user.
package authors

import (
	"context"
	"log"
	"time"

	"karmicbot/pkg/karma/store"
)

// DefaultRetention matches the upstream bot's Message.cleanup_old_records
// default of 90*24 hours.
const DefaultRetention = 90 * 24 * time.Hour

// DefaultCleanupInterval is how often the background loop runs cleanup.
const DefaultCleanupInterval = 24 * time.Hour

// Registry wraps the store with the C2 operations and their background
// maintenance loop.
type Registry struct {
	store     store.Store
	retention time.Duration
}

// New builds a Registry. A zero retention falls back to DefaultRetention.
func New(s store.Store, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{store: s, retention: retention}
}

// Store upserts the author of a message, unique by (chat, message_id).
func (r *Registry) Store(ctx context.Context, chatID, messageID, userID int64, date time.Time) error {
	return r.store.StoreMessageAuthor(ctx, chatID, messageID, userID, date)
}

// GetAuthor looks up the author of a message. found is false when no row
// exists (never written, or already deleted by Cleanup); the caller (C8)
// treats that as UNKNOWN and aborts (fail-closed, I5). A row older than the
// retention window that Cleanup has not yet deleted is still returned.
func (r *Registry) GetAuthor(ctx context.Context, chatID, messageID int64) (userID int64, found bool, err error) {
	// Retention is enforced out-of-band by CleanupLoop, not by a predicate
	// here or in the store's lookup query.
	userID, found, err = r.store.GetMessageAuthor(ctx, chatID, messageID)
	if err != nil || !found {
		return 0, false, err
	}
	return userID, true, nil
}

// Cleanup deletes MessageAuthor rows older than the retention window and
// returns how many rows were removed (I5).
func (r *Registry) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-r.retention)
	return r.store.CleanupMessageAuthors(ctx, cutoff)
}

// CleanupLoop runs Cleanup on interval until ctx is cancelled. Runs are
// never allowed to overlap: if a cycle is still running when the ticker
// fires again, that tick is simply skipped. Errors are logged and the loop
// continues, matching the upstream maintenance-loop shape.
func (r *Registry) CleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	running := make(chan struct{}, 1)
	running <- struct{}{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-running:
			default:
				log.Println("[authors] cleanup still running, skipping this tick")
				continue
			}
			go func() {
				defer func() { running <- struct{}{} }()
				deleted, err := r.Cleanup(ctx)
				if err != nil {
					log.Printf("[authors] cleanup error: %v", err)
					return
				}
				if deleted > 0 {
					log.Printf("[authors] cleanup removed %d stale message-author rows", deleted)
				}
			}()
		}
	}
}
