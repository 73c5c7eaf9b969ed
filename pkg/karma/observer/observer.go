// Package observer feeds the Message Author Registry (C2) from inbound
// chat messages, the collaborator spec §6 calls "a message-observing
// middleware": Telegram/Discord reaction events never carry the original
// author, so the author has to be captured up front, at message-create
// time.
package observer

import (
	"context"
	"log"

	"karmicbot/pkg/karma/authors"
	"karmicbot/pkg/karma/model"
	"karmicbot/pkg/karma/store"
)

// groupLikeChatTypes mirrors the original middleware's group/supergroup
// restriction -- DMs and unknown chat kinds are never tracked.
var groupLikeChatTypes = map[string]bool{
	"group":      true,
	"supergroup": true,
}

// Observer resolves external user/chat IDs to internal rows and records
// the message author, swallowing storage errors the way the source
// middleware does (a failure to record an author must never block message
// handling).
type Observer struct {
	store   store.Store
	authors *authors.Registry
}

func New(s store.Store, reg *authors.Registry) *Observer {
	return &Observer{store: s, authors: reg}
}

// OnMessage records the author of a newly observed message. Only
// group/supergroup messages are tracked, matching C2's scope.
func (o *Observer) OnMessage(ctx context.Context, seen model.MessageSeen) {
	if !groupLikeChatTypes[seen.ChatType] {
		return
	}

	chat, err := o.store.GetOrCreateChat(ctx, seen.ChatExternalID)
	if err != nil {
		log.Printf("[observer] resolve chat %d: %v", seen.ChatExternalID, err)
		return
	}
	user, err := o.store.GetOrCreateUser(ctx, seen.FromExternalID, false)
	if err != nil {
		log.Printf("[observer] resolve user %d: %v", seen.FromExternalID, err)
		return
	}

	if err := o.authors.Store(ctx, chat.ID, seen.MessageID, user.ID, seen.Date); err != nil {
		log.Printf("[observer] store author for message %d in chat %d: %v", seen.MessageID, chat.ID, err)
	}
}
