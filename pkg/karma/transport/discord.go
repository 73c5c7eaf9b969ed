package transport

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"karmicbot/pkg/karma/model"
)

// Session is the slice of *discordgo.Session the Discord adapter needs,
// narrowed the way the upstream bot's Session interface narrows
// *discordgo.Session for testability.
type Session interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// DiscordTransport implements transport.Transport over a Discord guild.
// The "chat" of spec.md maps to a Discord guild, identified by its channel
// for messaging purposes; Discord has no direct analogue of Telegram's
// restrict-with-permission-bits, so restriction is implemented as a
// timeout (communication disabled until a deadline).
type DiscordTransport struct {
	session Session
	// channelOf resolves a chat's external ID to the Discord channel used
	// for notifications; guilds have no single default channel.
	channelOf func(chatExternalID int64) string
}

// NewDiscordTransport builds a Transport backed by a discordgo session.
// channelOf maps a chat's external ID to the channel notifications are
// posted to.
func NewDiscordTransport(session Session, channelOf func(chatExternalID int64) string) *DiscordTransport {
	return &DiscordTransport{session: session, channelOf: channelOf}
}

func fmtSnowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}

// GetChatMember maps Discord guild-member state onto spec.md's
// ChatMemberStatus enum. An active communication-disabled-until timeout
// maps to RESTRICTED and any other present member maps to MEMBER; owners
// and administrators are not told apart and also report MEMBER. A 404 (not a
// member, left, or kicked/banned) maps to MemberLeftOrBanned rather than an
// error, since that is a legitimate membership state, not a transport
// failure.
func (t *DiscordTransport) GetChatMember(ctx context.Context, chatExternalID, userExternalID int64) (model.ChatMemberStatus, error) {
	guildID := fmtSnowflake(chatExternalID)
	userID := fmtSnowflake(userExternalID)

	member, err := t.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return model.MemberLeftOrBanned, nil
		}
		return model.MemberUnknown, fmt.Errorf("discord: get guild member: %w", err)
	}

	if member.CommunicationDisabledUntil != nil && member.CommunicationDisabledUntil.After(time.Now()) {
		return model.MemberRestricted, nil
	}
	// Owner/administrator resolution needs the guild's role list, which
	// this narrow Session interface does not fetch; C4's membership check
	// only needs "is present", so ordinary presence reports as MemberMember.
	return model.MemberMember, nil
}

func isNotFound(err error) bool {
	restErr, ok := err.(*discordgo.RESTError)
	return ok && restErr.Response != nil && restErr.Response.StatusCode == 404
}

// SendMessage posts a notification to the chat's configured channel. The
// cancel control, when present, is rendered as a single Discord button
// component carrying the opaque token as its custom ID.
func (t *DiscordTransport) SendMessage(ctx context.Context, chatExternalID int64, htmlText string, opts SendOptions) (string, error) {
	channelID := t.channelOf(chatExternalID)

	data := &discordgo.MessageSend{
		Content: htmlText,
	}
	if opts.ReplyToMessageID != "" {
		data.Reference = &discordgo.MessageReference{MessageID: opts.ReplyToMessageID, ChannelID: channelID}
	}
	if opts.CancelToken != "" {
		data.Components = []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Cancel",
						Style:    discordgo.SecondaryButton,
						CustomID: string(model.CancelKarma) + ":" + opts.CancelToken,
					},
				},
			},
		}
	}

	msg, err := t.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return msg.ID, nil
}

// RestrictChatMember applies (or, with a zero until, lifts) a Discord
// communication timeout. The deadline is passed to Discord unchanged;
// Discord caps timeouts at 28 days, and a later deadline is rejected by the
// API and returned as an error.
func (t *DiscordTransport) RestrictChatMember(ctx context.Context, chatExternalID, userExternalID int64, until time.Time) error {
	guildID := fmtSnowflake(chatExternalID)
	userID := fmtSnowflake(userExternalID)

	var deadline *time.Time
	if !until.IsZero() {
		deadline = &until
	}
	if err := t.session.GuildMemberTimeout(guildID, userID, deadline, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: set member timeout: %w", err)
	}
	return nil
}

// DeleteMessage removes a previously sent notification.
func (t *DiscordTransport) DeleteMessage(ctx context.Context, chatExternalID int64, messageID string) error {
	channelID := t.channelOf(chatExternalID)
	if err := t.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete message: %w", err)
	}
	return nil
}
