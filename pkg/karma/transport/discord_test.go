package transport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karmicbot/pkg/karma/model"
)

type fakeSession struct {
	member         *discordgo.Member
	memberErr      error
	timeoutCalls   []*time.Time
	sentMessages   []*discordgo.MessageSend
	deletedMessage string
}

func (f *fakeSession) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	return f.member, f.memberErr
}

func (f *fakeSession) GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error {
	f.timeoutCalls = append(f.timeoutCalls, until)
	return nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sentMessages = append(f.sentMessages, data)
	return &discordgo.Message{ID: "msg-1"}, nil
}

func (f *fakeSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	f.deletedMessage = messageID
	return nil
}

func channelOf(int64) string { return "channel-1" }

func TestGetChatMemberPresent(t *testing.T) {
	fs := &fakeSession{member: &discordgo.Member{}}
	tr := NewDiscordTransport(fs, channelOf)

	status, err := tr.GetChatMember(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, model.MemberMember, status)
}

func TestGetChatMemberRestrictedWhenTimedOut(t *testing.T) {
	future := time.Now().Add(time.Hour)
	fs := &fakeSession{member: &discordgo.Member{CommunicationDisabledUntil: &future}}
	tr := NewDiscordTransport(fs, channelOf)

	status, err := tr.GetChatMember(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, model.MemberRestricted, status)
}

func TestGetChatMemberNotFoundMapsToLeftOrBanned(t *testing.T) {
	fs := &fakeSession{memberErr: &discordgo.RESTError{Response: &http.Response{StatusCode: 404}}}
	tr := NewDiscordTransport(fs, channelOf)

	status, err := tr.GetChatMember(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, model.MemberLeftOrBanned, status)
}

func TestSendMessageWithCancelToken(t *testing.T) {
	fs := &fakeSession{}
	tr := NewDiscordTransport(fs, channelOf)

	id, err := tr.SendMessage(context.Background(), 1, "karma changed", SendOptions{CancelToken: "tok-123"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	require.Len(t, fs.sentMessages, 1)
	require.Len(t, fs.sentMessages[0].Components, 1)
}

func TestRestrictChatMemberLiftsWithZeroTime(t *testing.T) {
	fs := &fakeSession{}
	tr := NewDiscordTransport(fs, channelOf)

	require.NoError(t, tr.RestrictChatMember(context.Background(), 1, 2, time.Time{}))
	require.Len(t, fs.timeoutCalls, 1)
	assert.Nil(t, fs.timeoutCalls[0])
}

func TestDeleteMessage(t *testing.T) {
	fs := &fakeSession{}
	tr := NewDiscordTransport(fs, channelOf)

	require.NoError(t, tr.DeleteMessage(context.Background(), 1, "msg-9"))
	assert.Equal(t, "msg-9", fs.deletedMessage)
}
