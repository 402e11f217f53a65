package electricraspberry

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
)

// MessageEvent is a single inbound Discord message, as seen by the
// observer pipeline.
//
// Fields:
//   - ID: Discord message ID
//   - AuthorID: Discord user ID of the author
//   - ChannelID: Discord channel ID the message was posted in
//   - GuildID: Guild ID. Empty for direct messages.
//   - Content: Message text
//   - Timestamp: When the message was posted
//   - IsDirectMessage: Set when the message was sent in a DM channel
//   - MentionsBot: Set when the bot's user ID is among the message mentions
//   - IsFromBot: Set when the author is a bot account
//   - MentionedUserIDs: IDs of all mentioned users
//   - AttachmentURLs: URLs of any attachments
//
// Events are shared between the buffer and the immediate processing path,
// so the processed flag is atomic. Everything else is set once at creation.
type MessageEvent struct {
	ID               string    `json:"id"`
	AuthorID         string    `json:"author_id"`
	ChannelID        string    `json:"channel_id"`
	GuildID          string    `json:"guild_id,omitempty"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	IsDirectMessage  bool      `json:"is_direct_message"`
	MentionsBot      bool      `json:"mentions_bot"`
	IsFromBot        bool      `json:"is_from_bot"`
	MentionedUserIDs []string  `json:"mentioned_user_ids,omitempty"`
	AttachmentURLs   []string  `json:"attachment_urls,omitempty"`

	processed atomic.Bool
}

// NewMessageEvent builds a MessageEvent from a gateway message. botID is
// the bot's own user ID, used to set MentionsBot.
func NewMessageEvent(m *discordgo.Message, botID string) *MessageEvent {
	e := &MessageEvent{
		ID:              m.ID,
		ChannelID:       m.ChannelID,
		GuildID:         m.GuildID,
		Content:         m.Content,
		Timestamp:       m.Timestamp,
		IsDirectMessage: m.GuildID == "",
		MentionsBot:     messageMentionsUser(m, botID),
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if m.Author != nil {
		e.AuthorID = m.Author.ID
		e.IsFromBot = m.Author.Bot
	}
	for _, u := range m.Mentions {
		if u != nil {
			e.MentionedUserIDs = append(e.MentionedUserIDs, u.ID)
		}
	}
	for _, a := range m.Attachments {
		if a != nil {
			e.AttachmentURLs = append(e.AttachmentURLs, a.URL)
		}
	}
	return e
}

// MarkProcessed flags the event as handled by the conversation processor.
// It returns false if the event was already marked.
func (e *MessageEvent) MarkProcessed() bool {
	return e.processed.CompareAndSwap(false, true)
}

// IsProcessed reports whether the event has already been handled.
func (e *MessageEvent) IsProcessed() bool {
	return e.processed.Load()
}

func (e *MessageEvent) LogValue() slog.Value {
	if e == nil {
		return slog.AnyValue(nil)
	}
	return slog.GroupValue(
		slog.String("id", e.ID),
		slog.String("author_id", e.AuthorID),
		slog.String("channel_id", e.ChannelID),
		slog.Time("timestamp", e.Timestamp),
		slog.Bool("dm", e.IsDirectMessage),
		slog.Bool("mentions_bot", e.MentionsBot),
		slog.Bool("processed", e.IsProcessed()),
		slog.String("content", shortenString(e.Content, 50)),
	)
}

func messageMentionsUser(m *discordgo.Message, userID string) bool {
	if m == nil || userID == "" {
		return false
	}
	for _, mention := range m.Mentions {
		if mention != nil && mention.ID == userID {
			return true
		}
	}
	return false
}
