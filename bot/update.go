package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relay-bot/relay"
)

// Update is a getUpdates entry carrying the two update kinds the relay
// subscribes to.
type Update struct {
	UpdateID      int                     `json:"update_id"`
	Message       *Message                `json:"message,omitempty"`
	CallbackQuery *tgbotapi.CallbackQuery `json:"callback_query,omitempty"`
}

// Message extends tgbotapi.Message with Bot API fields the library predates.
// is_automatic_forward decodes into the embedded message.
type Message struct {
	tgbotapi.Message
	MessageThreadID int            `json:"message_thread_id,omitempty"`
	ForwardOrigin   *ForwardOrigin `json:"forward_origin,omitempty"`
}

// ForwardOrigin describes where a forwarded message came from.
type ForwardOrigin struct {
	Type      string         `json:"type"`
	Chat      *tgbotapi.Chat `json:"chat,omitempty"`
	MessageID int            `json:"message_id,omitempty"`
}

// originChatID returns the chat a forwarded message was posted from.
func (m *Message) originChatID() int64 {
	switch {
	case m.SenderChat != nil:
		return m.SenderChat.ID
	case m.ForwardOrigin != nil && m.ForwardOrigin.Chat != nil:
		return m.ForwardOrigin.Chat.ID
	case m.ForwardFromChat != nil:
		return m.ForwardFromChat.ID
	}
	return 0
}

// originMessageID returns the id of the original message in its source chat.
func (m *Message) originMessageID() int {
	if m.ForwardFromMessageID != 0 {
		return m.ForwardFromMessageID
	}
	if m.ForwardOrigin != nil {
		return m.ForwardOrigin.MessageID
	}
	return 0
}

// classifyMessage turns a message into a relay event. Messages inside a
// thread of the discussion group are replies; everything else is offered to
// the router as a possible forwarded post, which it filters itself.
func classifyMessage(m *Message, groupID int64) any {
	var chatID int64
	if m.Chat != nil {
		chatID = m.Chat.ID
	}

	if chatID == groupID && m.MessageThreadID != 0 {
		return relay.GroupReply{
			ChatID:    chatID,
			ThreadID:  m.MessageThreadID,
			MessageID: m.MessageID,
		}
	}

	return relay.ForwardedChannelPost{
		ChatID:             chatID,
		SenderChatID:       m.originChatID(),
		IsAutomaticForward: m.IsAutomaticForward,
		MessageID:          m.MessageID,
		ChannelMessageID:   m.originMessageID(),
	}
}

// classifyCallback turns a button press into a reaction click. Presses on
// inline-mode messages carry no message and are dropped.
func classifyCallback(q *tgbotapi.CallbackQuery) (relay.ReactionClick, bool) {
	if q.Message == nil {
		return relay.ReactionClick{}, false
	}

	var userID int64
	if q.From != nil {
		userID = q.From.ID
	}

	return relay.ReactionClick{
		ID:        q.ID,
		UserID:    userID,
		MessageID: q.Message.MessageID,
		Data:      q.Data,
	}, true
}
