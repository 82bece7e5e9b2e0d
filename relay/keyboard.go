package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultEmoji is shown for posts without a stored emoji assignment.
var DefaultEmoji = EmojiPair{First: "🌭", Second: "🥴"}

// EmojiPair holds the glyphs of the two reaction buttons.
type EmojiPair struct {
	First  string
	Second string
}

// Button is one inline keyboard button. Exactly one of CallbackData and URL is set.
type Button struct {
	Text         string
	CallbackData string
	URL          string
}

// Keyboard is a single row of buttons attached to a channel post.
type Keyboard struct {
	Buttons []Button
}

// Render builds the keyboard for a channel post: two reaction buttons and a
// link to the post's discussion thread. It has no side effects.
func Render(groupFragment string, threadMessageID, hotdog, drunk, comments int, emoji *EmojiPair) Keyboard {
	pair := DefaultEmoji
	if emoji != nil {
		if emoji.First != "" {
			pair.First = emoji.First
		}
		if emoji.Second != "" {
			pair.Second = emoji.Second
		}
	}

	return Keyboard{Buttons: []Button{
		{Text: reactionLabel(pair.First, hotdog), CallbackData: ReactionHotdog},
		{Text: reactionLabel(pair.Second, drunk), CallbackData: ReactionDrunk},
		{Text: fmt.Sprintf("💬 (%d)", comments), URL: ThreadURL(groupFragment, threadMessageID)},
	}}
}

func reactionLabel(emoji string, count int) string {
	if count == 0 {
		return emoji
	}
	return fmt.Sprintf("%s (%d)", emoji, count)
}

// ThreadURL links into the discussion thread rooted at threadMessageID.
func ThreadURL(groupFragment string, threadMessageID int) string {
	return fmt.Sprintf("https://t.me/c/%s/%d?thread=%d", groupFragment, threadMessageID, threadMessageID)
}

// GroupLinkFragment converts a supergroup chat id (-100xxxxxxxxxx) into the
// numeric part used in t.me/c links.
func GroupLinkFragment(groupID int64) string {
	s := strconv.FormatInt(groupID, 10)
	if strings.HasPrefix(s, "-100") {
		return s[4:]
	}
	return strings.TrimPrefix(s, "-")
}
