package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"relay-bot/metrics"
	"relay-bot/storage"
)

// Event kinds, as reported to metrics and logs.
const (
	EventForwardedPost = "forwarded_post"
	EventGroupReply    = "group_reply"
	EventReactionClick = "reaction_click"
)

// ForwardedChannelPost is the automatic copy of a channel post arriving in
// the discussion group.
type ForwardedChannelPost struct {
	ChatID             int64 // chat the copy arrived in
	SenderChatID       int64 // chat the copy was forwarded from
	IsAutomaticForward bool
	MessageID          int // id of the copy in the group; root of its thread
	ChannelMessageID   int // id of the original post in the channel
}

// GroupReply is any group message posted inside a discussion thread.
type GroupReply struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// ReactionClick is a press on one of the reaction buttons of a channel post.
type ReactionClick struct {
	ID        string // callback query id, needed to answer the click
	UserID    int64
	MessageID int // channel post the keyboard is attached to
	Data      string
}

// Transport is the messaging side the router talks back to.
type Transport interface {
	EditKeyboard(ctx context.Context, chatID int64, messageID int, kb Keyboard) error
	AnswerClick(ctx context.Context, clickID, text string, alert bool) error
}

// EmojiStore persists the glyph pair of each channel post.
type EmojiStore interface {
	InsertEmojiAssignment(ctx context.Context, channelMessageID int, first, second string) (bool, error)
	EmojiAssignment(ctx context.Context, channelMessageID int) (storage.EmojiAssignment, bool, error)
}

// Store is everything the router persists.
type Store interface {
	LinkageStore
	ReactionStore
	EmojiStore
}

// Notices are the texts shown to users whose click was rejected.
type Notices struct {
	InvalidReaction string
	AlreadyReacted  string
}

// Config identifies the channel and its discussion group.
type Config struct {
	ChannelID int64
	GroupID   int64
	Notices   Notices
}

// Router applies inbound events to the store and keeps the channel post
// keyboards in sync.
type Router struct {
	cfg       Config
	fragment  string
	links     *Linkages
	ledger    *Ledger
	comments  *Comments
	emoji     EmojiStore
	picker    EmojiPicker
	transport Transport
	log       *slog.Logger
}

// NewRouter wires the linkage resolver, ledger and comment counter over store.
func NewRouter(cfg Config, store Store, picker EmojiPicker, transport Transport, log *slog.Logger) *Router {
	links := NewLinkages(store)
	return &Router{
		cfg:       cfg,
		fragment:  GroupLinkFragment(cfg.GroupID),
		links:     links,
		ledger:    NewLedger(store),
		comments:  NewComments(links),
		emoji:     store,
		picker:    picker,
		transport: transport,
		log:       log.With("component", "relay.Router"),
	}
}

// HandleForwardedPost links a freshly mirrored channel post to its thread,
// assigns its emoji pair and attaches the keyboard to the channel post. A
// redelivered post is pushed again so a keyboard lost earlier still lands.
func (r *Router) HandleForwardedPost(ctx context.Context, ev ForwardedChannelPost) error {
	if ev.ChatID != r.cfg.GroupID || ev.SenderChatID != r.cfg.ChannelID ||
		!ev.IsAutomaticForward || ev.ChannelMessageID == 0 {
		metrics.ObserveEvent(EventForwardedPost, metrics.OutcomeIgnored)
		return nil
	}

	pair := r.picker.Pick()
	threadID := ev.MessageID
	duplicate := false

	if err := r.links.Create(ctx, ev.ChannelMessageID, ev.MessageID); err != nil {
		if !errors.Is(err, ErrDuplicateLinkage) {
			metrics.ObserveEvent(EventForwardedPost, metrics.OutcomeFailed)
			return fmt.Errorf("create linkage: %w", err)
		}
		stored, ok, err := r.links.ResolveThreadID(ctx, ev.ChannelMessageID)
		if err != nil {
			metrics.ObserveEvent(EventForwardedPost, metrics.OutcomeFailed)
			return fmt.Errorf("resolve thread: %w", err)
		}
		if ok {
			threadID = stored
		}
		duplicate = true
	}

	// The insert is guarded, so a redelivered post keeps its first pair and
	// one that lost its pair to an earlier failure gets one now.
	if _, err := r.emoji.InsertEmojiAssignment(ctx, ev.ChannelMessageID, pair.First, pair.Second); err != nil {
		r.log.Warn("emoji assignment not saved, keyboard falls back to default glyphs",
			"channel_message_id", ev.ChannelMessageID,
			"error", err,
		)
	}

	if duplicate {
		r.log.Debug("post already linked", "channel_message_id", ev.ChannelMessageID, "thread_message_id", threadID)
		metrics.ObserveEvent(EventForwardedPost, metrics.OutcomeDuplicate)
	} else {
		r.log.Info("linked channel post",
			"channel_message_id", ev.ChannelMessageID,
			"thread_message_id", threadID,
			"emoji", pair.First+pair.Second,
		)
		metrics.ObserveEvent(EventForwardedPost, metrics.OutcomeHandled)
	}

	r.pushBestEffort(ctx, ev.ChannelMessageID, threadID)
	return nil
}

// HandleGroupReply counts a reply in a linked thread. Replies in threads this
// bot never linked are ignored.
func (r *Router) HandleGroupReply(ctx context.Context, ev GroupReply) error {
	if ev.ChatID != r.cfg.GroupID || ev.ThreadID == 0 {
		metrics.ObserveEvent(EventGroupReply, metrics.OutcomeIgnored)
		return nil
	}

	channelMessageID, ok, err := r.links.ResolveChannelID(ctx, ev.ThreadID)
	if err != nil {
		metrics.ObserveEvent(EventGroupReply, metrics.OutcomeFailed)
		return fmt.Errorf("resolve channel message: %w", err)
	}
	if !ok {
		metrics.ObserveEvent(EventGroupReply, metrics.OutcomeIgnored)
		return nil
	}

	if err := r.comments.Increment(ctx, ev.ThreadID); err != nil {
		metrics.ObserveEvent(EventGroupReply, metrics.OutcomeFailed)
		return fmt.Errorf("increment comment count: %w", err)
	}
	metrics.ObserveEvent(EventGroupReply, metrics.OutcomeHandled)

	r.pushBestEffort(ctx, channelMessageID, ev.ThreadID)
	return nil
}

// HandleReactionClick records a user's reaction and refreshes the keyboard.
// Invalid categories and repeated reactions are answered with a visible
// notice and change nothing.
func (r *Router) HandleReactionClick(ctx context.Context, ev ReactionClick) error {
	if !ValidReaction(ev.Data) {
		r.answer(ctx, ev.ID, r.cfg.Notices.InvalidReaction, true)
		metrics.ObserveEvent(EventReactionClick, metrics.OutcomeRejected)
		return nil
	}

	reacted, err := r.ledger.HasReacted(ctx, ev.UserID, ev.MessageID, ev.Data)
	if err != nil {
		metrics.ObserveEvent(EventReactionClick, metrics.OutcomeFailed)
		return fmt.Errorf("check reaction: %w", err)
	}
	if reacted {
		r.answer(ctx, ev.ID, r.cfg.Notices.AlreadyReacted, true)
		metrics.ObserveEvent(EventReactionClick, metrics.OutcomeDuplicate)
		return nil
	}

	r.answer(ctx, ev.ID, "", false)

	recorded, err := r.ledger.Record(ctx, ev.UserID, ev.MessageID, ev.Data)
	if err != nil {
		metrics.ObserveEvent(EventReactionClick, metrics.OutcomeFailed)
		return fmt.Errorf("record reaction: %w", err)
	}
	if !recorded {
		// A concurrent click from the same user got there first.
		metrics.ObserveEvent(EventReactionClick, metrics.OutcomeDuplicate)
		return nil
	}
	metrics.ObserveReaction(ev.Data)

	threadID, ok, err := r.links.ResolveThreadID(ctx, ev.MessageID)
	if err != nil {
		metrics.ObserveEvent(EventReactionClick, metrics.OutcomeFailed)
		return fmt.Errorf("resolve thread: %w", err)
	}
	metrics.ObserveEvent(EventReactionClick, metrics.OutcomeHandled)
	if !ok {
		r.log.Debug("reaction on unlinked post", "channel_message_id", ev.MessageID)
		return nil
	}

	r.pushBestEffort(ctx, ev.MessageID, threadID)
	return nil
}

// Refresh renders the current keyboard of a channel post and replaces the
// one attached to it.
func (r *Router) Refresh(ctx context.Context, channelMessageID, threadMessageID int) error {
	kb, err := r.Keyboard(ctx, channelMessageID, threadMessageID)
	if err != nil {
		metrics.ObservePush(metrics.PushRenderFailed)
		return fmt.Errorf("render keyboard: %w", err)
	}
	if err := r.transport.EditKeyboard(ctx, r.cfg.ChannelID, channelMessageID, kb); err != nil {
		metrics.ObservePush(metrics.PushFailed)
		return fmt.Errorf("edit keyboard: %w", err)
	}
	metrics.ObservePush(metrics.PushOK)
	return nil
}

// Keyboard reads the current counters and emoji pair of a channel post and
// renders its keyboard.
func (r *Router) Keyboard(ctx context.Context, channelMessageID, threadMessageID int) (Keyboard, error) {
	hotdog, err := r.ledger.Count(ctx, channelMessageID, ReactionHotdog)
	if err != nil {
		return Keyboard{}, fmt.Errorf("count %s: %w", ReactionHotdog, err)
	}
	drunk, err := r.ledger.Count(ctx, channelMessageID, ReactionDrunk)
	if err != nil {
		return Keyboard{}, fmt.Errorf("count %s: %w", ReactionDrunk, err)
	}
	comments, err := r.comments.Count(ctx, channelMessageID)
	if err != nil {
		return Keyboard{}, fmt.Errorf("count comments: %w", err)
	}

	var pair *EmojiPair
	assigned, ok, err := r.emoji.EmojiAssignment(ctx, channelMessageID)
	if err != nil {
		return Keyboard{}, fmt.Errorf("load emoji assignment: %w", err)
	}
	if ok {
		pair = &EmojiPair{First: assigned.First, Second: assigned.Second}
	}

	return Render(r.fragment, threadMessageID, hotdog, drunk, comments, pair), nil
}

// pushBestEffort refreshes the keyboard and discards any failure. The event
// that triggered it counts as handled either way.
func (r *Router) pushBestEffort(ctx context.Context, channelMessageID, threadMessageID int) {
	if err := r.Refresh(ctx, channelMessageID, threadMessageID); err != nil {
		r.log.Warn("keyboard update dropped",
			"channel_message_id", channelMessageID,
			"thread_message_id", threadMessageID,
			"error", err,
		)
	}
}

func (r *Router) answer(ctx context.Context, clickID, text string, alert bool) {
	if err := r.transport.AnswerClick(ctx, clickID, text, alert); err != nil {
		r.log.Warn("failed to answer click", "click_id", clickID, "error", err)
	}
}
