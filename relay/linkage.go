package relay

import (
	"context"

	"relay-bot/storage"
)

// ErrDuplicateLinkage is returned by Linkages.Create when the channel post or
// the thread is already linked.
var ErrDuplicateLinkage = storage.ErrDuplicateLinkage

// LinkageStore persists channel post ↔ thread linkages and their comment counters.
type LinkageStore interface {
	InsertLinkage(ctx context.Context, channelMessageID, threadMessageID int) error
	ChannelMessageID(ctx context.Context, threadMessageID int) (int, bool, error)
	ThreadMessageID(ctx context.Context, channelMessageID int) (int, bool, error)
	CommentCount(ctx context.Context, channelMessageID int) (int, error)
	IncrementCommentCount(ctx context.Context, threadMessageID int) (bool, error)
}

// Linkages translates between channel message ids and group thread ids.
type Linkages struct {
	store LinkageStore
}

// NewLinkages creates a linkage resolver over store.
func NewLinkages(store LinkageStore) *Linkages {
	return &Linkages{store: store}
}

// Create links a channel post to the thread rooted at its mirrored copy.
func (l *Linkages) Create(ctx context.Context, channelMessageID, threadMessageID int) error {
	return l.store.InsertLinkage(ctx, channelMessageID, threadMessageID)
}

// ResolveChannelID returns the channel post linked to threadMessageID. ok is
// false for threads this bot never linked.
func (l *Linkages) ResolveChannelID(ctx context.Context, threadMessageID int) (id int, ok bool, err error) {
	return l.store.ChannelMessageID(ctx, threadMessageID)
}

// ResolveThreadID returns the thread linked to channelMessageID.
func (l *Linkages) ResolveThreadID(ctx context.Context, channelMessageID int) (id int, ok bool, err error) {
	return l.store.ThreadMessageID(ctx, channelMessageID)
}

// CommentCount returns the reply count of a channel post, 0 when unlinked.
func (l *Linkages) CommentCount(ctx context.Context, channelMessageID int) (int, error) {
	return l.store.CommentCount(ctx, channelMessageID)
}

// IncrementCommentCount adds one reply to the thread. Unknown threads are a no-op.
func (l *Linkages) IncrementCommentCount(ctx context.Context, threadMessageID int) error {
	_, err := l.store.IncrementCommentCount(ctx, threadMessageID)
	return err
}
