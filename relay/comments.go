package relay

import "context"

// Comments counts replies in linked discussion threads. It holds no state of
// its own; the counter lives on the linkage.
type Comments struct {
	links *Linkages
}

// NewComments creates a comment counter backed by links.
func NewComments(links *Linkages) *Comments {
	return &Comments{links: links}
}

// Count returns the number of replies for a channel post.
func (c *Comments) Count(ctx context.Context, channelMessageID int) (int, error) {
	return c.links.CommentCount(ctx, channelMessageID)
}

// Increment counts one more reply in the thread.
func (c *Comments) Increment(ctx context.Context, threadMessageID int) error {
	return c.links.IncrementCommentCount(ctx, threadMessageID)
}
