package relay

import (
	"context"

	"github.com/samber/lo"
)

// Reaction categories accepted from the keyboard.
const (
	ReactionHotdog = "hotdog"
	ReactionDrunk  = "drunk"
)

// ReactionTypes lists the accepted categories in keyboard order.
var ReactionTypes = []string{ReactionHotdog, ReactionDrunk}

// ValidReaction reports whether tag is an accepted reaction category.
func ValidReaction(tag string) bool {
	return lo.Contains(ReactionTypes, tag)
}

// ReactionStore persists per-user reactions.
type ReactionStore interface {
	HasReaction(ctx context.Context, userID int64, messageID int, reactionType string) (bool, error)
	InsertReaction(ctx context.Context, userID int64, messageID int, reactionType string) (bool, error)
	CountReactions(ctx context.Context, messageID int, reactionType string) (int, error)
}

// Ledger records reactions, at most one per (user, message, type).
type Ledger struct {
	store ReactionStore
}

// NewLedger creates a reaction ledger over store.
func NewLedger(store ReactionStore) *Ledger {
	return &Ledger{store: store}
}

// HasReacted reports whether the user already reacted with this type.
func (l *Ledger) HasReacted(ctx context.Context, userID int64, messageID int, reactionType string) (bool, error) {
	return l.store.HasReaction(ctx, userID, messageID, reactionType)
}

// Record stores the reaction. recorded is false when a concurrent click from
// the same user already stored it.
func (l *Ledger) Record(ctx context.Context, userID int64, messageID int, reactionType string) (recorded bool, err error) {
	return l.store.InsertReaction(ctx, userID, messageID, reactionType)
}

// Count returns the number of reactions of reactionType on the message.
func (l *Ledger) Count(ctx context.Context, messageID int, reactionType string) (int, error) {
	return l.store.CountReactions(ctx, messageID, reactionType)
}
