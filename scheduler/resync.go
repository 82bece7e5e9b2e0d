package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"relay-bot/storage"
)

// LinkageLister lists the most recently created linkages.
type LinkageLister interface {
	RecentLinkages(ctx context.Context, limit int) ([]storage.Linkage, error)
}

// Refresher re-pushes the keyboard of one channel post.
type Refresher interface {
	Refresh(ctx context.Context, channelMessageID, threadMessageID int) error
}

// Resync re-renders the keyboards of recent posts so that edits dropped by
// best-effort pushes eventually land. It never changes counters.
type Resync struct {
	links     LinkageLister
	refresher Refresher
	depth     int
	log       *slog.Logger
}

// NewResync creates a resync job covering the depth most recent posts.
func NewResync(links LinkageLister, refresher Refresher, depth int, log *slog.Logger) *Resync {
	return &Resync{
		links:     links,
		refresher: refresher,
		depth:     depth,
		log:       log.With("component", "scheduler.Resync"),
	}
}

// Run refreshes every recent post once and returns how many pushes succeeded.
// Individual push failures are logged and skipped.
func (r *Resync) Run(ctx context.Context) (int, error) {
	links, err := r.links.RecentLinkages(ctx, r.depth)
	if err != nil {
		return 0, fmt.Errorf("list recent linkages: %w", err)
	}

	refreshed := 0
	for _, l := range links {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if err := r.refresher.Refresh(ctx, l.ChannelMessageID, l.ThreadMessageID); err != nil {
			r.log.Debug("resync push failed", "channel_message_id", l.ChannelMessageID, "error", err)
			continue
		}
		refreshed++
	}

	r.log.Info("resync finished", "posts", len(links), "refreshed", refreshed)
	return refreshed, nil
}

// Job adapts Run to a cron callback bound to ctx.
func (r *Resync) Job(ctx context.Context) func() {
	return func() {
		if _, err := r.Run(ctx); err != nil {
			r.log.Warn("resync failed", "error", err)
		}
	}
}
