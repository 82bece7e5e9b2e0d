package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relay-bot/relay"
)

// UpdateSource fetches updates by long polling.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]Update, error)
}

// Handler receives the classified relay events.
type Handler interface {
	HandleForwardedPost(ctx context.Context, ev relay.ForwardedChannelPost) error
	HandleGroupReply(ctx context.Context, ev relay.GroupReply) error
	HandleReactionClick(ctx context.Context, ev relay.ReactionClick) error
}

// Poller pulls updates and dispatches each to its own goroutine, bounded by
// a worker limit.
type Poller struct {
	source     UpdateSource
	handler    Handler
	groupID    int64
	timeout    time.Duration
	workers    int
	retryDelay time.Duration
	log        *slog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollTimeout sets the long-polling timeout.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.timeout = d
	}
}

// WithWorkers sets how many updates may be handled at once.
func WithWorkers(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithRetryDelay sets the pause after a failed getUpdates call.
func WithRetryDelay(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.retryDelay = d
	}
}

// NewPoller creates a poller feeding handler. groupID identifies the
// discussion group, needed to tell thread replies apart.
func NewPoller(source UpdateSource, handler Handler, groupID int64, log *slog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		source:     source,
		handler:    handler,
		groupID:    groupID,
		timeout:    30 * time.Second,
		workers:    4,
		retryDelay: time.Second,
		log:        log.With("component", "bot.Poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is canceled, then waits for in-flight handlers.
// Handlers run on a context detached from ctx's cancellation so that an
// update already taken off the queue is fully applied.
func (p *Poller) Run(ctx context.Context) {
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	handlerCtx := context.WithoutCancel(ctx)
	offset := 0

	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := p.source.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("failed to get updates", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			wg.Add(1)
			go func(u Update) {
				defer wg.Done()
				defer func() { <-sem }()
				p.Dispatch(handlerCtx, u)
			}(update)
		}
	}
}

// Dispatch classifies one update and hands it to the matching handler.
// Handler errors are logged and never stop polling.
func (p *Poller) Dispatch(ctx context.Context, u Update) {
	var (
		event string
		err   error
	)

	switch {
	case u.Message != nil:
		switch ev := classifyMessage(u.Message, p.groupID).(type) {
		case relay.GroupReply:
			event = relay.EventGroupReply
			err = p.handler.HandleGroupReply(ctx, ev)
		case relay.ForwardedChannelPost:
			event = relay.EventForwardedPost
			err = p.handler.HandleForwardedPost(ctx, ev)
		}
	case u.CallbackQuery != nil:
		click, ok := classifyCallback(u.CallbackQuery)
		if !ok {
			p.log.Debug("callback without message", "update_id", u.UpdateID)
			return
		}
		event = relay.EventReactionClick
		err = p.handler.HandleReactionClick(ctx, click)
	default:
		return
	}

	if err != nil {
		p.log.Error("failed to handle update", "update_id", u.UpdateID, "event", event, "error", err)
	}
}
