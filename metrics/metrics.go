package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes.
const (
	OutcomeHandled   = "handled"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Keyboard push results.
const (
	PushOK           = "ok"
	PushFailed       = "failed"
	PushRenderFailed = "render_failed"
)

var (
	events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Inbound events by kind and outcome.",
	}, []string{"event", "outcome"})

	keyboardPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_keyboard_pushes_total",
		Help: "Best-effort keyboard edits by result.",
	}, []string{"result"})

	reactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reactions_total",
		Help: "Recorded reactions by category.",
	}, []string{"type"})
)

// ObserveEvent counts one inbound event.
func ObserveEvent(event, outcome string) {
	events.WithLabelValues(event, outcome).Inc()
}

// ObservePush counts one keyboard push attempt.
func ObservePush(result string) {
	keyboardPushes.WithLabelValues(result).Inc()
}

// ObserveReaction counts one recorded reaction.
func ObserveReaction(reactionType string) {
	reactions.WithLabelValues(reactionType).Inc()
}

// EventCount returns the counter for an event kind and outcome.
func EventCount(event, outcome string) prometheus.Counter {
	return events.WithLabelValues(event, outcome)
}

// PushCount returns the push counter for result.
func PushCount(result string) prometheus.Counter {
	return keyboardPushes.WithLabelValues(result)
}
