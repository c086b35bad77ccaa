package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vincentbai/browsetrace/internal/models"
)

var (
	initOnce sync.Once

	eventsCapturedCounter *prometheus.CounterVec
	eventsDroppedCounter  *prometheus.CounterVec
	replayOutcomesCounter *prometheus.CounterVec
	replayActionDuration  prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		eventsCapturedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsetrace_events_captured_total",
				Help: "Total number of events appended to a session log by kind.",
			},
			[]string{"kind"},
		)

		eventsDroppedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsetrace_events_dropped_total",
				Help: "Total number of occurrences dropped before reaching the log by reason.",
			},
			[]string{"reason"},
		)

		replayOutcomesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsetrace_replay_outcomes_total",
				Help: "Total number of replayed events by outcome status.",
			},
			[]string{"status"},
		)

		replayActionDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "browsetrace_replay_action_duration_seconds",
				Help:    "Duration of replayed browser actions in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			eventsCapturedCounter,
			eventsDroppedCounter,
			replayOutcomesCounter,
			replayActionDuration,
		)

		// Ensure vectors are visible at /metrics before first increment.
		for _, kind := range []models.Kind{
			models.KindClick,
			models.KindInput,
			models.KindKeyPress,
			models.KindRequest,
			models.KindResponse,
		} {
			eventsCapturedCounter.WithLabelValues(string(kind))
		}
		for _, status := range []models.Status{
			models.StatusApplied,
			models.StatusSkipped,
			models.StatusFailed,
		} {
			replayOutcomesCounter.WithLabelValues(string(status))
		}
	})
}

func IncCaptured(kind models.Kind) {
	Init()
	eventsCapturedCounter.WithLabelValues(string(kind)).Inc()
}

func IncDropped(reason string) {
	Init()
	eventsDroppedCounter.WithLabelValues(reason).Inc()
}

func IncReplayOutcome(status models.Status) {
	Init()
	replayOutcomesCounter.WithLabelValues(string(status)).Inc()
}

func ObserveReplayAction(d time.Duration) {
	Init()
	replayActionDuration.Observe(d.Seconds())
}
