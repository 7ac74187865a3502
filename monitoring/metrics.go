package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_waiting_tickets",
			Help: "Current number of waiting tickets per service type",
		},
		[]string{"service_type"},
	)

	ticketTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_transitions_total",
			Help: "Total ticket status transitions",
		},
		[]string{"from", "to"},
	)

	callNextResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_next_total",
			Help: "Call-next requests by result",
		},
		[]string{"result"},
	)

	claimConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_conflicts_total",
			Help: "Compare-and-swap claim failures retried internally",
		},
		[]string{"service_type"},
	)

	ticketWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticket_wait_seconds",
			Help:    "Time from check-in to assignment",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		},
		[]string{"service_type"},
	)

	droppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_events_dropped_total",
			Help: "Queue events dropped because the dispatch buffer was full",
		},
	)
)

type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) SetQueueDepth(serviceType string, depth int) {
	queueDepth.WithLabelValues(serviceType).Set(float64(depth))
}

func (m *Monitor) TrackTransition(from, to string) {
	ticketTransitions.WithLabelValues(from, to).Inc()
}

func (m *Monitor) TrackCallNext(result string) {
	callNextResults.WithLabelValues(result).Inc()
}

func (m *Monitor) TrackClaimConflict(serviceType string) {
	claimConflicts.WithLabelValues(serviceType).Inc()
}

func (m *Monitor) TrackAssignment(serviceType string, wait time.Duration) {
	ticketWait.WithLabelValues(serviceType).Observe(wait.Seconds())
}

func (m *Monitor) TrackDroppedEvent() {
	droppedEvents.Inc()
}
