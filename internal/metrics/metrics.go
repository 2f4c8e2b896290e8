package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connectify_ws_active_sessions",
		Help: "Registered websocket sessions",
	})
	OnlineIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connectify_online_identities",
		Help: "Identities with at least one session",
	})
	PresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connectify_presence_transitions_total",
		Help: "Online/offline transitions observed by the registry",
	}, []string{"state"})
	PresenceDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connectify_presence_events_dropped_total",
		Help: "Presence events dropped because the fan-out queue was full",
	})
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connectify_deliveries_total",
		Help: "Frames pushed to sessions by result",
	}, []string{"result"})
	Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connectify_stale_sessions_evicted_total",
		Help: "Sessions unregistered after a failed push",
	})
	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connectify_ws_inbound_events_total",
		Help: "Inbound websocket events by name and outcome",
	}, []string{"event", "outcome"})
	MessageOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connectify_message_ops_total",
		Help: "Message store operations by kind and outcome",
	}, []string{"op", "outcome"})
)

var once sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			ActiveSessions,
			OnlineIdentities,
			PresenceTransitions,
			PresenceDropped,
			Deliveries,
			Evictions,
			InboundEvents,
			MessageOps,
		)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
