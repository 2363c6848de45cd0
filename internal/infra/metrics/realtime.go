package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		realtimeEventsTotal,
		realtimeReconnectsTotal,
		realtimeSubscriptions,
	)
}

var (
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Change-feed events delivered to subscribers, labeled by event type.",
		},
		[]string{"event"},
	)

	realtimeReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_reconnects_total",
			Help: "Change-feed reconnect attempts.",
		},
	)

	realtimeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscriptions",
			Help: "Currently open change-feed subscriptions.",
		},
	)
)

func IncRealtimeEvent(event string) {
	realtimeEventsTotal.WithLabelValues(norm(event)).Inc()
}

func IncRealtimeReconnect() { realtimeReconnectsTotal.Inc() }

func RealtimeSubscriptionOpened() { realtimeSubscriptions.Inc() }
func RealtimeSubscriptionClosed() { realtimeSubscriptions.Dec() }
