package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yggdrasil",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yggdrasil",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	lobbyIntents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yggdrasil",
			Subsystem: "lobby",
			Name:      "intents_total",
			Help:      "Intents applied by the session manager.",
		},
		[]string{"kind"},
	)
	lobbyEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "yggdrasil",
			Subsystem: "lobby",
			Name:      "events_dropped_total",
			Help:      "Lobby events dropped because a subscriber queue was full.",
		},
	)
	lobbyClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "yggdrasil",
			Subsystem: "lobby",
			Name:      "clients",
			Help:      "Known clients by status.",
		},
		[]string{"status"},
	)
	lobbyGames = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "yggdrasil",
			Subsystem: "lobby",
			Name:      "games",
			Help:      "Active games.",
		},
	)
	tcpConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "yggdrasil",
			Subsystem: "tcp",
			Name:      "connections_active",
			Help:      "Open lobby TCP connections.",
		},
	)
	udpDatagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yggdrasil",
			Subsystem: "udp",
			Name:      "datagrams_total",
			Help:      "Datagrams handled by direction and kind.",
		},
		[]string{"direction", "kind"},
	)
	reliableResends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yggdrasil",
			Subsystem: "reliable",
			Name:      "resends_total",
			Help:      "Datagram retransmissions by outcome.",
		},
		[]string{"outcome"},
	)
	reliableRTT = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "yggdrasil",
			Subsystem: "reliable",
			Name:      "rtt_seconds",
			Help:      "Round-trip estimate after each acknowledgment.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			lobbyIntents, lobbyEventsDropped, lobbyClients, lobbyGames,
			tcpConnections, udpDatagrams,
			reliableResends, reliableRTT,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordIntent(kind string) {
	RegisterMetrics()
	lobbyIntents.WithLabelValues(kind).Inc()
}

func RecordEventDropped() {
	RegisterMetrics()
	lobbyEventsDropped.Inc()
}

func SetLobbySize(active, idle, games int) {
	RegisterMetrics()
	lobbyClients.WithLabelValues("active").Set(float64(active))
	lobbyClients.WithLabelValues("idle").Set(float64(idle))
	lobbyGames.Set(float64(games))
}

func ConnectionOpened() {
	RegisterMetrics()
	tcpConnections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	tcpConnections.Dec()
}

func RecordDatagram(direction, kind string) {
	RegisterMetrics()
	udpDatagrams.WithLabelValues(direction, kind).Inc()
}

func RecordResend(evicted bool) {
	RegisterMetrics()
	outcome := "sent"
	if evicted {
		outcome = "evicted"
	}
	reliableResends.WithLabelValues(outcome).Inc()
}

func ObserveRTT(d time.Duration) {
	RegisterMetrics()
	reliableRTT.Observe(d.Seconds())
}
