package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_relay_active_connections",
			Help: "Number of open client connections",
		},
	)

	EventsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_relay_events_relayed_total",
			Help: "Total events relayed",
		},
		[]string{"direction"},
	)

	QuotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_relay_quota_rejections_total",
			Help: "Connections refused because the monthly quota was exceeded",
		},
	)

	AdmissionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_relay_admission_failures_total",
			Help: "Connections refused before an upstream session was opened",
		},
		[]string{"reason"},
	)

	EnrichmentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_relay_enrichment_failures_total",
			Help: "Auxiliary lookups that failed and were skipped",
		},
		[]string{"stage"},
	)

	BufferedMessages = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voice_relay_buffered_messages",
			Help:    "Messages queued per connection before upstream readiness",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voice_relay_turn_duration_seconds",
			Help:    "Time from captured question to completed answer",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60},
		},
	)

	ConversationsLogged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_relay_conversations_logged_total",
			Help: "Conversation log attempts",
		},
		[]string{"status"},
	)

	ContextCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_relay_cache_hits_total",
			Help: "Cache hits and misses",
		},
		[]string{"cache_type", "outcome"},
	)
)

func Init() {
	prometheus.MustRegister(ActiveConnections)
	prometheus.MustRegister(EventsRelayed)
	prometheus.MustRegister(QuotaRejections)
	prometheus.MustRegister(AdmissionFailures)
	prometheus.MustRegister(EnrichmentFailures)
	prometheus.MustRegister(BufferedMessages)
	prometheus.MustRegister(TurnDuration)
	prometheus.MustRegister(ConversationsLogged)
	prometheus.MustRegister(ContextCacheHits)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
